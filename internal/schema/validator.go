// internal/schema/validator.go
// Package schema provides JSON schema validation for externally produced
// payloads before they reach the ledger engine: admin-supplied policy
// definitions and oracle callback bodies.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Payload kinds with a registered schema.
const (
	KindPolicyParams = "insurance.policy.params"
	KindOracleStatus = "insurance.oracle.status"
)

// Embedded schema documents. Monetary amounts travel as JSON integers in the
// quoted currency's smallest unit.
var schemaDocs = map[string]string{
	KindPolicyParams: `{
		"type": "object",
		"required": ["title", "type", "monthlyPremium", "yearlyPremium", "coverageAmount", "durationDays"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 256},
			"description": {"type": "string", "maxLength": 4096},
			"type": {"type": "string", "enum": ["health", "life", "auto", "home", "travel"]},
			"monthlyPremium": {"type": "integer", "minimum": 1},
			"yearlyPremium": {"type": "integer", "minimum": 1},
			"coverageAmount": {"type": "integer", "minimum": 1},
			"minAge": {"type": "integer", "minimum": 0},
			"maxAge": {"type": "integer", "minimum": 0},
			"durationDays": {"type": "integer", "minimum": 1},
			"waitingPeriodDays": {"type": "integer", "minimum": 0}
		}
	}`,
	KindOracleStatus: `{
		"type": "object",
		"required": ["status"],
		"properties": {
			"status": {"type": "string", "enum": ["completed", "failed"]}
		}
	}`,
}

// Validator validates payloads against their registered JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles all registered schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for kind, doc := range schemaDocs {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", kind, err)
		}
		v.schemas[kind] = schema
	}
	return v, nil
}

// Validate checks raw JSON against the schema registered for kind.
// Returns nil if valid, an error listing every violation otherwise.
func (v *Validator) Validate(kind string, payload json.RawMessage) error {
	schema, exists := v.schemas[kind]
	if !exists {
		return fmt.Errorf("no schema registered for %s", kind)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
