// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// Every state-changing ledger operation emits an audit event so downstream
// consumers (indexers, notification workers) can follow the marketplace.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/insurechain/insurechain-ledger-go/internal/model"
)

// Publisher defines the audit events emitted by the ledger engine.
type Publisher interface {
	PublishUserRegistered(ctx context.Context, account model.Account) error
	PublishPolicyCreated(ctx context.Context, policy model.Policy) error
	PublishPolicyPurchased(ctx context.Context, result model.PurchaseResult, owner string) error
	PublishInstallmentPaid(ctx context.Context, escrow model.EscrowRecord) error
	PublishClaimSubmitted(ctx context.Context, claim model.Claim) error
	PublishClaimApproved(ctx context.Context, claim model.Claim) error
	PublishOracleRequestStored(ctx context.Context, req model.OracleRequest) error
	PublishOracleStatusUpdated(ctx context.Context, req model.OracleRequest) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
// It lets the service run without event streaming.
type noop struct{}

func (n *noop) Close() error { return nil }

func (n *noop) PublishUserRegistered(ctx context.Context, account model.Account) error { return nil }
func (n *noop) PublishPolicyCreated(ctx context.Context, policy model.Policy) error    { return nil }
func (n *noop) PublishPolicyPurchased(ctx context.Context, result model.PurchaseResult, owner string) error {
	return nil
}
func (n *noop) PublishInstallmentPaid(ctx context.Context, escrow model.EscrowRecord) error {
	return nil
}
func (n *noop) PublishClaimSubmitted(ctx context.Context, claim model.Claim) error { return nil }
func (n *noop) PublishClaimApproved(ctx context.Context, claim model.Claim) error  { return nil }
func (n *noop) PublishOracleRequestStored(ctx context.Context, req model.OracleRequest) error {
	return nil
}
func (n *noop) PublishOracleStatusUpdated(ctx context.Context, req model.OracleRequest) error {
	return nil
}

// NewNoop returns a publisher that drops every event.
func NewNoop() Publisher { return &noop{} }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn            // NATS connection
	js nats.JetStreamContext // JetStream context for stream operations

	// Deduplication: subject+key of recently published events
	dedup map[string]time.Time
	mutex sync.RWMutex
}

// NewPublisherFromEnv creates a publisher based on environment configuration.
// It reads INS_NATS_URL; when unset or the connection fails it falls back to
// a no-op publisher so the ledger keeps serving.
func NewPublisherFromEnv() Publisher {
	url := os.Getenv("INS_NATS_URL")
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStream(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{
		nc:    nc,
		js:    js,
		dedup: make(map[string]time.Time),
	}
}

// initStream creates the INS_LEDGER stream that carries every ledger subject.
func initStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "INS_LEDGER",
		Subjects:  []string{"insurance.ledger.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create INS_LEDGER stream: %w", err)
	}
	return nil
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// shouldDedup reports whether subject+key was published within the 2-minute
// dedup window. Retried HTTP requests would otherwise double-publish.
func (p *natsPub) shouldDedup(key string) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if lastTime, exists := p.dedup[key]; exists {
		return time.Since(lastTime) < 2*time.Minute
	}
	return false
}

// updateDedup records a publish and evicts stale entries.
func (p *natsPub) updateDedup(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}

	p.dedup[key] = time.Now()
}

// publish wraps payload in an envelope and publishes it on the given subject.
// key identifies the entity for deduplication; an empty key disables dedup.
func (p *natsPub) publish(subject, key string, payload interface{}) error {
	dedupKey := subject + "/" + key
	if key != "" && p.shouldDedup(dedupKey) {
		return nil
	}

	envelope := EventEnvelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(subject, b); err != nil {
		return err
	}

	if key != "" {
		p.updateDedup(dedupKey)
	}
	return nil
}

func (p *natsPub) PublishUserRegistered(ctx context.Context, account model.Account) error {
	return p.publish("insurance.ledger.user_registered", account.Address, account)
}

func (p *natsPub) PublishPolicyCreated(ctx context.Context, policy model.Policy) error {
	return p.publish("insurance.ledger.policy_created", fmt.Sprintf("policy-%d", policy.ID), policy)
}

func (p *natsPub) PublishPolicyPurchased(ctx context.Context, result model.PurchaseResult, owner string) error {
	payload := struct {
		model.PurchaseResult
		Owner string `json:"owner"`
	}{result, owner}
	return p.publish("insurance.ledger.policy_purchased", result.TokenID, payload)
}

func (p *natsPub) PublishInstallmentPaid(ctx context.Context, escrow model.EscrowRecord) error {
	key := fmt.Sprintf("escrow-%d-%d", escrow.ID, escrow.PaymentsMade)
	return p.publish("insurance.ledger.installment_paid", key, escrow)
}

func (p *natsPub) PublishClaimSubmitted(ctx context.Context, claim model.Claim) error {
	return p.publish("insurance.ledger.claim_submitted", fmt.Sprintf("claim-%d", claim.ID), claim)
}

func (p *natsPub) PublishClaimApproved(ctx context.Context, claim model.Claim) error {
	return p.publish("insurance.ledger.claim_approved", fmt.Sprintf("claim-%d-approved", claim.ID), claim)
}

func (p *natsPub) PublishOracleRequestStored(ctx context.Context, req model.OracleRequest) error {
	return p.publish("insurance.ledger.oracle_request_stored", req.RequestID, req)
}

func (p *natsPub) PublishOracleStatusUpdated(ctx context.Context, req model.OracleRequest) error {
	key := req.RequestID + "-" + string(req.Status)
	return p.publish("insurance.ledger.oracle_status_updated", key, req)
}
