// internal/ledger/catalog.go
// Policy catalog: admin-managed, immutable product definitions with dense
// sequential ids.
package ledger

import (
	"context"
	"errors"
	"time"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

// CreatePolicy stores a new policy from the given params and returns its id.
// Only admins may create policies; policies are immutable once stored.
func (e *Engine) CreatePolicy(ctx context.Context, caller string, params model.PolicyParams) (policy *model.Policy, err error) {
	defer e.observe("create_policy", time.Now(), &err)

	if err = e.requireAdmin(ctx, caller); err != nil {
		return nil, err
	}
	if err = validatePolicyParams(params); err != nil {
		return nil, err
	}

	// Allocated before the transaction so an aborted create never frees the id.
	id, err := e.store.NextPolicyID(ctx)
	if err != nil {
		return nil, err
	}

	p := model.Policy{
		ID:                id,
		Title:             params.Title,
		Description:       params.Description,
		Type:              params.Type,
		MonthlyPremium:    params.MonthlyPremium,
		YearlyPremium:     params.YearlyPremium,
		CoverageAmount:    params.CoverageAmount,
		MinAge:            params.MinAge,
		MaxAge:            params.MaxAge,
		DurationDays:      params.DurationDays,
		WaitingPeriodDays: params.WaitingPeriodDays,
		CreatedAt:         e.now().UTC(),
		CreatedBy:         caller,
	}
	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.PutPolicy(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	e.emit("policy_created", e.events.PublishPolicyCreated(ctx, p))
	e.log.Info("policy created", "policyId", id, "title", p.Title, "createdBy", caller)
	return &p, nil
}

func validatePolicyParams(params model.PolicyParams) error {
	switch {
	case params.Title == "":
		return failf(inerr.INS_VALIDATION, "policy title is required")
	case params.MonthlyPremium == nil || params.MonthlyPremium.Sign() <= 0:
		return failf(inerr.INS_VALIDATION, "monthly premium must be positive")
	case params.YearlyPremium == nil || params.YearlyPremium.Sign() <= 0:
		return failf(inerr.INS_VALIDATION, "yearly premium must be positive")
	case params.CoverageAmount == nil || params.CoverageAmount.Sign() <= 0:
		return failf(inerr.INS_VALIDATION, "coverage amount must be positive")
	case params.MinAge > params.MaxAge:
		return failf(inerr.INS_VALIDATION, "minimum age exceeds maximum age")
	case params.DurationDays == 0:
		return failf(inerr.INS_VALIDATION, "duration must be at least one day")
	}
	switch params.Type {
	case model.PolicyTypeHealth, model.PolicyTypeLife, model.PolicyTypeAuto, model.PolicyTypeHome, model.PolicyTypeTravel:
		return nil
	default:
		return failf(inerr.INS_VALIDATION, "unknown policy type %q", params.Type)
	}
}

// GetPolicy returns the policy with the given id.
func (e *Engine) GetPolicy(ctx context.Context, id uint64) (*model.Policy, error) {
	policy, err := e.store.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, failf(inerr.INS_POLICY_NOT_FOUND, "policy %d not found", id)
		}
		return nil, err
	}
	return policy, nil
}

// ListPolicies returns every policy in ascending id order. Enumeration is
// dense: ids are never skipped or deleted.
func (e *Engine) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	return e.store.ListPolicies(ctx)
}

// GetPolicyTokens returns the token ids minted against a policy.
func (e *Engine) GetPolicyTokens(ctx context.Context, policyID uint64) ([]string, error) {
	if _, err := e.GetPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	return e.store.ListPolicyTokens(ctx, policyID)
}
