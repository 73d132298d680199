// internal/ledger/claims.go
// Claims engine: submission, risk-score adjudication, admin approval, and
// payout triggering.
package ledger

import (
	"context"
	"errors"
	"time"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

// adjudicate maps an oracle risk score in [0,100] onto a claim status.
// Band boundaries are inclusive on the low end.
func adjudicate(riskScore uint32) model.ClaimStatus {
	switch {
	case riskScore <= 30:
		return model.ClaimStatusApproved
	case riskScore <= 70:
		return model.ClaimStatusPending
	default:
		return model.ClaimStatusRejected
	}
}

// SubmitClaim records a payout request against a policy the caller actively
// owns. The claim amount always equals the policy's coverage amount. The
// status is a pure function of the risk score; approved claims pay out
// immediately.
//
// A payout transfer failure leaves the approved claim recorded and surfaces
// INS_TRANSFER_FAILED so the disbursement can be retried out of band.
func (e *Engine) SubmitClaim(ctx context.Context, caller string, req model.SubmitClaimRequest) (claim *model.Claim, err error) {
	defer e.observe("submit_claim", time.Now(), &err)

	if _, err = e.requirePolicyholder(ctx, caller); err != nil {
		return nil, err
	}
	policy, err := e.GetPolicy(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}
	if req.RiskScore > 100 {
		return nil, failf(inerr.INS_VALIDATION, "risk score %d is outside [0,100]", req.RiskScore)
	}

	// Linear scan over the caller's own purchases.
	ownerships, err := e.store.ListOwnerships(ctx, caller)
	if err != nil {
		return nil, err
	}
	owned := false
	for _, rec := range ownerships {
		if rec.PolicyID == req.PolicyID && rec.Active {
			owned = true
			break
		}
	}
	if !owned {
		return nil, failf(inerr.INS_POLICY_NOT_FOUND, "caller holds no active coverage for policy %d", req.PolicyID)
	}

	id, err := e.store.NextClaimID(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	c := model.Claim{
		ID:              id,
		PolicyID:        policy.ID,
		Owner:           caller,
		Amount:          policy.CoverageAmount,
		RiskScore:       req.RiskScore,
		Status:          adjudicate(req.RiskScore),
		ClaimedAt:       now,
		ProcessedAt:     now,
		HealthID:        req.HealthID,
		DocumentCID:     req.DocumentCID,
		OracleRequestID: req.OracleRequestID,
		Description:     req.Description,
		ProviderName:    req.ProviderName,
	}
	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.PutClaim(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ClaimAdjudicationTotal.WithLabelValues(string(c.Status)).Inc()
	e.emit("claim_submitted", e.events.PublishClaimSubmitted(ctx, c))
	e.log.Info("claim submitted",
		"claimId", id, "policyId", policy.ID, "owner", caller, "riskScore", req.RiskScore, "status", c.Status)

	if c.Status == model.ClaimStatusApproved {
		if err = e.payout(ctx, caller, c.Amount); err != nil {
			// The claim stays recorded as approved; only the disbursement failed.
			return &c, err
		}
	}
	return &c, nil
}

// ApproveClaim transitions a pending claim to approved and pays out the
// coverage amount. Only admins may approve; approved and rejected claims are
// terminal, so a second approval fails with INS_CLAIM_NOT_PENDING.
func (e *Engine) ApproveClaim(ctx context.Context, caller string, claimID uint64) (claim *model.Claim, err error) {
	defer e.observe("approve_claim", time.Now(), &err)

	if err = e.requireAdmin(ctx, caller); err != nil {
		return nil, err
	}
	claim, err = e.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != model.ClaimStatusPending {
		return nil, failf(inerr.INS_CLAIM_NOT_PENDING, "claim %d is %s, not pending", claimID, claim.Status)
	}

	claim.Status = model.ClaimStatusApproved
	claim.ProcessedAt = e.now().UTC()
	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.PutClaim(ctx, *claim)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ClaimAdjudicationTotal.WithLabelValues(string(model.ClaimStatusApproved)).Inc()
	e.emit("claim_approved", e.events.PublishClaimApproved(ctx, *claim))
	e.log.Info("claim approved", "claimId", claimID, "admin", caller, "amount", claim.Amount)

	if err = e.payout(ctx, claim.Owner, claim.Amount); err != nil {
		return claim, err
	}
	return claim, nil
}

// GetClaim returns the claim with the given id.
func (e *Engine) GetClaim(ctx context.Context, id uint64) (*model.Claim, error) {
	claim, err := e.store.GetClaim(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, failf(inerr.INS_CLAIM_NOT_FOUND, "claim %d not found", id)
		}
		return nil, err
	}
	return claim, nil
}

// ListAllClaims returns every claim in ascending id order.
func (e *Engine) ListAllClaims(ctx context.Context) ([]model.Claim, error) {
	return e.store.ListClaims(ctx)
}

// ListClaimsByOwner returns a registered address's claims in submission order.
func (e *Engine) ListClaimsByOwner(ctx context.Context, owner string) ([]model.Claim, error) {
	if err := e.requireRegistered(ctx, owner); err != nil {
		return nil, err
	}
	ids, err := e.store.ListOwnerClaimIDs(ctx, owner)
	if err != nil {
		return nil, err
	}
	claims := make([]model.Claim, 0, len(ids))
	for _, id := range ids {
		claim, err := e.store.GetClaim(ctx, id)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *claim)
	}
	return claims, nil
}

// FindClaimsByHealthID returns every claim referencing the given external
// health identity.
func (e *Engine) FindClaimsByHealthID(ctx context.Context, healthID string) ([]model.Claim, error) {
	return e.store.FindClaimsByHealthID(ctx, healthID)
}

// ClaimExistsForDocument reports whether any claim references the given
// evidence document.
func (e *Engine) ClaimExistsForDocument(ctx context.Context, documentCID string) (bool, error) {
	return e.store.ClaimExistsForDocument(ctx, documentCID)
}
