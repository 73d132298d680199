// internal/ledger/claims_test.go
// Tests for the claims engine: risk-score adjudication, payout triggering,
// admin approval, and the claim read surface.
package ledger

import (
	"context"
	"errors"
	"testing"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
)

// setupCoverage builds a market with one purchased policy so the holder can
// submit claims against it.
func setupCoverage(t *testing.T) (*Engine, *fakeTransfers, *model.Policy) {
	t.Helper()
	e, transfers, policy := setupMarket(t)
	mustPurchase(t, e, holderAddr, policy.ID, 1000)
	return e, transfers, policy
}

func submitClaim(t *testing.T, e *Engine, caller string, policyID uint64, riskScore uint32) *model.Claim {
	t.Helper()
	claim, err := e.SubmitClaim(context.Background(), caller, model.SubmitClaimRequest{
		PolicyID:  policyID,
		RiskScore: riskScore,
		HealthID:  "HID-001",
	})
	if err != nil {
		t.Fatalf("SubmitClaim failed: %v", err)
	}
	return claim
}

func TestAdjudicate(t *testing.T) {
	cases := []struct {
		score uint32
		want  model.ClaimStatus
	}{
		{0, model.ClaimStatusApproved},
		{30, model.ClaimStatusApproved},
		{31, model.ClaimStatusPending},
		{70, model.ClaimStatusPending},
		{71, model.ClaimStatusRejected},
		{100, model.ClaimStatusRejected},
	}
	for _, tc := range cases {
		if got := adjudicate(tc.score); got != tc.want {
			t.Errorf("adjudicate(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestSubmitClaimApproved(t *testing.T) {
	e, transfers, policy := setupCoverage(t)
	ctx := context.Background()

	claim, err := e.SubmitClaim(ctx, holderAddr, model.SubmitClaimRequest{
		PolicyID:        policy.ID,
		RiskScore:       20,
		HealthID:        "HID-001",
		DocumentCID:     "bafy-doc-1",
		OracleRequestID: "req-1",
		Description:     "inpatient treatment",
		ProviderName:    "City Hospital",
	})
	if err != nil {
		t.Fatalf("SubmitClaim failed: %v", err)
	}
	if claim.ID != 1 || claim.Status != model.ClaimStatusApproved {
		t.Fatalf("claim = %+v", claim)
	}
	// The claim amount is always the full coverage amount.
	if claim.Amount.Cmp(policy.CoverageAmount) != 0 {
		t.Errorf("claim amount = %s, want %s", claim.Amount, policy.CoverageAmount)
	}
	if !claim.ClaimedAt.Equal(testTime) || !claim.ProcessedAt.Equal(testTime) {
		t.Errorf("claim timestamps = %v/%v, want %v", claim.ClaimedAt, claim.ProcessedAt, testTime)
	}

	// Immediate payout from the custodial address: purchase collection plus
	// the payout itself.
	if len(transfers.calls) != 2 {
		t.Fatalf("transfer count = %d, want 2", len(transfers.calls))
	}
	payout := transfers.calls[1]
	if payout.from != custodialAddr || payout.to != holderAddr {
		t.Errorf("payout direction = %s -> %s", payout.from, payout.to)
	}
	if payout.amount.Cmp(policy.CoverageAmount) != 0 {
		t.Errorf("payout amount = %s, want %s", payout.amount, policy.CoverageAmount)
	}
}

func TestSubmitClaimPending(t *testing.T) {
	e, transfers, policy := setupCoverage(t)

	claim := submitClaim(t, e, holderAddr, policy.ID, 50)
	if claim.Status != model.ClaimStatusPending {
		t.Errorf("claim status = %s, want %s", claim.Status, model.ClaimStatusPending)
	}
	// No payout for a pending claim; only the purchase transfer exists.
	if len(transfers.calls) != 1 {
		t.Errorf("transfer count = %d, want 1", len(transfers.calls))
	}
}

func TestSubmitClaimRejected(t *testing.T) {
	e, transfers, policy := setupCoverage(t)

	claim := submitClaim(t, e, holderAddr, policy.ID, 85)
	if claim.Status != model.ClaimStatusRejected {
		t.Errorf("claim status = %s, want %s", claim.Status, model.ClaimStatusRejected)
	}
	if len(transfers.calls) != 1 {
		t.Errorf("transfer count = %d, want 1", len(transfers.calls))
	}
}

func TestSubmitClaimNoCoverage(t *testing.T) {
	e, _, policy := setupMarket(t)
	ctx := context.Background()

	// Registered but never purchased.
	_, err := e.SubmitClaim(ctx, holderAddr, model.SubmitClaimRequest{PolicyID: policy.ID, RiskScore: 20})
	wantCode(t, err, inerr.INS_POLICY_NOT_FOUND)
}

func TestSubmitClaimValidation(t *testing.T) {
	e, _, policy := setupCoverage(t)
	ctx := context.Background()

	_, err := e.SubmitClaim(ctx, holderAddr, model.SubmitClaimRequest{PolicyID: policy.ID, RiskScore: 101})
	wantCode(t, err, inerr.INS_VALIDATION)

	_, err = e.SubmitClaim(ctx, holderAddr, model.SubmitClaimRequest{PolicyID: 99, RiskScore: 20})
	wantCode(t, err, inerr.INS_POLICY_NOT_FOUND)

	_, err = e.SubmitClaim(ctx, adminAddr, model.SubmitClaimRequest{PolicyID: policy.ID, RiskScore: 20})
	wantCode(t, err, inerr.INS_NOT_POLICYHOLDER)
}

func TestSubmitClaimPayoutFailure(t *testing.T) {
	e, transfers, policy := setupCoverage(t)
	ctx := context.Background()

	transfers.err = errors.New("custody unavailable")
	claim, err := e.SubmitClaim(ctx, holderAddr, model.SubmitClaimRequest{PolicyID: policy.ID, RiskScore: 10})
	wantCode(t, err, inerr.INS_TRANSFER_FAILED)

	// The approved claim stays recorded; only the disbursement failed.
	if claim == nil || claim.Status != model.ClaimStatusApproved {
		t.Fatalf("claim after payout failure = %+v", claim)
	}
	stored, err := e.GetClaim(ctx, claim.ID)
	if err != nil {
		t.Fatalf("GetClaim failed: %v", err)
	}
	if stored.Status != model.ClaimStatusApproved {
		t.Errorf("stored claim status = %s, want %s", stored.Status, model.ClaimStatusApproved)
	}
}

func TestApproveClaim(t *testing.T) {
	e, transfers, policy := setupCoverage(t)
	ctx := context.Background()

	pending := submitClaim(t, e, holderAddr, policy.ID, 50)

	approved, err := e.ApproveClaim(ctx, adminAddr, pending.ID)
	if err != nil {
		t.Fatalf("ApproveClaim failed: %v", err)
	}
	if approved.Status != model.ClaimStatusApproved {
		t.Errorf("claim status = %s, want %s", approved.Status, model.ClaimStatusApproved)
	}

	// Payout to the claimant, not the approving admin.
	payout := transfers.calls[len(transfers.calls)-1]
	if payout.from != custodialAddr || payout.to != holderAddr {
		t.Errorf("payout direction = %s -> %s", payout.from, payout.to)
	}
	if payout.amount.Cmp(policy.CoverageAmount) != 0 {
		t.Errorf("payout amount = %s, want %s", payout.amount, policy.CoverageAmount)
	}

	// Approved claims are terminal.
	_, err = e.ApproveClaim(ctx, adminAddr, pending.ID)
	wantCode(t, err, inerr.INS_CLAIM_NOT_PENDING)
}

func TestApproveClaimRejectedIsTerminal(t *testing.T) {
	e, _, policy := setupCoverage(t)
	rejected := submitClaim(t, e, holderAddr, policy.ID, 90)

	_, err := e.ApproveClaim(context.Background(), adminAddr, rejected.ID)
	wantCode(t, err, inerr.INS_CLAIM_NOT_PENDING)
}

func TestApproveClaimAuthz(t *testing.T) {
	e, _, policy := setupCoverage(t)
	ctx := context.Background()
	pending := submitClaim(t, e, holderAddr, policy.ID, 50)

	_, err := e.ApproveClaim(ctx, holderAddr, pending.ID)
	wantCode(t, err, inerr.INS_NOT_ADMIN)

	_, err = e.ApproveClaim(ctx, adminAddr, 99)
	wantCode(t, err, inerr.INS_CLAIM_NOT_FOUND)
}

func TestClaimReadSurface(t *testing.T) {
	e, _, policy := setupCoverage(t)
	ctx := context.Background()

	first, err := e.SubmitClaim(ctx, holderAddr, model.SubmitClaimRequest{
		PolicyID:    policy.ID,
		RiskScore:   50,
		HealthID:    "HID-001",
		DocumentCID: "bafy-doc-1",
	})
	if err != nil {
		t.Fatalf("SubmitClaim failed: %v", err)
	}
	second := submitClaim(t, e, holderAddr, policy.ID, 60)

	all, err := e.ListAllClaims(ctx)
	if err != nil {
		t.Fatalf("ListAllClaims failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		t.Errorf("ListAllClaims = %+v", all)
	}

	mine, err := e.ListClaimsByOwner(ctx, holderAddr)
	if err != nil || len(mine) != 2 {
		t.Errorf("ListClaimsByOwner = %v, %v", mine, err)
	}
	_, err = e.ListClaimsByOwner(ctx, "GUNKNOWN")
	wantCode(t, err, inerr.INS_NOT_REGISTERED)

	byHealth, err := e.FindClaimsByHealthID(ctx, "HID-001")
	if err != nil || len(byHealth) != 2 {
		t.Errorf("FindClaimsByHealthID = %v, %v", byHealth, err)
	}

	exists, err := e.ClaimExistsForDocument(ctx, "bafy-doc-1")
	if err != nil || !exists {
		t.Errorf("ClaimExistsForDocument(bafy-doc-1) = %v, %v; want true", exists, err)
	}
	exists, err = e.ClaimExistsForDocument(ctx, "bafy-other")
	if err != nil || exists {
		t.Errorf("ClaimExistsForDocument(bafy-other) = %v, %v; want false", exists, err)
	}
}
