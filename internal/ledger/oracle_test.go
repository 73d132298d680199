// internal/ledger/oracle_test.go
// Tests for the oracle request tracker and the optional relay gate.
package ledger

import (
	"context"
	"testing"
	"time"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/event"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

func TestStoreOracleRequest(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	stored, err := e.StoreOracleRequest(ctx, model.OracleRequestBody{
		RequestID:   "req-1",
		ClaimID:     7,
		HealthID:    "HID-001",
		DocumentCID: "bafy-doc-1",
	})
	if err != nil {
		t.Fatalf("StoreOracleRequest failed: %v", err)
	}
	if stored.Status != model.OracleStatusPending {
		t.Errorf("stored status = %s, want %s", stored.Status, model.OracleStatusPending)
	}
	if !stored.RequestedAt.Equal(testTime) {
		t.Errorf("RequestedAt = %v, want %v", stored.RequestedAt, testTime)
	}

	got, err := e.GetOracleRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetOracleRequest failed: %v", err)
	}
	if got.ClaimID != 7 || got.HealthID != "HID-001" {
		t.Errorf("oracle request = %+v", got)
	}
}

func TestStoreOracleRequestValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.StoreOracleRequest(context.Background(), model.OracleRequestBody{ClaimID: 1})
	wantCode(t, err, inerr.INS_VALIDATION)
}

func TestUpdateOracleRequestStatus(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.StoreOracleRequest(ctx, model.OracleRequestBody{RequestID: "req-1", ClaimID: 1}); err != nil {
		t.Fatalf("StoreOracleRequest failed: %v", err)
	}

	if err := e.UpdateOracleRequestStatus(ctx, "GRELAY", "req-1", model.OracleStatusCompleted); err != nil {
		t.Fatalf("UpdateOracleRequestStatus failed: %v", err)
	}
	got, err := e.GetOracleRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetOracleRequest failed: %v", err)
	}
	if got.Status != model.OracleStatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, model.OracleStatusCompleted)
	}

	// Only terminal statuses may be recorded via the callback.
	err = e.UpdateOracleRequestStatus(ctx, "GRELAY", "req-1", model.OracleStatusPending)
	wantCode(t, err, inerr.INS_VALIDATION)
}

func TestUpdateOracleRequestStatusUnknownID(t *testing.T) {
	e, _ := newTestEngine(t)

	// Callbacks for requests this ledger never recorded are dropped silently.
	if err := e.UpdateOracleRequestStatus(context.Background(), "GRELAY", "req-missing", model.OracleStatusFailed); err != nil {
		t.Fatalf("unknown request id should be a no-op, got %v", err)
	}
}

func TestOracleRelayGate(t *testing.T) {
	e := New(Options{
		Store:              storage.NewMemory(),
		Transfers:          &fakeTransfers{},
		Events:             event.NewNoop(),
		CustodialAddress:   custodialAddr,
		OracleRelayAddress: "GRELAY",
		Now:                func() time.Time { return testTime },
	})
	ctx := context.Background()

	if _, err := e.StoreOracleRequest(ctx, model.OracleRequestBody{RequestID: "req-1", ClaimID: 1}); err != nil {
		t.Fatalf("StoreOracleRequest failed: %v", err)
	}

	err := e.UpdateOracleRequestStatus(ctx, "GIMPOSTOR", "req-1", model.OracleStatusCompleted)
	wantCode(t, err, inerr.INS_AUTHZ)

	if err := e.UpdateOracleRequestStatus(ctx, "GRELAY", "req-1", model.OracleStatusCompleted); err != nil {
		t.Fatalf("relay caller should pass the gate, got %v", err)
	}
}

func TestGetClaimByOracleRequest(t *testing.T) {
	e, _, policy := setupCoverage(t)
	ctx := context.Background()

	claim, err := e.SubmitClaim(ctx, holderAddr, model.SubmitClaimRequest{
		PolicyID:        policy.ID,
		RiskScore:       50,
		OracleRequestID: "req-9",
	})
	if err != nil {
		t.Fatalf("SubmitClaim failed: %v", err)
	}
	if _, err := e.StoreOracleRequest(ctx, model.OracleRequestBody{RequestID: "req-9", ClaimID: claim.ID}); err != nil {
		t.Fatalf("StoreOracleRequest failed: %v", err)
	}

	linked, err := e.GetClaimByOracleRequest(ctx, "req-9")
	if err != nil {
		t.Fatalf("GetClaimByOracleRequest failed: %v", err)
	}
	if linked.ID != claim.ID {
		t.Errorf("linked claim id = %d, want %d", linked.ID, claim.ID)
	}

	_, err = e.GetClaimByOracleRequest(ctx, "req-missing")
	wantCode(t, err, inerr.INS_NOT_FOUND)
}
