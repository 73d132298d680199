// internal/ledger/oracle.go
// Oracle request tracker: correlation records between claims and the external
// verification pipeline.
package ledger

import (
	"context"
	"errors"
	"time"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

// StoreOracleRequest records an outbound verification request with status
// pending. Request ids are opaque and externally generated.
func (e *Engine) StoreOracleRequest(ctx context.Context, body model.OracleRequestBody) (req *model.OracleRequest, err error) {
	defer e.observe("store_oracle_request", time.Now(), &err)

	if body.RequestID == "" {
		return nil, failf(inerr.INS_VALIDATION, "request id is required")
	}

	r := model.OracleRequest{
		RequestID:   body.RequestID,
		ClaimID:     body.ClaimID,
		HealthID:    body.HealthID,
		DocumentCID: body.DocumentCID,
		RequestedAt: e.now().UTC(),
		Status:      model.OracleStatusPending,
	}
	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.PutOracleRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	e.emit("oracle_request_stored", e.events.PublishOracleRequestStored(ctx, r))
	e.log.Info("oracle request stored", "requestId", r.RequestID, "claimId", r.ClaimID)
	return &r, nil
}

// UpdateOracleRequestStatus records the completion callback for an outbound
// request. An unknown request id is a soft no-op rather than an error.
// When a relay address is configured, only that caller may update statuses.
func (e *Engine) UpdateOracleRequestStatus(ctx context.Context, caller, requestID string, status model.OracleStatus) (err error) {
	defer e.observe("update_oracle_status", time.Now(), &err)

	if e.relay != "" && caller != e.relay {
		return failf(inerr.INS_AUTHZ, "caller is not the configured oracle relay")
	}
	if status != model.OracleStatusCompleted && status != model.OracleStatusFailed {
		return failf(inerr.INS_VALIDATION, "status must be %q or %q", model.OracleStatusCompleted, model.OracleStatusFailed)
	}

	req, err := e.store.GetOracleRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.log.Warn("oracle status update for unknown request", "requestId", requestID)
			return nil
		}
		return err
	}

	req.Status = status
	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.PutOracleRequest(ctx, *req)
	})
	if err != nil {
		return err
	}

	e.emit("oracle_status_updated", e.events.PublishOracleStatusUpdated(ctx, *req))
	e.log.Info("oracle request status updated", "requestId", requestID, "status", status)
	return nil
}

// GetOracleRequest returns the oracle request with the given id.
func (e *Engine) GetOracleRequest(ctx context.Context, requestID string) (*model.OracleRequest, error) {
	req, err := e.store.GetOracleRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, failf(inerr.INS_NOT_FOUND, "oracle request %s not found", requestID)
		}
		return nil, err
	}
	return req, nil
}

// GetClaimByOracleRequest resolves the claim linked to an oracle request.
func (e *Engine) GetClaimByOracleRequest(ctx context.Context, requestID string) (*model.Claim, error) {
	req, err := e.GetOracleRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return e.GetClaim(ctx, req.ClaimID)
}
