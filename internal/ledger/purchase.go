// internal/ledger/purchase.go
// Purchase engine: premium collection, escrow creation, token minting, and
// ownership bookkeeping, committed as one atomic unit after the external
// transfer confirms.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

// PurchasePolicy buys a policy for the caller. The payment must cover the
// converted monthly premium; overpayment is accepted and credited in full.
//
// The custody transfer happens before any state is written. Once it confirms,
// treasury credit, escrow creation, token minting, and the ownership append
// commit together or not at all. The transfer itself is not reversible by
// this engine.
func (e *Engine) PurchasePolicy(ctx context.Context, caller string, req model.PurchaseRequest) (result *model.PurchaseResult, err error) {
	defer e.observe("purchase_policy", time.Now(), &err)

	if _, err = e.requirePolicyholder(ctx, caller); err != nil {
		return nil, err
	}
	policy, err := e.GetPolicy(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}
	if req.PaymentAmount == nil || req.PaymentAmount.Sign() <= 0 {
		return nil, failf(inerr.INS_VALIDATION, "payment amount must be positive")
	}

	min := MinimumPayment(policy.MonthlyPremium)
	if req.PaymentAmount.Cmp(min) < 0 {
		return nil, failf(inerr.INS_INSUFFICIENT_PAYMENT,
			"payment %s is below the minimum %s", req.PaymentAmount, min)
	}

	if err = e.collect(ctx, caller, req.PaymentAmount); err != nil {
		return nil, err
	}

	// Ids allocated after the transfer, outside the transaction: an aborted
	// commit below must never hand the same id to a later purchase.
	escrowID, err := e.store.NextEscrowID(ctx)
	if err != nil {
		return nil, err
	}
	tokenNum, err := e.store.NextTokenID(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	duration := time.Duration(policy.DurationDays) * 24 * time.Hour
	tokenID := TokenID(tokenNum)

	paymentsRequired := policy.DurationDays / 30 // sub-30-day policies owe no further installments
	escrow := model.EscrowRecord{
		ID:               escrowID,
		Owner:            caller,
		PolicyID:         policy.ID,
		MonthlyPremium:   min,
		NextPaymentDue:   now.Add(EscrowPeriod),
		PaymentsMade:     1,
		PaymentsRequired: paymentsRequired,
		Balance:          big.NewInt(0),
		Active:           1 < paymentsRequired,
	}
	meta := model.TokenMetadata{
		TokenID:        tokenID,
		Name:           policy.Title,
		Description:    policy.Description,
		ImageRef:       req.MetadataRef,
		CoverageAmount: policy.CoverageAmount,
		ValidFrom:      now,
		ValidUntil:     now.Add(duration),
		PremiumAmount:  policy.YearlyPremium,
		PolicyType:     policy.Type,
		Holder:         req.Holder,
	}
	ownership := model.OwnershipRecord{
		PolicyID:    policy.ID,
		Owner:       caller,
		PurchasedAt: now,
		ExpiresAt:   now.Add(duration),
		PremiumPaid: req.PaymentAmount,
		Active:      true,
		TokenID:     tokenID,
		MetadataRef: req.MetadataRef,
		EscrowID:    escrowID,
		Holder:      req.Holder,
	}

	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.CreditTreasury(ctx, req.PaymentAmount); err != nil {
			return err
		}
		if err := tx.PutEscrow(ctx, escrow); err != nil {
			return err
		}
		if err := tx.PutTokenMetadata(ctx, meta); err != nil {
			return err
		}
		if err := tx.AppendOwnership(ctx, ownership); err != nil {
			return err
		}
		return tx.AppendPolicyToken(ctx, policy.ID, tokenID)
	})
	if err != nil {
		return nil, err
	}

	res := model.PurchaseResult{
		PolicyID: policy.ID,
		TokenID:  tokenID,
		EscrowID: escrowID,
		Paid:     req.PaymentAmount,
	}
	e.emit("policy_purchased", e.events.PublishPolicyPurchased(ctx, res, caller))
	e.log.Info("policy purchased",
		"policyId", policy.ID, "owner", caller, "tokenId", tokenID, "escrowId", escrowID)
	return &res, nil
}

// PayInstallment collects one recurring premium installment against an active
// escrow. The escrow deactivates after the final required installment.
func (e *Engine) PayInstallment(ctx context.Context, caller string, escrowID uint64, payment *big.Int) (updated *model.EscrowRecord, err error) {
	defer e.observe("pay_installment", time.Now(), &err)

	if _, err = e.requirePolicyholder(ctx, caller); err != nil {
		return nil, err
	}
	escrow, err := e.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Owner != caller {
		return nil, failf(inerr.INS_AUTHZ, "escrow %d does not belong to caller", escrowID)
	}
	if !escrow.Active {
		return nil, failf(inerr.INS_ESCROW_INACTIVE, "escrow %d is no longer collecting installments", escrowID)
	}
	if payment == nil || payment.Cmp(escrow.MonthlyPremium) < 0 {
		return nil, failf(inerr.INS_INSUFFICIENT_PAYMENT,
			"payment is below the installment amount %s", escrow.MonthlyPremium)
	}

	if err = e.collect(ctx, caller, payment); err != nil {
		return nil, err
	}

	escrow.PaymentsMade++
	escrow.NextPaymentDue = escrow.NextPaymentDue.Add(EscrowPeriod)
	escrow.Active = escrow.PaymentsMade < escrow.PaymentsRequired

	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.CreditTreasury(ctx, payment); err != nil {
			return err
		}
		return tx.PutEscrow(ctx, *escrow)
	})
	if err != nil {
		return nil, err
	}

	e.emit("installment_paid", e.events.PublishInstallmentPaid(ctx, *escrow))
	e.log.Info("installment paid",
		"escrowId", escrowID, "owner", caller, "paymentsMade", escrow.PaymentsMade, "active", escrow.Active)
	return escrow, nil
}

// GetEscrow returns the escrow record with the given id.
func (e *Engine) GetEscrow(ctx context.Context, id uint64) (*model.EscrowRecord, error) {
	escrow, err := e.store.GetEscrow(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, failf(inerr.INS_ESCROW_NOT_FOUND, "escrow %d not found", id)
		}
		return nil, err
	}
	return escrow, nil
}

// GetUserPolicies returns the ownership records of a registered address.
func (e *Engine) GetUserPolicies(ctx context.Context, address string) ([]model.OwnershipRecord, error) {
	if err := e.requireRegistered(ctx, address); err != nil {
		return nil, err
	}
	return e.store.ListOwnerships(ctx, address)
}

// GetUserTokens returns the token ids owned by a registered address.
func (e *Engine) GetUserTokens(ctx context.Context, address string) ([]string, error) {
	if err := e.requireRegistered(ctx, address); err != nil {
		return nil, err
	}
	return e.store.ListOwnerTokens(ctx, address)
}

// GetUserEscrows returns the escrow records of a registered address.
func (e *Engine) GetUserEscrows(ctx context.Context, address string) ([]model.EscrowRecord, error) {
	if err := e.requireRegistered(ctx, address); err != nil {
		return nil, err
	}
	ids, err := e.store.ListOwnerEscrowIDs(ctx, address)
	if err != nil {
		return nil, err
	}
	escrows := make([]model.EscrowRecord, 0, len(ids))
	for _, id := range ids {
		escrow, err := e.store.GetEscrow(ctx, id)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *escrow)
	}
	return escrows, nil
}

// GetTokenMetadata returns the metadata record for a minted token.
func (e *Engine) GetTokenMetadata(ctx context.Context, tokenID string) (*model.TokenMetadata, error) {
	meta, err := e.store.GetTokenMetadata(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, failf(inerr.INS_NOT_FOUND, "token %s not found", tokenID)
		}
		return nil, err
	}
	return meta, nil
}
