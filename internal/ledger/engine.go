// internal/ledger/engine.go
// Package ledger implements the state machine of the insurance marketplace:
// the role registry, policy catalog, purchase engine, claims engine, oracle
// request tracker, and treasury bookkeeping. Persistence, asset custody, and
// audit events are collaborators behind interfaces.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/event"
	"github.com/insurechain/insurechain-ledger-go/internal/metrics"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
	"github.com/insurechain/insurechain-ledger-go/internal/token"
)

const (
	// PaymentUnitScale is the number of smallest payment-asset units per whole
	// unit (7 decimal places).
	PaymentUnitScale = 10_000_000

	// QuoteToPaymentRate converts the pricing currency into whole payment-asset
	// units. Premiums are quoted in the pricing currency's smallest unit.
	QuoteToPaymentRate = 1_000_000

	// EscrowPeriod is the fixed installment period.
	EscrowPeriod = 30 * 24 * time.Hour
)

// Engine is the ledger-state machine. All mutating operations take the
// authenticated caller address as their first argument; authentication itself
// happens at the transport boundary.
type Engine struct {
	store     storage.Store
	transfers token.Client
	events    event.Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger

	custodial string // Address holding escrowed premiums and paying out claims
	relay     string // Optional oracle relay address; empty disables the gate

	now func() time.Time
}

// Options configures an Engine. Store, Transfers, and CustodialAddress are
// required; the rest default to sensible implementations.
type Options struct {
	Store              storage.Store
	Transfers          token.Client
	Events             event.Publisher
	Metrics            *metrics.Metrics
	Logger             *slog.Logger
	CustodialAddress   string
	OracleRelayAddress string
	Now                func() time.Time
}

// New creates an Engine from the given options.
func New(opts Options) *Engine {
	if opts.Events == nil {
		opts.Events = event.NewNoop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:     opts.Store,
		transfers: opts.Transfers,
		events:    opts.Events,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		custodial: opts.CustodialAddress,
		relay:     opts.OracleRelayAddress,
		now:       opts.Now,
	}
}

// MinimumPayment converts a quoted monthly premium into the minimum acceptable
// amount in the payment asset's smallest unit. Division truncates.
func MinimumPayment(monthlyPremium *big.Int) *big.Int {
	min := new(big.Int).Mul(monthlyPremium, big.NewInt(PaymentUnitScale))
	return min.Quo(min, big.NewInt(QuoteToPaymentRate))
}

// TokenID formats the allocated counter value into the token identifier.
// The counter is embedded so identifiers never collide across purchases.
func TokenID(n uint64) string {
	return fmt.Sprintf("POL-%06d", n)
}

// failf builds a ledger error. The transport layer fills in the correlation id.
func failf(code inerr.ErrorCode, format string, args ...any) error {
	return inerr.New(code, fmt.Sprintf(format, args...), "")
}

// observe records outcome metrics for one engine operation.
// Use with a named error return: defer e.observe("purchase", time.Now(), &err).
func (e *Engine) observe(op string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}
	e.metrics.LedgerOperationTotal.WithLabelValues(op, status).Inc()
	e.metrics.LedgerOperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// emit logs and counts an event-publish outcome. Events are fire-and-forget:
// a publish failure never fails the enclosing operation.
func (e *Engine) emit(eventType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
		e.log.Warn("event publish failed", "event", eventType, "error", err)
	}
	e.metrics.EventPublishTotal.WithLabelValues(eventType, status).Inc()
}

// collect moves a premium payment from the caller to the custodial address.
func (e *Engine) collect(ctx context.Context, from string, amount *big.Int) error {
	return e.transfer(ctx, "collect", from, e.custodial, amount)
}

// payout moves a claim payout from the custodial address to the claimant.
func (e *Engine) payout(ctx context.Context, to string, amount *big.Int) error {
	return e.transfer(ctx, "payout", e.custodial, to, amount)
}

func (e *Engine) transfer(ctx context.Context, direction, from, to string, amount *big.Int) error {
	start := time.Now()
	err := e.transfers.Transfer(ctx, from, to, amount)
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.TransferTotal.WithLabelValues(direction, status).Inc()
	e.metrics.TransferDuration.WithLabelValues(direction, status).Observe(time.Since(start).Seconds())
	if err != nil {
		e.log.Error("asset transfer failed", "direction", direction, "from", from, "to", to, "error", err)
		return failf(inerr.INS_TRANSFER_FAILED, "asset transfer failed: %v", err)
	}
	return nil
}

// Initialized reports whether the ledger bootstrap has run.
func (e *Engine) Initialized(ctx context.Context) (bool, error) {
	_, err := e.store.GetBootstrapAdmin(ctx)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Treasury returns the aggregate premium inflow and the number of tokens
// minted so far.
func (e *Engine) Treasury(ctx context.Context) (balance *big.Int, totalTokens uint64, err error) {
	balance, err = e.store.TreasuryBalance(ctx)
	if err != nil {
		return nil, 0, err
	}
	totalTokens, err = e.store.TokenCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return balance, totalTokens, nil
}
