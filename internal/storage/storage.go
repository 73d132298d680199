// internal/storage/storage.go
// Package storage provides the persistence substrate for the insurance ledger.
// It exposes typed operations per record kind plus an all-or-nothing
// transaction boundary, with in-memory and PostgreSQL implementations.
package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/insurechain/insurechain-ledger-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a record is not found
	ErrConflict = errors.New("conflict")  // Returned when a record already exists
)

// Reader defines the read operations shared by the store and its transactions.
// All reads are point-in-time consistent within a transaction.
type Reader interface {
	// Singleton / bootstrap state
	GetBootstrapAdmin(ctx context.Context) (string, error) // ErrNotFound until Initialize has run
	IsAdminListed(ctx context.Context, address string) (bool, error)

	// Accounts
	GetAccount(ctx context.Context, address string) (*model.Account, error)

	// Policy catalog
	GetPolicy(ctx context.Context, id uint64) (*model.Policy, error)
	ListPolicies(ctx context.Context) ([]model.Policy, error) // dense enumeration, ascending id

	// Ownership and tokens
	ListOwnerships(ctx context.Context, owner string) ([]model.OwnershipRecord, error)
	ListOwnerTokens(ctx context.Context, owner string) ([]string, error)
	ListPolicyTokens(ctx context.Context, policyID uint64) ([]string, error)
	GetTokenMetadata(ctx context.Context, tokenID string) (*model.TokenMetadata, error)

	// Escrows
	GetEscrow(ctx context.Context, id uint64) (*model.EscrowRecord, error)
	ListOwnerEscrowIDs(ctx context.Context, owner string) ([]uint64, error)

	// Claims
	GetClaim(ctx context.Context, id uint64) (*model.Claim, error)
	ListClaims(ctx context.Context) ([]model.Claim, error) // ascending claim id
	ListOwnerClaimIDs(ctx context.Context, owner string) ([]uint64, error)
	FindClaimsByHealthID(ctx context.Context, healthID string) ([]model.Claim, error)
	ClaimExistsForDocument(ctx context.Context, documentCID string) (bool, error)

	// Oracle request tracking
	GetOracleRequest(ctx context.Context, requestID string) (*model.OracleRequest, error)

	// Treasury and counters (read side)
	TreasuryBalance(ctx context.Context) (*big.Int, error)
	TokenCount(ctx context.Context) (uint64, error)
}

// Tx is the write view handed to Atomic callbacks. Every write either commits
// with the rest of the transaction or is discarded.
type Tx interface {
	Reader

	SetBootstrapAdmin(ctx context.Context, address string) error // ErrConflict once set
	AddAdmin(ctx context.Context, address string) error          // set semantics: re-adding is a no-op
	CreateAccount(ctx context.Context, account model.Account) error
	PutPolicy(ctx context.Context, policy model.Policy) error
	AppendOwnership(ctx context.Context, record model.OwnershipRecord) error
	PutEscrow(ctx context.Context, escrow model.EscrowRecord) error
	PutTokenMetadata(ctx context.Context, meta model.TokenMetadata) error
	AppendPolicyToken(ctx context.Context, policyID uint64, tokenID string) error
	PutClaim(ctx context.Context, claim model.Claim) error
	PutOracleRequest(ctx context.Context, req model.OracleRequest) error
	CreditTreasury(ctx context.Context, delta *big.Int) error
}

// Store is the persistence substrate consumed by the ledger engine.
//
// Counter allocation sits outside Atomic on purpose: an id handed out inside
// an aborted operation must never be reused, so allocators must not roll back
// (postgres sequences, in-memory atomics).
type Store interface {
	Reader

	// Atomic runs fn against a transactional view. If fn returns an error,
	// every write it performed is discarded and the error is returned.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// Monotonic id allocators, strictly increasing, never reused.
	NextPolicyID(ctx context.Context) (uint64, error)
	NextTokenID(ctx context.Context) (uint64, error)
	NextEscrowID(ctx context.Context) (uint64, error)
	NextClaimID(ctx context.Context) (uint64, error)
}
