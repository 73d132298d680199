// internal/storage/memory.go
// In-memory Store implementation. Intended for development and testing.
// A single mutex serializes transactions, which also gives the ledger the
// one-operation-at-a-time ordering the replay model expects.
package storage

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/insurechain/insurechain-ledger-go/internal/model"
)

// memState is the mutable record state snapshotted for rollback.
type memState struct {
	bootstrapAdmin string
	adminSet       map[string]struct{}
	accounts       map[string]model.Account
	policies       map[uint64]model.Policy
	ownerships     map[string][]model.OwnershipRecord
	escrows        map[uint64]model.EscrowRecord
	ownerEscrows   map[string][]uint64
	tokenMeta      map[string]model.TokenMetadata
	policyTokens   map[uint64][]string
	ownerTokens    map[string][]string
	claims         map[uint64]model.Claim
	ownerClaims    map[string][]uint64
	oracleRequests map[string]model.OracleRequest
	treasury       *big.Int
}

// memory implements the Store interface using in-memory maps.
type memory struct {
	mu    sync.RWMutex
	state memState

	// Counters live outside the snapshot so aborted transactions never
	// hand an id back.
	policyCounter atomic.Uint64
	tokenCounter  atomic.Uint64
	escrowCounter atomic.Uint64
	claimCounter  atomic.Uint64
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{state: newMemState()}
}

func newMemState() memState {
	return memState{
		adminSet:       make(map[string]struct{}),
		accounts:       make(map[string]model.Account),
		policies:       make(map[uint64]model.Policy),
		ownerships:     make(map[string][]model.OwnershipRecord),
		escrows:        make(map[uint64]model.EscrowRecord),
		ownerEscrows:   make(map[string][]uint64),
		tokenMeta:      make(map[string]model.TokenMetadata),
		policyTokens:   make(map[uint64][]string),
		ownerTokens:    make(map[string][]string),
		claims:         make(map[uint64]model.Claim),
		ownerClaims:    make(map[string][]uint64),
		oracleRequests: make(map[string]model.OracleRequest),
		treasury:       big.NewInt(0),
	}
}

// clone deep-copies the state. Amounts are treated as immutable big.Ints by
// the engine, so pointer sharing between snapshot and live state is safe.
func (s memState) clone() memState {
	c := memState{
		bootstrapAdmin: s.bootstrapAdmin,
		adminSet:       make(map[string]struct{}, len(s.adminSet)),
		accounts:       make(map[string]model.Account, len(s.accounts)),
		policies:       make(map[uint64]model.Policy, len(s.policies)),
		ownerships:     make(map[string][]model.OwnershipRecord, len(s.ownerships)),
		escrows:        make(map[uint64]model.EscrowRecord, len(s.escrows)),
		ownerEscrows:   make(map[string][]uint64, len(s.ownerEscrows)),
		tokenMeta:      make(map[string]model.TokenMetadata, len(s.tokenMeta)),
		policyTokens:   make(map[uint64][]string, len(s.policyTokens)),
		ownerTokens:    make(map[string][]string, len(s.ownerTokens)),
		claims:         make(map[uint64]model.Claim, len(s.claims)),
		ownerClaims:    make(map[string][]uint64, len(s.ownerClaims)),
		oracleRequests: make(map[string]model.OracleRequest, len(s.oracleRequests)),
		treasury:       s.treasury,
	}
	for k, v := range s.adminSet {
		c.adminSet[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.ownerships {
		c.ownerships[k] = append([]model.OwnershipRecord(nil), v...)
	}
	for k, v := range s.escrows {
		c.escrows[k] = v
	}
	for k, v := range s.ownerEscrows {
		c.ownerEscrows[k] = append([]uint64(nil), v...)
	}
	for k, v := range s.tokenMeta {
		c.tokenMeta[k] = v
	}
	for k, v := range s.policyTokens {
		c.policyTokens[k] = append([]string(nil), v...)
	}
	for k, v := range s.ownerTokens {
		c.ownerTokens[k] = append([]string(nil), v...)
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	for k, v := range s.ownerClaims {
		c.ownerClaims[k] = append([]uint64(nil), v...)
	}
	for k, v := range s.oracleRequests {
		c.oracleRequests[k] = v
	}
	return c
}

// memTx is the transactional view. It mutates the live state under the store
// lock; Atomic restores the pre-transaction snapshot on failure.
type memTx struct {
	m *memory
}

// Atomic runs fn under the store lock with snapshot rollback.
func (m *memory) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Counter allocators

func (m *memory) NextPolicyID(ctx context.Context) (uint64, error) { return m.policyCounter.Add(1), nil }
func (m *memory) NextTokenID(ctx context.Context) (uint64, error)  { return m.tokenCounter.Add(1), nil }
func (m *memory) NextEscrowID(ctx context.Context) (uint64, error) { return m.escrowCounter.Add(1), nil }
func (m *memory) NextClaimID(ctx context.Context) (uint64, error)  { return m.claimCounter.Add(1), nil }

// Read operations. The store methods take the read lock; the transactional
// view reuses the same logic without locking since Atomic already holds the
// write lock.

func (m *memory) GetBootstrapAdmin(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getBootstrapAdmin()
}

func (m *memory) IsAdminListed(ctx context.Context, address string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.state.adminSet[address]
	return ok, nil
}

func (m *memory) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getAccount(address)
}

func (m *memory) GetPolicy(ctx context.Context, id uint64) (*model.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getPolicy(id)
}

func (m *memory) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listPolicies(m.policyCounter.Load()), nil
}

func (m *memory) ListOwnerships(ctx context.Context, owner string) ([]model.OwnershipRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.OwnershipRecord(nil), m.state.ownerships[owner]...), nil
}

func (m *memory) ListOwnerTokens(ctx context.Context, owner string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.state.ownerTokens[owner]...), nil
}

func (m *memory) ListPolicyTokens(ctx context.Context, policyID uint64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.state.policyTokens[policyID]...), nil
}

func (m *memory) GetTokenMetadata(ctx context.Context, tokenID string) (*model.TokenMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.state.tokenMeta[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}

func (m *memory) GetEscrow(ctx context.Context, id uint64) (*model.EscrowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getEscrow(id)
}

func (m *memory) ListOwnerEscrowIDs(ctx context.Context, owner string) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint64(nil), m.state.ownerEscrows[owner]...), nil
}

func (m *memory) GetClaim(ctx context.Context, id uint64) (*model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getClaim(id)
}

func (m *memory) ListClaims(ctx context.Context) ([]model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listClaims(m.claimCounter.Load()), nil
}

func (m *memory) ListOwnerClaimIDs(ctx context.Context, owner string) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint64(nil), m.state.ownerClaims[owner]...), nil
}

func (m *memory) FindClaimsByHealthID(ctx context.Context, healthID string) ([]model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findClaimsByHealthID(m.claimCounter.Load(), healthID), nil
}

func (m *memory) ClaimExistsForDocument(ctx context.Context, documentCID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, claim := range m.state.claims {
		if claim.DocumentCID == documentCID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memory) GetOracleRequest(ctx context.Context, requestID string) (*model.OracleRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.state.oracleRequests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (m *memory) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.state.treasury), nil
}

func (m *memory) TokenCount(ctx context.Context) (uint64, error) {
	return m.tokenCounter.Load(), nil
}

// Shared read helpers on the state

func (s *memState) getBootstrapAdmin() (string, error) {
	if s.bootstrapAdmin == "" {
		return "", ErrNotFound
	}
	return s.bootstrapAdmin, nil
}

func (s *memState) getAccount(address string) (*model.Account, error) {
	account, ok := s.accounts[address]
	if !ok {
		return nil, ErrNotFound
	}
	return &account, nil
}

func (s *memState) getPolicy(id uint64) (*model.Policy, error) {
	policy, ok := s.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &policy, nil
}

func (s *memState) getEscrow(id uint64) (*model.EscrowRecord, error) {
	escrow, ok := s.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &escrow, nil
}

func (s *memState) getClaim(id uint64) (*model.Claim, error) {
	claim, ok := s.claims[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &claim, nil
}

// listPolicies enumerates ids 1..counter. Ids allocated by aborted operations
// leave no record and are skipped.
func (s *memState) listPolicies(counter uint64) []model.Policy {
	policies := make([]model.Policy, 0, len(s.policies))
	for id := uint64(1); id <= counter; id++ {
		if policy, ok := s.policies[id]; ok {
			policies = append(policies, policy)
		}
	}
	return policies
}

func (s *memState) listClaims(counter uint64) []model.Claim {
	claims := make([]model.Claim, 0, len(s.claims))
	for id := uint64(1); id <= counter; id++ {
		if claim, ok := s.claims[id]; ok {
			claims = append(claims, claim)
		}
	}
	return claims
}

func (s *memState) findClaimsByHealthID(counter uint64, healthID string) []model.Claim {
	var matches []model.Claim
	for id := uint64(1); id <= counter; id++ {
		if claim, ok := s.claims[id]; ok && claim.HealthID == healthID {
			matches = append(matches, claim)
		}
	}
	return matches
}

// Transactional view: reads

func (t *memTx) GetBootstrapAdmin(ctx context.Context) (string, error) {
	return t.m.state.getBootstrapAdmin()
}

func (t *memTx) IsAdminListed(ctx context.Context, address string) (bool, error) {
	_, ok := t.m.state.adminSet[address]
	return ok, nil
}

func (t *memTx) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	return t.m.state.getAccount(address)
}

func (t *memTx) GetPolicy(ctx context.Context, id uint64) (*model.Policy, error) {
	return t.m.state.getPolicy(id)
}

func (t *memTx) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	return t.m.state.listPolicies(t.m.policyCounter.Load()), nil
}

func (t *memTx) ListOwnerships(ctx context.Context, owner string) ([]model.OwnershipRecord, error) {
	return append([]model.OwnershipRecord(nil), t.m.state.ownerships[owner]...), nil
}

func (t *memTx) ListOwnerTokens(ctx context.Context, owner string) ([]string, error) {
	return append([]string(nil), t.m.state.ownerTokens[owner]...), nil
}

func (t *memTx) ListPolicyTokens(ctx context.Context, policyID uint64) ([]string, error) {
	return append([]string(nil), t.m.state.policyTokens[policyID]...), nil
}

func (t *memTx) GetTokenMetadata(ctx context.Context, tokenID string) (*model.TokenMetadata, error) {
	meta, ok := t.m.state.tokenMeta[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}

func (t *memTx) GetEscrow(ctx context.Context, id uint64) (*model.EscrowRecord, error) {
	return t.m.state.getEscrow(id)
}

func (t *memTx) ListOwnerEscrowIDs(ctx context.Context, owner string) ([]uint64, error) {
	return append([]uint64(nil), t.m.state.ownerEscrows[owner]...), nil
}

func (t *memTx) GetClaim(ctx context.Context, id uint64) (*model.Claim, error) {
	return t.m.state.getClaim(id)
}

func (t *memTx) ListClaims(ctx context.Context) ([]model.Claim, error) {
	return t.m.state.listClaims(t.m.claimCounter.Load()), nil
}

func (t *memTx) ListOwnerClaimIDs(ctx context.Context, owner string) ([]uint64, error) {
	return append([]uint64(nil), t.m.state.ownerClaims[owner]...), nil
}

func (t *memTx) FindClaimsByHealthID(ctx context.Context, healthID string) ([]model.Claim, error) {
	return t.m.state.findClaimsByHealthID(t.m.claimCounter.Load(), healthID), nil
}

func (t *memTx) ClaimExistsForDocument(ctx context.Context, documentCID string) (bool, error) {
	for _, claim := range t.m.state.claims {
		if claim.DocumentCID == documentCID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) GetOracleRequest(ctx context.Context, requestID string) (*model.OracleRequest, error) {
	req, ok := t.m.state.oracleRequests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (t *memTx) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(t.m.state.treasury), nil
}

func (t *memTx) TokenCount(ctx context.Context) (uint64, error) {
	return t.m.tokenCounter.Load(), nil
}

// Transactional view: writes

func (t *memTx) SetBootstrapAdmin(ctx context.Context, address string) error {
	if t.m.state.bootstrapAdmin != "" {
		return ErrConflict
	}
	t.m.state.bootstrapAdmin = address
	return nil
}

func (t *memTx) AddAdmin(ctx context.Context, address string) error {
	t.m.state.adminSet[address] = struct{}{}
	return nil
}

func (t *memTx) CreateAccount(ctx context.Context, account model.Account) error {
	if _, exists := t.m.state.accounts[account.Address]; exists {
		return ErrConflict
	}
	t.m.state.accounts[account.Address] = account

	// Initialize the per-account index lists so absent and empty are the
	// same observable state.
	if _, ok := t.m.state.ownerships[account.Address]; !ok {
		t.m.state.ownerships[account.Address] = []model.OwnershipRecord{}
	}
	if _, ok := t.m.state.ownerTokens[account.Address]; !ok {
		t.m.state.ownerTokens[account.Address] = []string{}
	}
	if _, ok := t.m.state.ownerEscrows[account.Address]; !ok {
		t.m.state.ownerEscrows[account.Address] = []uint64{}
	}
	if _, ok := t.m.state.ownerClaims[account.Address]; !ok {
		t.m.state.ownerClaims[account.Address] = []uint64{}
	}
	return nil
}

func (t *memTx) PutPolicy(ctx context.Context, policy model.Policy) error {
	t.m.state.policies[policy.ID] = policy
	if _, ok := t.m.state.policyTokens[policy.ID]; !ok {
		t.m.state.policyTokens[policy.ID] = []string{}
	}
	return nil
}

func (t *memTx) AppendOwnership(ctx context.Context, record model.OwnershipRecord) error {
	t.m.state.ownerships[record.Owner] = append(t.m.state.ownerships[record.Owner], record)
	t.m.state.ownerTokens[record.Owner] = append(t.m.state.ownerTokens[record.Owner], record.TokenID)
	return nil
}

func (t *memTx) PutEscrow(ctx context.Context, escrow model.EscrowRecord) error {
	if _, exists := t.m.state.escrows[escrow.ID]; !exists {
		t.m.state.ownerEscrows[escrow.Owner] = append(t.m.state.ownerEscrows[escrow.Owner], escrow.ID)
	}
	t.m.state.escrows[escrow.ID] = escrow
	return nil
}

func (t *memTx) PutTokenMetadata(ctx context.Context, meta model.TokenMetadata) error {
	t.m.state.tokenMeta[meta.TokenID] = meta
	return nil
}

func (t *memTx) AppendPolicyToken(ctx context.Context, policyID uint64, tokenID string) error {
	t.m.state.policyTokens[policyID] = append(t.m.state.policyTokens[policyID], tokenID)
	return nil
}

func (t *memTx) PutClaim(ctx context.Context, claim model.Claim) error {
	if _, exists := t.m.state.claims[claim.ID]; !exists {
		t.m.state.ownerClaims[claim.Owner] = append(t.m.state.ownerClaims[claim.Owner], claim.ID)
	}
	t.m.state.claims[claim.ID] = claim
	return nil
}

func (t *memTx) PutOracleRequest(ctx context.Context, req model.OracleRequest) error {
	t.m.state.oracleRequests[req.RequestID] = req
	return nil
}

func (t *memTx) CreditTreasury(ctx context.Context, delta *big.Int) error {
	t.m.state.treasury = new(big.Int).Add(t.m.state.treasury, delta)
	return nil
}
