// internal/storage/postgres.go
// PostgreSQL Store implementation, intended for production use.
// Counters map to sequences (nextval does not roll back, which is exactly the
// never-reuse-ids guarantee the ledger needs) and Atomic maps to a database
// transaction. Amounts are NUMERIC(39,0) to hold full 128-bit values.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insurechain/insurechain-ledger-go/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods serve the store and its transactional view.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgRunner implements all Reader and Tx operations over a querier.
type pgRunner struct {
	q querier
}

// postgres implements the Store interface backed by a pgx connection pool.
type postgres struct {
	pgRunner
	pool *pgxpool.Pool
}

// pgTx is the transactional view handed to Atomic callbacks.
type pgTx struct {
	pgRunner
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool and initializes the schema.
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{pgRunner: pgRunner{q: pool}, pool: pool}, nil
}

// initSchema creates all required tables, sequences, and indexes.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Singleton bootstrap admin; the CHECK pins the table to one row
		CREATE TABLE IF NOT EXISTS bootstrap_admin (
		    singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
		    address TEXT NOT NULL
		);

		-- Admin membership as a set: the primary key makes re-adds no-ops
		CREATE TABLE IF NOT EXISTS admin_set (
		    address TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS accounts (
		    address TEXT PRIMARY KEY,
		    role TEXT NOT NULL,
		    name TEXT NOT NULL DEFAULT '',
		    location TEXT NOT NULL DEFAULT '',
		    contact TEXT NOT NULL DEFAULT '',
		    registered_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS policies (
		    id BIGINT PRIMARY KEY,
		    title TEXT NOT NULL,
		    description TEXT NOT NULL,
		    policy_type TEXT NOT NULL,
		    monthly_premium NUMERIC(39,0) NOT NULL,
		    yearly_premium NUMERIC(39,0) NOT NULL,
		    coverage_amount NUMERIC(39,0) NOT NULL,
		    min_age BIGINT NOT NULL,
		    max_age BIGINT NOT NULL,
		    duration_days BIGINT NOT NULL,
		    waiting_period_days BIGINT NOT NULL,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    created_by TEXT NOT NULL
		);

		-- Ownership records: append-only per-owner list, seq keeps insertion order
		CREATE TABLE IF NOT EXISTS ownerships (
		    seq BIGSERIAL PRIMARY KEY,
		    owner TEXT NOT NULL REFERENCES accounts(address),
		    policy_id BIGINT NOT NULL REFERENCES policies(id),
		    purchased_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    premium_paid NUMERIC(39,0) NOT NULL,
		    active BOOLEAN NOT NULL,
		    token_id TEXT NOT NULL,
		    metadata_ref TEXT NOT NULL,
		    escrow_id BIGINT NOT NULL,
		    holder_name TEXT NOT NULL,
		    holder_age BIGINT NOT NULL,
		    holder_gender TEXT NOT NULL,
		    holder_blood_group TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ownerships_owner ON ownerships(owner, seq);
		CREATE INDEX IF NOT EXISTS idx_ownerships_policy ON ownerships(policy_id);

		CREATE TABLE IF NOT EXISTS escrows (
		    id BIGINT PRIMARY KEY,
		    owner TEXT NOT NULL REFERENCES accounts(address),
		    policy_id BIGINT NOT NULL REFERENCES policies(id),
		    monthly_premium NUMERIC(39,0) NOT NULL,
		    next_payment_due TIMESTAMP WITH TIME ZONE NOT NULL,
		    payments_made BIGINT NOT NULL,
		    payments_required BIGINT NOT NULL,
		    balance NUMERIC(39,0) NOT NULL,
		    active BOOLEAN NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_escrows_owner ON escrows(owner, id);

		CREATE TABLE IF NOT EXISTS token_metadata (
		    token_id TEXT PRIMARY KEY,
		    name TEXT NOT NULL,
		    description TEXT NOT NULL,
		    image_ref TEXT NOT NULL,
		    coverage_amount NUMERIC(39,0) NOT NULL,
		    valid_from TIMESTAMP WITH TIME ZONE NOT NULL,
		    valid_until TIMESTAMP WITH TIME ZONE NOT NULL,
		    premium_amount NUMERIC(39,0) NOT NULL,
		    policy_type TEXT NOT NULL,
		    holder_name TEXT NOT NULL,
		    holder_age BIGINT NOT NULL,
		    holder_gender TEXT NOT NULL,
		    holder_blood_group TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS policy_tokens (
		    seq BIGSERIAL PRIMARY KEY,
		    policy_id BIGINT NOT NULL REFERENCES policies(id),
		    token_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_policy_tokens_policy ON policy_tokens(policy_id, seq);

		CREATE TABLE IF NOT EXISTS claims (
		    id BIGINT PRIMARY KEY,
		    policy_id BIGINT NOT NULL REFERENCES policies(id),
		    owner TEXT NOT NULL REFERENCES accounts(address),
		    amount NUMERIC(39,0) NOT NULL,
		    risk_score INTEGER NOT NULL,
		    status TEXT NOT NULL,
		    claimed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    processed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    health_id TEXT NOT NULL,
		    document_cid TEXT NOT NULL,
		    oracle_request_id TEXT NOT NULL,
		    description TEXT NOT NULL,
		    provider_name TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_claims_owner ON claims(owner, id);
		CREATE INDEX IF NOT EXISTS idx_claims_health_id ON claims(health_id);
		CREATE INDEX IF NOT EXISTS idx_claims_document_cid ON claims(document_cid);

		CREATE TABLE IF NOT EXISTS oracle_requests (
		    request_id TEXT PRIMARY KEY,
		    claim_id BIGINT NOT NULL,
		    health_id TEXT NOT NULL,
		    document_cid TEXT NOT NULL,
		    requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    status TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS treasury (
		    singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
		    balance NUMERIC(39,0) NOT NULL DEFAULT 0
		);
		INSERT INTO treasury (singleton, balance) VALUES (TRUE, 0) ON CONFLICT DO NOTHING;

		-- Id allocators; nextval survives transaction rollback by design
		CREATE SEQUENCE IF NOT EXISTS policy_id_seq;
		CREATE SEQUENCE IF NOT EXISTS token_id_seq;
		CREATE SEQUENCE IF NOT EXISTS escrow_id_seq;
		CREATE SEQUENCE IF NOT EXISTS claim_id_seq;
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (p *postgres) Close() {
	p.pool.Close()
}

// Atomic runs fn within a database transaction.
func (p *postgres) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{pgRunner{q: tx}})
	})
}

// Counter allocators

func (p *postgres) nextID(ctx context.Context, seq string) (uint64, error) {
	var id int64
	if err := p.pool.QueryRow(ctx, `SELECT nextval($1)`, seq).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to allocate id from %s: %w", seq, err)
	}
	return uint64(id), nil
}

func (p *postgres) NextPolicyID(ctx context.Context) (uint64, error) {
	return p.nextID(ctx, "policy_id_seq")
}

func (p *postgres) NextTokenID(ctx context.Context) (uint64, error) {
	return p.nextID(ctx, "token_id_seq")
}

func (p *postgres) NextEscrowID(ctx context.Context) (uint64, error) {
	return p.nextID(ctx, "escrow_id_seq")
}

func (p *postgres) NextClaimID(ctx context.Context) (uint64, error) {
	return p.nextID(ctx, "claim_id_seq")
}

// Amount conversions between *big.Int and NUMERIC

func bigToNumeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = big.NewInt(0)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

func numericToBig(n pgtype.Numeric) *big.Int {
	if !n.Valid || n.Int == nil {
		return big.NewInt(0)
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	}
	return v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Reads

func (r *pgRunner) GetBootstrapAdmin(ctx context.Context) (string, error) {
	var address string
	err := r.q.QueryRow(ctx, `SELECT address FROM bootstrap_admin`).Scan(&address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get bootstrap admin: %w", err)
	}
	return address, nil
}

func (r *pgRunner) IsAdminListed(ctx context.Context, address string) (bool, error) {
	var listed bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM admin_set WHERE address = $1)`, address).Scan(&listed)
	if err != nil {
		return false, fmt.Errorf("failed to check admin set: %w", err)
	}
	return listed, nil
}

func (r *pgRunner) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	query := `SELECT address, role, name, location, contact, registered_at FROM accounts WHERE address = $1`
	var account model.Account
	err := r.q.QueryRow(ctx, query, address).Scan(
		&account.Address,
		&account.Role,
		&account.Name,
		&account.Location,
		&account.Contact,
		&account.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

const policyColumns = `id, title, description, policy_type, monthly_premium, yearly_premium,
	coverage_amount, min_age, max_age, duration_days, waiting_period_days, created_at, created_by`

func scanPolicy(row pgx.Row) (*model.Policy, error) {
	var policy model.Policy
	var id, minAge, maxAge, durationDays, waitingDays int64
	var monthly, yearly, coverage pgtype.Numeric

	err := row.Scan(
		&id,
		&policy.Title,
		&policy.Description,
		&policy.Type,
		&monthly,
		&yearly,
		&coverage,
		&minAge,
		&maxAge,
		&durationDays,
		&waitingDays,
		&policy.CreatedAt,
		&policy.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	policy.ID = uint64(id)
	policy.MonthlyPremium = numericToBig(monthly)
	policy.YearlyPremium = numericToBig(yearly)
	policy.CoverageAmount = numericToBig(coverage)
	policy.MinAge = uint64(minAge)
	policy.MaxAge = uint64(maxAge)
	policy.DurationDays = uint64(durationDays)
	policy.WaitingPeriodDays = uint64(waitingDays)
	return &policy, nil
}

func (r *pgRunner) GetPolicy(ctx context.Context, id uint64) (*model.Policy, error) {
	row := r.q.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, int64(id))
	policy, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return policy, nil
}

func (r *pgRunner) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	rows, err := r.q.Query(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	policies := []model.Policy{}
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *policy)
	}
	return policies, rows.Err()
}

func (r *pgRunner) ListOwnerships(ctx context.Context, owner string) ([]model.OwnershipRecord, error) {
	query := `SELECT policy_id, owner, purchased_at, expires_at, premium_paid, active, token_id,
		metadata_ref, escrow_id, holder_name, holder_age, holder_gender, holder_blood_group
		FROM ownerships WHERE owner = $1 ORDER BY seq`
	rows, err := r.q.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownerships: %w", err)
	}
	defer rows.Close()

	records := []model.OwnershipRecord{}
	for rows.Next() {
		var rec model.OwnershipRecord
		var policyID, escrowID, holderAge int64
		var premiumPaid pgtype.Numeric
		err := rows.Scan(
			&policyID,
			&rec.Owner,
			&rec.PurchasedAt,
			&rec.ExpiresAt,
			&premiumPaid,
			&rec.Active,
			&rec.TokenID,
			&rec.MetadataRef,
			&escrowID,
			&rec.Holder.Name,
			&holderAge,
			&rec.Holder.Gender,
			&rec.Holder.BloodGroup,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ownership: %w", err)
		}
		rec.PolicyID = uint64(policyID)
		rec.EscrowID = uint64(escrowID)
		rec.Holder.Age = uint64(holderAge)
		rec.PremiumPaid = numericToBig(premiumPaid)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *pgRunner) ListOwnerTokens(ctx context.Context, owner string) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT token_id FROM ownerships WHERE owner = $1 ORDER BY seq`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner tokens: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (r *pgRunner) ListPolicyTokens(ctx context.Context, policyID uint64) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT token_id FROM policy_tokens WHERE policy_id = $1 ORDER BY seq`, int64(policyID))
	if err != nil {
		return nil, fmt.Errorf("failed to list policy tokens: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *pgRunner) GetTokenMetadata(ctx context.Context, tokenID string) (*model.TokenMetadata, error) {
	query := `SELECT token_id, name, description, image_ref, coverage_amount, valid_from, valid_until,
		premium_amount, policy_type, holder_name, holder_age, holder_gender, holder_blood_group
		FROM token_metadata WHERE token_id = $1`
	var meta model.TokenMetadata
	var coverage, premium pgtype.Numeric
	var holderAge int64
	err := r.q.QueryRow(ctx, query, tokenID).Scan(
		&meta.TokenID,
		&meta.Name,
		&meta.Description,
		&meta.ImageRef,
		&coverage,
		&meta.ValidFrom,
		&meta.ValidUntil,
		&premium,
		&meta.PolicyType,
		&meta.Holder.Name,
		&holderAge,
		&meta.Holder.Gender,
		&meta.Holder.BloodGroup,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token metadata: %w", err)
	}
	meta.CoverageAmount = numericToBig(coverage)
	meta.PremiumAmount = numericToBig(premium)
	meta.Holder.Age = uint64(holderAge)
	return &meta, nil
}

func (r *pgRunner) GetEscrow(ctx context.Context, id uint64) (*model.EscrowRecord, error) {
	query := `SELECT id, owner, policy_id, monthly_premium, next_payment_due, payments_made,
		payments_required, balance, active FROM escrows WHERE id = $1`
	var escrow model.EscrowRecord
	var escrowID, policyID, made, required int64
	var premium, balance pgtype.Numeric
	err := r.q.QueryRow(ctx, query, int64(id)).Scan(
		&escrowID,
		&escrow.Owner,
		&policyID,
		&premium,
		&escrow.NextPaymentDue,
		&made,
		&required,
		&balance,
		&escrow.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	escrow.ID = uint64(escrowID)
	escrow.PolicyID = uint64(policyID)
	escrow.PaymentsMade = uint64(made)
	escrow.PaymentsRequired = uint64(required)
	escrow.MonthlyPremium = numericToBig(premium)
	escrow.Balance = numericToBig(balance)
	return &escrow, nil
}

func (r *pgRunner) ListOwnerEscrowIDs(ctx context.Context, owner string) ([]uint64, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM escrows WHERE owner = $1 ORDER BY id`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner escrows: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]uint64, error) {
	out := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, uint64(id))
	}
	return out, rows.Err()
}

const claimColumns = `id, policy_id, owner, amount, risk_score, status, claimed_at, processed_at,
	health_id, document_cid, oracle_request_id, description, provider_name`

func scanClaim(row pgx.Row) (*model.Claim, error) {
	var claim model.Claim
	var id, policyID int64
	var riskScore int32
	var amount pgtype.Numeric
	err := row.Scan(
		&id,
		&policyID,
		&claim.Owner,
		&amount,
		&riskScore,
		&claim.Status,
		&claim.ClaimedAt,
		&claim.ProcessedAt,
		&claim.HealthID,
		&claim.DocumentCID,
		&claim.OracleRequestID,
		&claim.Description,
		&claim.ProviderName,
	)
	if err != nil {
		return nil, err
	}
	claim.ID = uint64(id)
	claim.PolicyID = uint64(policyID)
	claim.RiskScore = uint32(riskScore)
	claim.Amount = numericToBig(amount)
	return &claim, nil
}

func (r *pgRunner) GetClaim(ctx context.Context, id uint64) (*model.Claim, error) {
	row := r.q.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, int64(id))
	claim, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return claim, nil
}

func (r *pgRunner) listClaimsWhere(ctx context.Context, where string, args ...any) ([]model.Claim, error) {
	rows, err := r.q.Query(ctx, `SELECT `+claimColumns+` FROM claims `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	claims := []model.Claim{}
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, *claim)
	}
	return claims, rows.Err()
}

func (r *pgRunner) ListClaims(ctx context.Context) ([]model.Claim, error) {
	return r.listClaimsWhere(ctx, "")
}

func (r *pgRunner) ListOwnerClaimIDs(ctx context.Context, owner string) ([]uint64, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM claims WHERE owner = $1 ORDER BY id`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner claims: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *pgRunner) FindClaimsByHealthID(ctx context.Context, healthID string) ([]model.Claim, error) {
	return r.listClaimsWhere(ctx, "WHERE health_id = $1", healthID)
}

func (r *pgRunner) ClaimExistsForDocument(ctx context.Context, documentCID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE document_cid = $1)`, documentCID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check claim document: %w", err)
	}
	return exists, nil
}

func (r *pgRunner) GetOracleRequest(ctx context.Context, requestID string) (*model.OracleRequest, error) {
	query := `SELECT request_id, claim_id, health_id, document_cid, requested_at, status
		FROM oracle_requests WHERE request_id = $1`
	var req model.OracleRequest
	var claimID int64
	err := r.q.QueryRow(ctx, query, requestID).Scan(
		&req.RequestID,
		&claimID,
		&req.HealthID,
		&req.DocumentCID,
		&req.RequestedAt,
		&req.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get oracle request: %w", err)
	}
	req.ClaimID = uint64(claimID)
	return &req, nil
}

func (r *pgRunner) TreasuryBalance(ctx context.Context) (*big.Int, error) {
	var balance pgtype.Numeric
	err := r.q.QueryRow(ctx, `SELECT balance FROM treasury`).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("failed to get treasury balance: %w", err)
	}
	return numericToBig(balance), nil
}

func (r *pgRunner) TokenCount(ctx context.Context) (uint64, error) {
	var count int64
	query := `SELECT CASE WHEN is_called THEN last_value ELSE 0 END FROM token_id_seq`
	if err := r.q.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read token counter: %w", err)
	}
	return uint64(count), nil
}

// Writes (transactional view only)

func (r *pgRunner) SetBootstrapAdmin(ctx context.Context, address string) error {
	_, err := r.q.Exec(ctx, `INSERT INTO bootstrap_admin (singleton, address) VALUES (TRUE, $1)`, address)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to set bootstrap admin: %w", err)
	}
	return nil
}

func (r *pgRunner) AddAdmin(ctx context.Context, address string) error {
	_, err := r.q.Exec(ctx, `INSERT INTO admin_set (address) VALUES ($1) ON CONFLICT DO NOTHING`, address)
	if err != nil {
		return fmt.Errorf("failed to add admin: %w", err)
	}
	return nil
}

func (r *pgRunner) CreateAccount(ctx context.Context, account model.Account) error {
	query := `INSERT INTO accounts (address, role, name, location, contact, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, query,
		account.Address,
		account.Role,
		account.Name,
		account.Location,
		account.Contact,
		account.RegisteredAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *pgRunner) PutPolicy(ctx context.Context, policy model.Policy) error {
	query := `INSERT INTO policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		int64(policy.ID),
		policy.Title,
		policy.Description,
		policy.Type,
		bigToNumeric(policy.MonthlyPremium),
		bigToNumeric(policy.YearlyPremium),
		bigToNumeric(policy.CoverageAmount),
		int64(policy.MinAge),
		int64(policy.MaxAge),
		int64(policy.DurationDays),
		int64(policy.WaitingPeriodDays),
		policy.CreatedAt,
		policy.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (r *pgRunner) AppendOwnership(ctx context.Context, record model.OwnershipRecord) error {
	query := `INSERT INTO ownerships (owner, policy_id, purchased_at, expires_at, premium_paid,
		active, token_id, metadata_ref, escrow_id, holder_name, holder_age, holder_gender, holder_blood_group)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		record.Owner,
		int64(record.PolicyID),
		record.PurchasedAt,
		record.ExpiresAt,
		bigToNumeric(record.PremiumPaid),
		record.Active,
		record.TokenID,
		record.MetadataRef,
		int64(record.EscrowID),
		record.Holder.Name,
		int64(record.Holder.Age),
		record.Holder.Gender,
		record.Holder.BloodGroup,
	)
	if err != nil {
		return fmt.Errorf("failed to append ownership: %w", err)
	}
	return nil
}

func (r *pgRunner) PutEscrow(ctx context.Context, escrow model.EscrowRecord) error {
	query := `INSERT INTO escrows (id, owner, policy_id, monthly_premium, next_payment_due,
		payments_made, payments_required, balance, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET monthly_premium = $4, next_payment_due = $5,
		payments_made = $6, payments_required = $7, balance = $8, active = $9`
	_, err := r.q.Exec(ctx, query,
		int64(escrow.ID),
		escrow.Owner,
		int64(escrow.PolicyID),
		bigToNumeric(escrow.MonthlyPremium),
		escrow.NextPaymentDue,
		int64(escrow.PaymentsMade),
		int64(escrow.PaymentsRequired),
		bigToNumeric(escrow.Balance),
		escrow.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to put escrow: %w", err)
	}
	return nil
}

func (r *pgRunner) PutTokenMetadata(ctx context.Context, meta model.TokenMetadata) error {
	query := `INSERT INTO token_metadata (token_id, name, description, image_ref, coverage_amount,
		valid_from, valid_until, premium_amount, policy_type, holder_name, holder_age, holder_gender, holder_blood_group)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		meta.TokenID,
		meta.Name,
		meta.Description,
		meta.ImageRef,
		bigToNumeric(meta.CoverageAmount),
		meta.ValidFrom,
		meta.ValidUntil,
		bigToNumeric(meta.PremiumAmount),
		meta.PolicyType,
		meta.Holder.Name,
		int64(meta.Holder.Age),
		meta.Holder.Gender,
		meta.Holder.BloodGroup,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to put token metadata: %w", err)
	}
	return nil
}

func (r *pgRunner) AppendPolicyToken(ctx context.Context, policyID uint64, tokenID string) error {
	_, err := r.q.Exec(ctx, `INSERT INTO policy_tokens (policy_id, token_id) VALUES ($1, $2)`,
		int64(policyID), tokenID)
	if err != nil {
		return fmt.Errorf("failed to append policy token: %w", err)
	}
	return nil
}

func (r *pgRunner) PutClaim(ctx context.Context, claim model.Claim) error {
	query := `INSERT INTO claims (` + claimColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET status = $6, processed_at = $8`
	_, err := r.q.Exec(ctx, query,
		int64(claim.ID),
		int64(claim.PolicyID),
		claim.Owner,
		bigToNumeric(claim.Amount),
		int32(claim.RiskScore),
		claim.Status,
		claim.ClaimedAt,
		claim.ProcessedAt,
		claim.HealthID,
		claim.DocumentCID,
		claim.OracleRequestID,
		claim.Description,
		claim.ProviderName,
	)
	if err != nil {
		return fmt.Errorf("failed to put claim: %w", err)
	}
	return nil
}

func (r *pgRunner) PutOracleRequest(ctx context.Context, req model.OracleRequest) error {
	query := `INSERT INTO oracle_requests (request_id, claim_id, health_id, document_cid, requested_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO UPDATE SET status = $6`
	_, err := r.q.Exec(ctx, query,
		req.RequestID,
		int64(req.ClaimID),
		req.HealthID,
		req.DocumentCID,
		req.RequestedAt,
		req.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to put oracle request: %w", err)
	}
	return nil
}

func (r *pgRunner) CreditTreasury(ctx context.Context, delta *big.Int) error {
	_, err := r.q.Exec(ctx, `UPDATE treasury SET balance = balance + $1`, bigToNumeric(delta))
	if err != nil {
		return fmt.Errorf("failed to credit treasury: %w", err)
	}
	return nil
}
