// internal/ledger/engine_test.go
// Shared test fixtures plus tests for the engine bootstrap, the role
// registry, and the policy catalog.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/event"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

const (
	custodialAddr = "GCUSTODY"
	adminAddr     = "GADMIN"
	holderAddr    = "GHOLDER"
)

// testTime is the fixed clock used by test engines.
var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// transferCall records one call against the fake custody client.
type transferCall struct {
	from   string
	to     string
	amount *big.Int
}

// fakeTransfers implements token.Client. Setting err makes every subsequent
// transfer fail without being recorded.
type fakeTransfers struct {
	calls []transferCall
	err   error
}

func (f *fakeTransfers) Transfer(ctx context.Context, from, to string, amount *big.Int) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, transferCall{from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

// newTestEngine builds an engine on in-memory storage with a fixed clock.
func newTestEngine(t *testing.T) (*Engine, *fakeTransfers) {
	t.Helper()
	transfers := &fakeTransfers{}
	e := New(Options{
		Store:            storage.NewMemory(),
		Transfers:        transfers,
		Events:           event.NewNoop(),
		CustodialAddress: custodialAddr,
		Now:              func() time.Time { return testTime },
	})
	return e, transfers
}

// wantCode asserts that err carries the given ledger error code.
func wantCode(t *testing.T, err error, code inerr.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var ledgerErr *inerr.Error
	if !errors.As(err, &ledgerErr) {
		t.Fatalf("expected *errors.Error with code %s, got %T: %v", code, err, err)
	}
	if ledgerErr.Code != code {
		t.Fatalf("expected error code %s, got %s (%s)", code, ledgerErr.Code, ledgerErr.Message)
	}
}

func mustInitialize(t *testing.T, e *Engine, caller string) {
	t.Helper()
	if err := e.Initialize(context.Background(), caller); err != nil {
		t.Fatalf("Initialize(%s) failed: %v", caller, err)
	}
}

func mustRegister(t *testing.T, e *Engine, caller string, role model.Role) {
	t.Helper()
	if _, err := e.RegisterUser(context.Background(), caller, role); err != nil {
		t.Fatalf("RegisterUser(%s, %s) failed: %v", caller, role, err)
	}
}

// testPolicyParams returns a valid health policy: monthly premium 100,
// yearly 1200, coverage 50000, one year duration.
func testPolicyParams() model.PolicyParams {
	return model.PolicyParams{
		Title:          "Basic Health Cover",
		Description:    "Annual health insurance",
		Type:           model.PolicyTypeHealth,
		MonthlyPremium: big.NewInt(100),
		YearlyPremium:  big.NewInt(1200),
		CoverageAmount: big.NewInt(50000),
		MinAge:         18,
		MaxAge:         65,
		DurationDays:   365,
	}
}

func mustCreatePolicy(t *testing.T, e *Engine, caller string, params model.PolicyParams) *model.Policy {
	t.Helper()
	policy, err := e.CreatePolicy(context.Background(), caller, params)
	if err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	return policy
}

func TestMinimumPayment(t *testing.T) {
	cases := []struct {
		monthly int64
		want    int64
	}{
		{monthly: 100, want: 1000},
		{monthly: 7, want: 70},
		{monthly: 1, want: 10},
	}
	for _, tc := range cases {
		got := MinimumPayment(big.NewInt(tc.monthly))
		if got.Int64() != tc.want {
			t.Errorf("MinimumPayment(%d) = %s, want %d", tc.monthly, got, tc.want)
		}
	}
}

func TestTokenID(t *testing.T) {
	if got := TokenID(1); got != "POL-000001" {
		t.Errorf("TokenID(1) = %q, want POL-000001", got)
	}
	if got := TokenID(42); got != "POL-000042" {
		t.Errorf("TokenID(42) = %q, want POL-000042", got)
	}
	// Identifiers beyond six digits keep the full counter value.
	if got := TokenID(1234567); got != "POL-1234567" {
		t.Errorf("TokenID(1234567) = %q, want POL-1234567", got)
	}
}

func TestInitialize(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	initialized, err := e.Initialized(ctx)
	if err != nil || initialized {
		t.Fatalf("Initialized() before bootstrap = %v, %v; want false, nil", initialized, err)
	}

	mustInitialize(t, e, adminAddr)

	initialized, err = e.Initialized(ctx)
	if err != nil || !initialized {
		t.Fatalf("Initialized() after bootstrap = %v, %v; want true, nil", initialized, err)
	}

	// The bootstrap admin holds an admin account.
	admin, err := e.IsAdmin(ctx, adminAddr)
	if err != nil || !admin {
		t.Fatalf("IsAdmin(%s) = %v, %v; want true, nil", adminAddr, admin, err)
	}
	account, err := e.GetUser(ctx, adminAddr)
	if err != nil {
		t.Fatalf("GetUser(%s) failed: %v", adminAddr, err)
	}
	if account.Role != model.RoleAdmin {
		t.Errorf("bootstrap admin role = %s, want %s", account.Role, model.RoleAdmin)
	}

	// Bootstrap is one-shot, from any caller.
	wantCode(t, e.Initialize(ctx, adminAddr), inerr.INS_ALREADY_INITIALIZED)
	wantCode(t, e.Initialize(ctx, "GOTHER"), inerr.INS_ALREADY_INITIALIZED)
}

func TestRegisterUser(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	account, err := e.RegisterUser(ctx, holderAddr, model.RolePolicyholder)
	if err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if account.Address != holderAddr || account.Role != model.RolePolicyholder {
		t.Errorf("registered account = %+v", account)
	}
	if !account.RegisteredAt.Equal(testTime) {
		t.Errorf("RegisteredAt = %v, want %v", account.RegisteredAt, testTime)
	}

	// Duplicate registration fails regardless of the requested role.
	_, err = e.RegisterUser(ctx, holderAddr, model.RoleAdmin)
	wantCode(t, err, inerr.INS_ALREADY_REGISTERED)

	// Admin registrations join the admin set.
	mustRegister(t, e, "GADMIN2", model.RoleAdmin)
	admin, err := e.IsAdmin(ctx, "GADMIN2")
	if err != nil || !admin {
		t.Fatalf("IsAdmin(GADMIN2) = %v, %v; want true, nil", admin, err)
	}
}

func TestRegisterUserInvalidRole(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, role := range []model.Role{"", "unregistered", "auditor"} {
		_, err := e.RegisterUser(ctx, holderAddr, role)
		wantCode(t, err, inerr.INS_INVALID_ROLE)
	}
}

func TestRoleOf(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Unknown addresses report the derived unregistered role, not an error.
	role, err := e.RoleOf(ctx, "GUNKNOWN")
	if err != nil {
		t.Fatalf("RoleOf(unknown) failed: %v", err)
	}
	if role != model.RoleUnregistered {
		t.Errorf("RoleOf(unknown) = %s, want %s", role, model.RoleUnregistered)
	}

	mustRegister(t, e, holderAddr, model.RolePolicyholder)
	role, err = e.RoleOf(ctx, holderAddr)
	if err != nil || role != model.RolePolicyholder {
		t.Errorf("RoleOf(%s) = %s, %v; want %s, nil", holderAddr, role, err, model.RolePolicyholder)
	}
}

func TestGetUserNotRegistered(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.GetUser(context.Background(), "GUNKNOWN")
	wantCode(t, err, inerr.INS_NOT_REGISTERED)
}

func TestCreatePolicy(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustInitialize(t, e, adminAddr)

	policy := mustCreatePolicy(t, e, adminAddr, testPolicyParams())
	if policy.ID != 1 {
		t.Errorf("first policy id = %d, want 1", policy.ID)
	}
	if policy.CreatedBy != adminAddr {
		t.Errorf("CreatedBy = %s, want %s", policy.CreatedBy, adminAddr)
	}
	if !policy.CreatedAt.Equal(testTime) {
		t.Errorf("CreatedAt = %v, want %v", policy.CreatedAt, testTime)
	}

	got, err := e.GetPolicy(ctx, 1)
	if err != nil {
		t.Fatalf("GetPolicy(1) failed: %v", err)
	}
	if got.Title != "Basic Health Cover" || got.MonthlyPremium.Int64() != 100 {
		t.Errorf("stored policy = %+v", got)
	}
}

func TestCreatePolicyRequiresAdmin(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustInitialize(t, e, adminAddr)
	mustRegister(t, e, holderAddr, model.RolePolicyholder)

	_, err := e.CreatePolicy(ctx, holderAddr, testPolicyParams())
	wantCode(t, err, inerr.INS_NOT_ADMIN)

	_, err = e.CreatePolicy(ctx, "GUNKNOWN", testPolicyParams())
	wantCode(t, err, inerr.INS_NOT_ADMIN)
}

func TestCreatePolicyValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustInitialize(t, e, adminAddr)

	cases := []struct {
		name   string
		mutate func(*model.PolicyParams)
	}{
		{"missing title", func(p *model.PolicyParams) { p.Title = "" }},
		{"nil monthly premium", func(p *model.PolicyParams) { p.MonthlyPremium = nil }},
		{"zero monthly premium", func(p *model.PolicyParams) { p.MonthlyPremium = big.NewInt(0) }},
		{"negative yearly premium", func(p *model.PolicyParams) { p.YearlyPremium = big.NewInt(-1) }},
		{"zero coverage", func(p *model.PolicyParams) { p.CoverageAmount = big.NewInt(0) }},
		{"inverted age range", func(p *model.PolicyParams) { p.MinAge = 70; p.MaxAge = 60 }},
		{"zero duration", func(p *model.PolicyParams) { p.DurationDays = 0 }},
		{"unknown type", func(p *model.PolicyParams) { p.Type = "pet" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := testPolicyParams()
			tc.mutate(&params)
			_, err := e.CreatePolicy(ctx, adminAddr, params)
			wantCode(t, err, inerr.INS_VALIDATION)
		})
	}

	// Failed validation never consumes a policy id.
	policy := mustCreatePolicy(t, e, adminAddr, testPolicyParams())
	if policy.ID != 1 {
		t.Errorf("policy id after rejected creates = %d, want 1", policy.ID)
	}
}

func TestListPoliciesDense(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustInitialize(t, e, adminAddr)

	for i := 0; i < 3; i++ {
		mustCreatePolicy(t, e, adminAddr, testPolicyParams())
	}

	policies, err := e.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies failed: %v", err)
	}
	if len(policies) != 3 {
		t.Fatalf("ListPolicies returned %d policies, want 3", len(policies))
	}
	for i, policy := range policies {
		if policy.ID != uint64(i+1) {
			t.Errorf("policy[%d].ID = %d, want %d", i, policy.ID, i+1)
		}
	}
}

func TestGetPolicyNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.GetPolicy(context.Background(), 99)
	wantCode(t, err, inerr.INS_POLICY_NOT_FOUND)

	_, err = e.GetPolicyTokens(context.Background(), 99)
	wantCode(t, err, inerr.INS_POLICY_NOT_FOUND)
}

func TestTreasuryEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	balance, totalTokens, err := e.Treasury(context.Background())
	if err != nil {
		t.Fatalf("Treasury failed: %v", err)
	}
	if balance.Sign() != 0 {
		t.Errorf("initial treasury balance = %s, want 0", balance)
	}
	if totalTokens != 0 {
		t.Errorf("initial token count = %d, want 0", totalTokens)
	}
}
