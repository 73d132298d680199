// internal/server/mux_test.go
// Tests for the HTTP handlers, middleware, and error envelope. The engine
// runs against in-memory storage with a stub custody client; tokens are
// unsigned and validated by the test-mode JWKS client.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/insurechain/insurechain-ledger-go/internal/event"
	"github.com/insurechain/insurechain-ledger-go/internal/jwks"
	"github.com/insurechain/insurechain-ledger-go/internal/ledger"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

const (
	testIssuer   = "test-issuer"
	testAudience = "test-audience"
)

// stubTransfers accepts every transfer.
type stubTransfers struct{}

func (stubTransfers) Transfer(ctx context.Context, from, to string, amount *big.Int) error {
	return nil
}

// envelope mirrors the response wrapper written by the mux.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
	} `json:"error"`
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store := storage.NewMemory()
	engine := ledger.New(ledger.Options{
		Store:            store,
		Transfers:        stubTransfers{},
		Events:           event.NewNoop(),
		CustodialAddress: "GCUSTODY",
	})
	mux, err := NewMux(Options{
		Engine:           engine,
		Store:            store,
		JWKSClient:       jwks.NewTestClient(),
		JWTIssuer:        testIssuer,
		JWTAudience:      testAudience,
		MaxEvidenceSize:  10 * 1024 * 1024,
		AllowedMimeTypes: []string{"application/pdf", "image/jpeg"},
	})
	if err != nil {
		t.Fatalf("NewMux failed: %v", err)
	}
	return mux
}

// testToken mints an unsigned token accepted by the test-mode JWKS client.
func testToken(t *testing.T, sub string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": sub,
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

// do runs one request against the mux. A non-empty token becomes the bearer
// credential; body is JSON-encoded when non-nil.
func do(t *testing.T, mux *http.ServeMux, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, env
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

func wantErrorCode(t *testing.T, env envelope, code string) {
	t.Helper()
	if env.Error == nil {
		t.Fatalf("expected error envelope with code %s, got none", code)
	}
	if env.Error.Code != code {
		t.Fatalf("error code = %s, want %s (%s)", env.Error.Code, code, env.Error.Message)
	}
}

// initialize bootstraps the ledger through the HTTP surface.
func initialize(t *testing.T, mux *http.ServeMux, admin string) {
	t.Helper()
	rr, _ := do(t, mux, "POST", "/v1/ledger/initialize", testToken(t, admin, time.Hour), nil)
	wantStatus(t, rr, http.StatusOK)
}

func register(t *testing.T, mux *http.ServeMux, address, role string) {
	t.Helper()
	rr, _ := do(t, mux, "POST", "/v1/users/register", testToken(t, address, time.Hour),
		map[string]string{"role": role})
	wantStatus(t, rr, http.StatusCreated)
}

func validPolicyBody() map[string]interface{} {
	return map[string]interface{}{
		"title":          "Basic Health Cover",
		"type":           "health",
		"monthlyPremium": 100,
		"yearlyPremium":  1200,
		"coverageAmount": 50000,
		"durationDays":   365,
	}
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", rr.Code, rr.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	mux := newTestMux(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/readyz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("readyz = %d %q, want 200 ok", rr.Code, rr.Body.String())
	}
}

func TestAuthentication(t *testing.T) {
	mux := newTestMux(t)

	// No credential.
	rr, env := do(t, mux, "POST", "/v1/users/register", "", map[string]string{"role": "policyholder"})
	wantStatus(t, rr, http.StatusUnauthorized)
	wantErrorCode(t, env, "INS_AUTHN")

	// Not a token at all.
	rr, env = do(t, mux, "POST", "/v1/users/register", "not-a-jwt", map[string]string{"role": "policyholder"})
	wantStatus(t, rr, http.StatusUnauthorized)
	wantErrorCode(t, env, "INS_JWT_MALFORMED")

	// Expired.
	rr, env = do(t, mux, "POST", "/v1/users/register", testToken(t, "GHOLDER", -time.Hour),
		map[string]string{"role": "policyholder"})
	wantStatus(t, rr, http.StatusUnauthorized)
	wantErrorCode(t, env, "INS_JWT_EXPIRED")

	// Wrong issuer.
	claims := jwt.MapClaims{"iss": "evil", "aud": testAudience, "sub": "GHOLDER", "exp": time.Now().Add(time.Hour).Unix()}
	bad, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	rr, env = do(t, mux, "POST", "/v1/users/register", bad, map[string]string{"role": "policyholder"})
	wantStatus(t, rr, http.StatusUnauthorized)
	wantErrorCode(t, env, "INS_JWT_INVALID")
}

func TestRegisterAndRole(t *testing.T) {
	mux := newTestMux(t)
	register(t, mux, "GHOLDER", "policyholder")

	rr, env := do(t, mux, "GET", "/v1/users/GHOLDER/role", "", nil)
	wantStatus(t, rr, http.StatusOK)
	var role map[string]string
	if err := json.Unmarshal(env.Data, &role); err != nil {
		t.Fatalf("failed to decode role: %v", err)
	}
	if role["role"] != "policyholder" {
		t.Errorf("role = %s, want policyholder", role["role"])
	}

	// Unknown addresses report unregistered, not 404.
	rr, env = do(t, mux, "GET", "/v1/users/GUNKNOWN/role", "", nil)
	wantStatus(t, rr, http.StatusOK)
	if err := json.Unmarshal(env.Data, &role); err != nil {
		t.Fatalf("failed to decode role: %v", err)
	}
	if role["role"] != "unregistered" {
		t.Errorf("role = %s, want unregistered", role["role"])
	}

	// Duplicate registration conflicts.
	rr, env = do(t, mux, "POST", "/v1/users/register", testToken(t, "GHOLDER", time.Hour),
		map[string]string{"role": "policyholder"})
	wantStatus(t, rr, http.StatusConflict)
	wantErrorCode(t, env, "INS_ALREADY_REGISTERED")
}

func TestInitializeOnce(t *testing.T) {
	mux := newTestMux(t)
	initialize(t, mux, "GADMIN")

	rr, env := do(t, mux, "POST", "/v1/ledger/initialize", testToken(t, "GADMIN", time.Hour), nil)
	wantStatus(t, rr, http.StatusConflict)
	wantErrorCode(t, env, "INS_ALREADY_INITIALIZED")
}

func TestCreatePolicySchemaReject(t *testing.T) {
	mux := newTestMux(t)
	initialize(t, mux, "GADMIN")
	token := testToken(t, "GADMIN", time.Hour)

	// Missing required fields.
	rr, env := do(t, mux, "POST", "/v1/policies", token, map[string]interface{}{"title": "Broken"})
	wantStatus(t, rr, http.StatusBadRequest)
	wantErrorCode(t, env, "INS_SCHEMA_REJECT")

	// Money as a quoted string is rejected at the schema boundary.
	body := validPolicyBody()
	body["monthlyPremium"] = "100"
	rr, env = do(t, mux, "POST", "/v1/policies", token, body)
	wantStatus(t, rr, http.StatusBadRequest)
	wantErrorCode(t, env, "INS_SCHEMA_REJECT")

	// Unknown policy type.
	body = validPolicyBody()
	body["type"] = "pet"
	rr, env = do(t, mux, "POST", "/v1/policies", token, body)
	wantStatus(t, rr, http.StatusBadRequest)
	wantErrorCode(t, env, "INS_SCHEMA_REJECT")
}

func TestPolicyLifecycle(t *testing.T) {
	mux := newTestMux(t)
	initialize(t, mux, "GADMIN")
	register(t, mux, "GHOLDER", "policyholder")
	adminToken := testToken(t, "GADMIN", time.Hour)
	holderToken := testToken(t, "GHOLDER", time.Hour)

	// Only admins create policies.
	rr, env := do(t, mux, "POST", "/v1/policies", holderToken, validPolicyBody())
	wantStatus(t, rr, http.StatusForbidden)
	wantErrorCode(t, env, "INS_NOT_ADMIN")

	rr, env = do(t, mux, "POST", "/v1/policies", adminToken, validPolicyBody())
	wantStatus(t, rr, http.StatusCreated)
	var policy struct {
		ID    uint64 `json:"id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(env.Data, &policy); err != nil {
		t.Fatalf("failed to decode policy: %v", err)
	}
	if policy.ID != 1 || policy.Title != "Basic Health Cover" {
		t.Errorf("created policy = %+v", policy)
	}

	rr, _ = do(t, mux, "GET", "/v1/policies", "", nil)
	wantStatus(t, rr, http.StatusOK)
	rr, _ = do(t, mux, "GET", "/v1/policies/1", "", nil)
	wantStatus(t, rr, http.StatusOK)

	rr, env = do(t, mux, "GET", "/v1/policies/99", "", nil)
	wantStatus(t, rr, http.StatusNotFound)
	wantErrorCode(t, env, "INS_POLICY_NOT_FOUND")

	rr, env = do(t, mux, "GET", "/v1/policies/abc", "", nil)
	wantStatus(t, rr, http.StatusBadRequest)
	wantErrorCode(t, env, "INS_VALIDATION")
}

func TestPurchaseAndClaimFlow(t *testing.T) {
	mux := newTestMux(t)
	initialize(t, mux, "GADMIN")
	register(t, mux, "GHOLDER", "policyholder")
	adminToken := testToken(t, "GADMIN", time.Hour)
	holderToken := testToken(t, "GHOLDER", time.Hour)

	rr, _ := do(t, mux, "POST", "/v1/policies", adminToken, validPolicyBody())
	wantStatus(t, rr, http.StatusCreated)

	// Underpayment.
	rr, env := do(t, mux, "POST", "/v1/policies/1/purchase", holderToken,
		map[string]interface{}{"paymentAmount": 999})
	wantStatus(t, rr, http.StatusPaymentRequired)
	wantErrorCode(t, env, "INS_INSUFFICIENT_PAYMENT")

	rr, env = do(t, mux, "POST", "/v1/policies/1/purchase", holderToken,
		map[string]interface{}{"paymentAmount": 1000, "metadataRef": "ipfs://img"})
	wantStatus(t, rr, http.StatusCreated)
	var result struct {
		TokenID  string `json:"tokenId"`
		EscrowID uint64 `json:"escrowId"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("failed to decode purchase result: %v", err)
	}
	if result.TokenID != "POL-000001" || result.EscrowID != 1 {
		t.Errorf("purchase result = %+v", result)
	}

	rr, _ = do(t, mux, "GET", "/v1/escrows/1", "", nil)
	wantStatus(t, rr, http.StatusOK)
	rr, _ = do(t, mux, "GET", "/v1/tokens/POL-000001/metadata", "", nil)
	wantStatus(t, rr, http.StatusOK)
	rr, _ = do(t, mux, "GET", "/v1/users/GHOLDER/policies", "", nil)
	wantStatus(t, rr, http.StatusOK)

	// Mid-band claim lands pending, then the admin approves it.
	rr, env = do(t, mux, "POST", "/v1/claims", holderToken,
		map[string]interface{}{"policyId": 1, "riskScore": 50, "healthId": "HID-1"})
	wantStatus(t, rr, http.StatusCreated)
	var claim struct {
		ID     uint64 `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &claim); err != nil {
		t.Fatalf("failed to decode claim: %v", err)
	}
	if claim.Status != "pending" {
		t.Fatalf("claim status = %s, want pending", claim.Status)
	}

	rr, env = do(t, mux, "POST", "/v1/claims/1/approve", holderToken, nil)
	wantStatus(t, rr, http.StatusForbidden)
	wantErrorCode(t, env, "INS_NOT_ADMIN")

	rr, env = do(t, mux, "POST", "/v1/claims/1/approve", adminToken, nil)
	wantStatus(t, rr, http.StatusOK)
	if err := json.Unmarshal(env.Data, &claim); err != nil {
		t.Fatalf("failed to decode claim: %v", err)
	}
	if claim.Status != "approved" {
		t.Errorf("claim status = %s, want approved", claim.Status)
	}

	rr, env = do(t, mux, "POST", "/v1/claims/1/approve", adminToken, nil)
	wantStatus(t, rr, http.StatusConflict)
	wantErrorCode(t, env, "INS_CLAIM_NOT_PENDING")

	// Treasury reflects the collected premium.
	rr, env = do(t, mux, "GET", "/v1/treasury", "", nil)
	wantStatus(t, rr, http.StatusOK)
	var treasury struct {
		Balance     int64  `json:"balance"`
		TotalTokens uint64 `json:"totalTokens"`
	}
	if err := json.Unmarshal(env.Data, &treasury); err != nil {
		t.Fatalf("failed to decode treasury: %v", err)
	}
	if treasury.Balance != 1000 || treasury.TotalTokens != 1 {
		t.Errorf("treasury = %+v, want balance 1000 / tokens 1", treasury)
	}
}

func TestClaimsSearch(t *testing.T) {
	mux := newTestMux(t)

	rr, env := do(t, mux, "GET", "/v1/claims/search", "", nil)
	wantStatus(t, rr, http.StatusBadRequest)
	wantErrorCode(t, env, "INS_VALIDATION")

	rr, env = do(t, mux, "GET", "/v1/claims/search?documentCid=bafy-none", "", nil)
	wantStatus(t, rr, http.StatusOK)
	var exists map[string]bool
	if err := json.Unmarshal(env.Data, &exists); err != nil {
		t.Fatalf("failed to decode search response: %v", err)
	}
	if exists["exists"] {
		t.Error("exists = true for an unreferenced document")
	}
}

func TestOracleEndpoints(t *testing.T) {
	mux := newTestMux(t)
	token := testToken(t, "GRELAY", time.Hour)

	rr, _ := do(t, mux, "POST", "/v1/oracle/requests", token,
		map[string]interface{}{"requestId": "req-1", "claimId": 1})
	wantStatus(t, rr, http.StatusCreated)

	// Callback bodies are schema-checked before the engine sees them.
	rr, env := do(t, mux, "POST", "/v1/oracle/requests/req-1/status", token,
		map[string]string{"status": "pending"})
	wantStatus(t, rr, http.StatusBadRequest)
	wantErrorCode(t, env, "INS_SCHEMA_REJECT")

	rr, _ = do(t, mux, "POST", "/v1/oracle/requests/req-1/status", token,
		map[string]string{"status": "completed"})
	wantStatus(t, rr, http.StatusOK)

	rr, env = do(t, mux, "GET", "/v1/oracle/requests/req-1", "", nil)
	wantStatus(t, rr, http.StatusOK)
	var stored struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &stored); err != nil {
		t.Fatalf("failed to decode oracle request: %v", err)
	}
	if stored.Status != "completed" {
		t.Errorf("oracle status = %s, want completed", stored.Status)
	}

	// Unknown callback ids succeed as a no-op.
	rr, _ = do(t, mux, "POST", "/v1/oracle/requests/req-missing/status", token,
		map[string]string{"status": "failed"})
	wantStatus(t, rr, http.StatusOK)
}

func TestEvidenceUnavailableWithoutS3(t *testing.T) {
	mux := newTestMux(t)
	token := testToken(t, "GHOLDER", time.Hour)

	rr, env := do(t, mux, "POST", "/v1/claims/evidence/uploadInit", token,
		map[string]interface{}{"mimeType": "application/pdf", "size": 1024})
	wantStatus(t, rr, http.StatusServiceUnavailable)
	wantErrorCode(t, env, "INS_UNAVAILABLE")

	rr, env = do(t, mux, "POST", "/v1/claims/evidence/finalize", token,
		map[string]string{"documentId": "evidence/x", "sha256": "abc"})
	wantStatus(t, rr, http.StatusServiceUnavailable)
	wantErrorCode(t, env, "INS_UNAVAILABLE")
}

func TestCorrelationID(t *testing.T) {
	mux := newTestMux(t)

	// A supplied correlation id is echoed on the response and in the error body.
	req := httptest.NewRequest("GET", "/v1/policies/99", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Correlation-Id"); got != "corr-123" {
		t.Errorf("X-Correlation-Id header = %q, want corr-123", got)
	}
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if env.Error == nil || env.Error.CorrelationID != "corr-123" {
		t.Errorf("error correlationId = %+v, want corr-123", env.Error)
	}

	// Absent a supplied id, one is generated.
	rr2 := httptest.NewRecorder()
	mux.ServeHTTP(rr2, httptest.NewRequest("GET", "/v1/policies", nil))
	if rr2.Header().Get("X-Correlation-Id") == "" {
		t.Error("expected a generated X-Correlation-Id header")
	}
}
