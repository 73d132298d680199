// integration/ledger_flow_test.go
// Package integration exercises the full authentication path: ed25519-signed
// JWTs validated against a live JWKS endpoint, driving the marketplace
// lifecycle over HTTP.
package integration

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
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
	"github.com/insurechain/insurechain-ledger-go/internal/server"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

const (
	issuer   = "https://auth.example.test"
	audience = "insurance-ledger"
	keyID    = "signing-key-1"
)

// acceptAllTransfers implements token.Client for integration testing.
type acceptAllTransfers struct{}

func (acceptAllTransfers) Transfer(ctx context.Context, from, to string, amount *big.Int) error {
	return nil
}

// testEnv bundles the ledger server, the JWKS server backing it, and the
// signing key for minting caller credentials.
type testEnv struct {
	ledger *httptest.Server
	jwksS  *httptest.Server
	priv   ed25519.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}

	// Serve the public key as a JWKS document, the way the issuer would.
	keySet := jwks.JWKS{Keys: []jwks.JWK{{
		Kty: "OKP",
		Kid: keyID,
		Use: "sig",
		Alg: "EdDSA",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}}}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keySet)
	}))

	store := storage.NewMemory()
	engine := ledger.New(ledger.Options{
		Store:            store,
		Transfers:        acceptAllTransfers{},
		Events:           event.NewNoop(),
		CustodialAddress: "GCUSTODY",
	})
	mux, err := server.NewMux(server.Options{
		Engine:           engine,
		Store:            store,
		JWKSClient:       jwks.NewClient(jwksServer.URL),
		JWTIssuer:        issuer,
		JWTAudience:      audience,
		MaxEvidenceSize:  10 * 1024 * 1024,
		AllowedMimeTypes: []string{"application/pdf"},
	})
	if err != nil {
		jwksServer.Close()
		t.Fatalf("NewMux failed: %v", err)
	}

	env := &testEnv{
		ledger: httptest.NewServer(mux),
		jwksS:  jwksServer,
		priv:   priv,
	}
	t.Cleanup(func() {
		env.ledger.Close()
		env.jwksS.Close()
	})
	return env
}

// sign mints an EdDSA-signed token for the given subject using key.
func (env *testEnv) sign(t *testing.T, key ed25519.PrivateKey, sub, kid string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": sub,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (env *testEnv) token(t *testing.T, sub string) string {
	return env.sign(t, env.priv, sub, keyID, time.Hour)
}

// post issues an authenticated JSON POST and returns the status code plus the
// decoded envelope.
func (env *testEnv) post(t *testing.T, path, token string, body interface{}) (int, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest("POST", env.ledger.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode POST %s response: %v", path, err)
	}
	return resp.StatusCode, envelope
}

func errorCode(t *testing.T, envelope map[string]json.RawMessage) string {
	t.Helper()
	var e struct {
		Code string `json:"code"`
	}
	if raw, ok := envelope["error"]; ok {
		if err := json.Unmarshal(raw, &e); err != nil {
			t.Fatalf("failed to decode error: %v", err)
		}
	}
	return e.Code
}

func TestSignedJWTFlow(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.post(t, "/v1/ledger/initialize", env.token(t, "GADMIN"), nil)
	if status != http.StatusOK {
		t.Fatalf("initialize = %d, want 200", status)
	}

	status, _ = env.post(t, "/v1/users/register", env.token(t, "GHOLDER"),
		map[string]string{"role": "policyholder"})
	if status != http.StatusCreated {
		t.Fatalf("register = %d, want 201", status)
	}

	status, _ = env.post(t, "/v1/policies", env.token(t, "GADMIN"), map[string]interface{}{
		"title":          "Annual Health Cover",
		"type":           "health",
		"monthlyPremium": 100,
		"yearlyPremium":  1200,
		"coverageAmount": 50000,
		"durationDays":   365,
	})
	if status != http.StatusCreated {
		t.Fatalf("create policy = %d, want 201", status)
	}

	status, envelope := env.post(t, "/v1/policies/1/purchase", env.token(t, "GHOLDER"),
		map[string]interface{}{"paymentAmount": 1000})
	if status != http.StatusCreated {
		t.Fatalf("purchase = %d, want 201 (%s)", status, envelope["error"])
	}

	status, envelope = env.post(t, "/v1/claims", env.token(t, "GHOLDER"),
		map[string]interface{}{"policyId": 1, "riskScore": 20})
	if status != http.StatusCreated {
		t.Fatalf("submit claim = %d, want 201 (%s)", status, envelope["error"])
	}
	var claim struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(envelope["data"], &claim); err != nil {
		t.Fatalf("failed to decode claim: %v", err)
	}
	if claim.Status != "approved" {
		t.Errorf("claim status = %s, want approved", claim.Status)
	}
}

func TestSignatureRejection(t *testing.T) {
	env := newTestEnv(t)

	// Signed with a key the JWKS endpoint never published.
	_, rogueKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	status, envelope := env.post(t, "/v1/users/register",
		env.sign(t, rogueKey, "GHOLDER", keyID, time.Hour),
		map[string]string{"role": "policyholder"})
	if status != http.StatusUnauthorized {
		t.Errorf("forged signature = %d, want 401", status)
	}
	if code := errorCode(t, envelope); code != "INS_JWT_INVALID" {
		t.Errorf("error code = %s, want INS_JWT_INVALID", code)
	}

	// Unknown key id.
	status, envelope = env.post(t, "/v1/users/register",
		env.sign(t, env.priv, "GHOLDER", "unknown-key", time.Hour),
		map[string]string{"role": "policyholder"})
	if status != http.StatusUnauthorized {
		t.Errorf("unknown kid = %d, want 401", status)
	}

	// Correctly signed but expired.
	status, envelope = env.post(t, "/v1/users/register",
		env.sign(t, env.priv, "GHOLDER", keyID, -time.Hour),
		map[string]string{"role": "policyholder"})
	if status != http.StatusUnauthorized {
		t.Errorf("expired token = %d, want 401", status)
	}
	if code := errorCode(t, envelope); code != "INS_JWT_EXPIRED" {
		t.Errorf("error code = %s, want INS_JWT_EXPIRED", code)
	}
}
