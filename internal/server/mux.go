// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the insurance
// ledger service. Mutating routes require a Bearer JWT whose subject is the
// caller's ledger address; reads are public.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	errordefs "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/jwks"
	"github.com/insurechain/insurechain-ledger-go/internal/ledger"
	"github.com/insurechain/insurechain-ledger-go/internal/media"
	"github.com/insurechain/insurechain-ledger-go/internal/metrics"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
	"github.com/insurechain/insurechain-ledger-go/internal/schema"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

// ContextKey is used for context values to avoid collisions
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeyCaller        ContextKey = "caller"        // Caller address from the JWT subject
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking

	tracerName = "insurance-ledger"
)

// Mux handles HTTP requests for the ledger service.
type Mux struct {
	mux        *http.ServeMux
	engine     *ledger.Engine
	store      storage.Store // Probed directly by the readiness check
	jwksClient *jwks.Client
	validator  *schema.Validator
	evidence   *media.S3Client // nil when S3 is not configured
	metrics    *metrics.Metrics

	jwtIssuer   string
	jwtAudience string

	// Evidence limits
	maxEvidenceSize  int64
	allowedMimeTypes []string

	// CORS configuration
	corsAllowedOrigins []string
}

// Options carries the dependencies for NewMux.
type Options struct {
	Engine             *ledger.Engine
	Store              storage.Store
	JWKSClient         *jwks.Client
	JWTIssuer          string
	JWTAudience        string
	Evidence           *media.S3Client
	MaxEvidenceSize    int64
	AllowedMimeTypes   []string
	CORSAllowedOrigins []string
}

// NewMux creates the HTTP mux with all ledger endpoints registered.
func NewMux(opts Options) (*http.ServeMux, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	jwksClient := opts.JWKSClient
	if jwksClient == nil {
		jwksClient = jwks.NewClient(fmt.Sprintf("%s/.well-known/jwks.json", opts.JWTIssuer))
	}

	m := &Mux{
		mux:                http.NewServeMux(),
		engine:             opts.Engine,
		store:              opts.Store,
		jwksClient:         jwksClient,
		validator:          validator,
		evidence:           opts.Evidence,
		metrics:            metrics.NewMetrics(),
		jwtIssuer:          opts.JWTIssuer,
		jwtAudience:        opts.JWTAudience,
		maxEvidenceSize:    opts.MaxEvidenceSize,
		allowedMimeTypes:   opts.AllowedMimeTypes,
		corsAllowedOrigins: opts.CORSAllowedOrigins,
	}

	// Health endpoints
	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	m.mux.Handle("GET /metrics", promhttp.Handler())

	// Registry
	m.mux.HandleFunc("POST /v1/ledger/initialize", m.secured(m.handleInitialize))
	m.mux.HandleFunc("POST /v1/users/register", m.secured(m.handleRegister))
	m.mux.HandleFunc("GET /v1/users/{address}", m.public(m.handleGetUser))
	m.mux.HandleFunc("GET /v1/users/{address}/role", m.public(m.handleGetRole))
	m.mux.HandleFunc("GET /v1/users/{address}/policies", m.public(m.handleUserPolicies))
	m.mux.HandleFunc("GET /v1/users/{address}/tokens", m.public(m.handleUserTokens))
	m.mux.HandleFunc("GET /v1/users/{address}/escrows", m.public(m.handleUserEscrows))
	m.mux.HandleFunc("GET /v1/users/{address}/claims", m.public(m.handleUserClaims))

	// Policy catalog
	m.mux.HandleFunc("POST /v1/policies", m.secured(m.handleCreatePolicy))
	m.mux.HandleFunc("GET /v1/policies", m.public(m.handleListPolicies))
	m.mux.HandleFunc("GET /v1/policies/{id}", m.public(m.handleGetPolicy))
	m.mux.HandleFunc("GET /v1/policies/{id}/tokens", m.public(m.handlePolicyTokens))

	// Purchases and escrows
	m.mux.HandleFunc("POST /v1/policies/{id}/purchase", m.secured(m.handlePurchase))
	m.mux.HandleFunc("POST /v1/escrows/{id}/pay", m.secured(m.handlePayInstallment))
	m.mux.HandleFunc("GET /v1/escrows/{id}", m.public(m.handleGetEscrow))
	m.mux.HandleFunc("GET /v1/tokens/{id}/metadata", m.public(m.handleTokenMetadata))

	// Claims
	m.mux.HandleFunc("POST /v1/claims", m.secured(m.handleSubmitClaim))
	m.mux.HandleFunc("GET /v1/claims", m.public(m.handleListClaims))
	m.mux.HandleFunc("GET /v1/claims/search", m.public(m.handleSearchClaims))
	m.mux.HandleFunc("GET /v1/claims/{id}", m.public(m.handleGetClaim))
	m.mux.HandleFunc("POST /v1/claims/{id}/approve", m.secured(m.handleApproveClaim))

	// Claim evidence uploads
	m.mux.HandleFunc("POST /v1/claims/evidence/uploadInit", m.secured(m.handleEvidenceInit))
	m.mux.HandleFunc("POST /v1/claims/evidence/finalize", m.secured(m.handleEvidenceFinalize))

	// Oracle request tracking
	m.mux.HandleFunc("POST /v1/oracle/requests", m.secured(m.handleStoreOracleRequest))
	m.mux.HandleFunc("POST /v1/oracle/requests/{id}/status", m.secured(m.handleOracleStatus))
	m.mux.HandleFunc("GET /v1/oracle/requests/{id}", m.public(m.handleGetOracleRequest))
	m.mux.HandleFunc("GET /v1/oracle/requests/{id}/claim", m.public(m.handleClaimByOracleRequest))

	// Treasury
	m.mux.HandleFunc("GET /v1/treasury", m.public(m.handleTreasury))

	return m.mux, nil
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// public applies CORS, correlation ids, logging, and metrics.
func (m *Mux) public(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.applyCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		m.observeRequest(r, rec.status, time.Since(start), correlationID)
	}
}

// secured is public plus JWT authentication. The validated subject becomes
// the caller address in the request context.
func (m *Mux) secured(h http.HandlerFunc) http.HandlerFunc {
	return m.public(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Context().Value(ContextKeyCorrelationID).(string)

		caller, err := m.validateJWT(r)
		if err != nil {
			var errorDef *errordefs.Error
			if e, ok := err.(*errordefs.Error); ok {
				errorDef = e
				errorDef.CorrelationID = correlationID
			} else {
				errorDef = errordefs.New(errordefs.INS_AUTHZ, err.Error(), correlationID)
			}
			m.writeErrorDef(w, errorDef)
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCaller, caller))
		h(w, r)
	})
}

func (m *Mux) applyCORS(w http.ResponseWriter, r *http.Request) {
	if len(m.corsAllowedOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowedOrigin := range m.corsAllowedOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
			w.Header().Set("Access-Control-Max-Age", "86400")
			return
		}
	}
}

// validateJWT validates the bearer token and extracts the caller address.
func (m *Mux) validateJWT(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.INS_AUTHN, "missing Authorization header", "")
	}

	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
		return "", errordefs.New(errordefs.INS_AUTHN, "invalid Authorization header format", "")
	}
	tokenString := authHeader[len(prefix):]

	claims, err := m.jwksClient.ValidateJWT(r.Context(), tokenString, m.jwtIssuer, m.jwtAudience)
	if err != nil {
		switch {
		case errors.Is(err, jwks.ErrExpired):
			return "", errordefs.New(errordefs.INS_JWT_EXPIRED, "JWT token expired", "")
		case errors.Is(err, jwks.ErrMalformed):
			return "", errordefs.New(errordefs.INS_JWT_MALFORMED, err.Error(), "")
		default:
			return "", errordefs.New(errordefs.INS_JWT_INVALID, fmt.Sprintf("failed to validate JWT: %v", err), "")
		}
	}

	caller, err := jwks.Subject(claims)
	if err != nil {
		return "", errordefs.New(errordefs.INS_JWT_INVALID, "missing or invalid sub claim", "")
	}
	return caller, nil
}

// writeSuccess writes a successful response envelope.
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeError writes an error response following the ledger error taxonomy.
func (m *Mux) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errBody := map[string]interface{}{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	}
	if details != nil {
		errBody["details"] = details
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": errBody})
}

// writeErrorDef writes an error response using the error definitions package.
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	m.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// fail maps an engine or storage error onto the wire taxonomy.
func (m *Mux) fail(w http.ResponseWriter, r *http.Request, err error) {
	correlationID, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	var errorDef *errordefs.Error
	if errors.As(err, &errorDef) {
		errorDef.CorrelationID = correlationID
		m.writeErrorDef(w, errorDef)
		return
	}
	slog.Error("request failed", "path", r.URL.Path, "correlation_id", correlationID, "error", err)
	m.writeErrorDef(w, errordefs.New(errordefs.INS_INTERNAL, "internal error", correlationID))
}

// badRequest reports a malformed or invalid request body.
func (m *Mux) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	correlationID, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	m.writeErrorDef(w, errordefs.New(errordefs.INS_VALIDATION, message, correlationID))
}

// observeRequest records structured logs and metrics for a completed request.
func (m *Mux) observeRequest(r *http.Request, status int, duration time.Duration, correlationID string) {
	statusLabel := strconv.Itoa(status)
	m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, r.URL.Path, statusLabel).Inc()
	m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, statusLabel).Observe(duration.Seconds())

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("correlation_id", correlationID),
	}
	if caller, ok := r.Context().Value(ContextKeyCaller).(string); ok && caller != "" {
		attrs = append(attrs, slog.String("caller", caller))
	}

	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	slog.LogAttrs(r.Context(), level, "request completed", attrs...)
}

func (m *Mux) caller(r *http.Request) string {
	caller, _ := r.Context().Value(ContextKeyCaller).(string)
	return caller
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz handles readiness health check requests.
// The store is probed with a lookup that is expected to miss.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	_, err := m.store.GetAccount(ctx, "health-check")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleInitialize handles POST /v1/ledger/initialize
func (m *Mux) handleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleInitialize")
	defer span.End()

	caller := m.caller(r)
	span.SetAttributes(attribute.String("caller", caller))

	if err := m.engine.Initialize(ctx, caller); err != nil {
		span.SetStatus(codes.Error, "initialize failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"admin": caller})
}

// handleRegister handles POST /v1/users/register
func (m *Mux) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleRegister")
	defer span.End()
	defer r.Body.Close()

	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.badRequest(w, r, "invalid JSON")
		return
	}

	caller := m.caller(r)
	span.SetAttributes(
		attribute.String("caller", caller),
		attribute.String("role", string(req.Role)),
	)

	account, err := m.engine.RegisterUser(ctx, caller, req.Role)
	if err != nil {
		span.SetStatus(codes.Error, "register failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, account)
}

// handleGetUser handles GET /v1/users/{address}
func (m *Mux) handleGetUser(w http.ResponseWriter, r *http.Request) {
	account, err := m.engine.GetUser(r.Context(), r.PathValue("address"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, account)
}

// handleGetRole handles GET /v1/users/{address}/role.
// Unknown addresses report the unregistered role rather than an error.
func (m *Mux) handleGetRole(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	role, err := m.engine.RoleOf(r.Context(), address)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"address": address, "role": string(role)})
}

// handleUserPolicies handles GET /v1/users/{address}/policies
func (m *Mux) handleUserPolicies(w http.ResponseWriter, r *http.Request) {
	records, err := m.engine.GetUserPolicies(r.Context(), r.PathValue("address"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, records)
}

// handleUserTokens handles GET /v1/users/{address}/tokens
func (m *Mux) handleUserTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := m.engine.GetUserTokens(r.Context(), r.PathValue("address"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, tokens)
}

// handleUserEscrows handles GET /v1/users/{address}/escrows
func (m *Mux) handleUserEscrows(w http.ResponseWriter, r *http.Request) {
	escrows, err := m.engine.GetUserEscrows(r.Context(), r.PathValue("address"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, escrows)
}

// handleUserClaims handles GET /v1/users/{address}/claims
func (m *Mux) handleUserClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := m.engine.ListClaimsByOwner(r.Context(), r.PathValue("address"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, claims)
}

// handleCreatePolicy handles POST /v1/policies
func (m *Mux) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleCreatePolicy")
	defer span.End()
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		m.badRequest(w, r, "failed to read body")
		return
	}

	// Admin-supplied policy definitions are validated against the JSON schema
	// before they reach the engine.
	if err := m.validator.Validate(schema.KindPolicyParams, body); err != nil {
		correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)
		span.SetStatus(codes.Error, "schema validation failed")
		m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.INS_SCHEMA_REJECT,
			"policy definition rejected", correlationID, err.Error()))
		return
	}

	var params model.PolicyParams
	if err := json.Unmarshal(body, &params); err != nil {
		m.badRequest(w, r, "invalid JSON")
		return
	}

	caller := m.caller(r)
	span.SetAttributes(
		attribute.String("caller", caller),
		attribute.String("title", params.Title),
	)

	policy, err := m.engine.CreatePolicy(ctx, caller, params)
	if err != nil {
		span.SetStatus(codes.Error, "create policy failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, policy)
}

// handleListPolicies handles GET /v1/policies
func (m *Mux) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := m.engine.ListPolicies(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, policies)
}

// handleGetPolicy handles GET /v1/policies/{id}
func (m *Mux) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		m.badRequest(w, r, "invalid policy id")
		return
	}
	policy, err := m.engine.GetPolicy(r.Context(), id)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, policy)
}

// handlePolicyTokens handles GET /v1/policies/{id}/tokens
func (m *Mux) handlePolicyTokens(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		m.badRequest(w, r, "invalid policy id")
		return
	}
	tokens, err := m.engine.GetPolicyTokens(r.Context(), id)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, tokens)
}

// handlePurchase handles POST /v1/policies/{id}/purchase
func (m *Mux) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handlePurchase")
	defer span.End()
	defer r.Body.Close()

	id, err := pathID(r)
	if err != nil {
		m.badRequest(w, r, "invalid policy id")
		return
	}

	var req model.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.badRequest(w, r, "invalid JSON")
		return
	}
	req.PolicyID = id

	caller := m.caller(r)
	span.SetAttributes(
		attribute.String("caller", caller),
		attribute.Int64("policy_id", int64(id)),
	)

	result, err := m.engine.PurchasePolicy(ctx, caller, req)
	if err != nil {
		span.SetStatus(codes.Error, "purchase failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, result)
}

// handlePayInstallment handles POST /v1/escrows/{id}/pay
func (m *Mux) handlePayInstallment(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handlePayInstallment")
	defer span.End()
	defer r.Body.Close()

	id, err := pathID(r)
	if err != nil {
		m.badRequest(w, r, "invalid escrow id")
		return
	}

	var req model.InstallmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.badRequest(w, r, "invalid JSON")
		return
	}

	caller := m.caller(r)
	span.SetAttributes(
		attribute.String("caller", caller),
		attribute.Int64("escrow_id", int64(id)),
	)

	escrow, err := m.engine.PayInstallment(ctx, caller, id, req.PaymentAmount)
	if err != nil {
		span.SetStatus(codes.Error, "installment failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, escrow)
}

// handleGetEscrow handles GET /v1/escrows/{id}
func (m *Mux) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		m.badRequest(w, r, "invalid escrow id")
		return
	}
	escrow, err := m.engine.GetEscrow(r.Context(), id)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, escrow)
}

// handleTokenMetadata handles GET /v1/tokens/{id}/metadata
func (m *Mux) handleTokenMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := m.engine.GetTokenMetadata(r.Context(), r.PathValue("id"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, meta)
}

// handleSubmitClaim handles POST /v1/claims
func (m *Mux) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleSubmitClaim")
	defer span.End()
	defer r.Body.Close()

	var req model.SubmitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.badRequest(w, r, "invalid JSON")
		return
	}

	caller := m.caller(r)
	span.SetAttributes(
		attribute.String("caller", caller),
		attribute.Int64("policy_id", int64(req.PolicyID)),
		attribute.Int64("risk_score", int64(req.RiskScore)),
	)

	claim, err := m.engine.SubmitClaim(ctx, caller, req)
	if err != nil {
		span.SetStatus(codes.Error, "submit claim failed")
		// A payout failure still records the claim; return it with the error.
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, claim)
}

// handleListClaims handles GET /v1/claims
func (m *Mux) handleListClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := m.engine.ListAllClaims(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, claims)
}

// handleSearchClaims handles GET /v1/claims/search?healthId=...|documentCid=...
func (m *Mux) handleSearchClaims(w http.ResponseWriter, r *http.Request) {
	if healthID := r.URL.Query().Get("healthId"); healthID != "" {
		claims, err := m.engine.FindClaimsByHealthID(r.Context(), healthID)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		m.writeSuccess(w, http.StatusOK, claims)
		return
	}
	if documentCID := r.URL.Query().Get("documentCid"); documentCID != "" {
		exists, err := m.engine.ClaimExistsForDocument(r.Context(), documentCID)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		m.writeSuccess(w, http.StatusOK, map[string]bool{"exists": exists})
		return
	}
	m.badRequest(w, r, "healthId or documentCid query parameter is required")
}

// handleGetClaim handles GET /v1/claims/{id}
func (m *Mux) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		m.badRequest(w, r, "invalid claim id")
		return
	}
	claim, err := m.engine.GetClaim(r.Context(), id)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, claim)
}

// handleApproveClaim handles POST /v1/claims/{id}/approve
func (m *Mux) handleApproveClaim(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleApproveClaim")
	defer span.End()

	id, err := pathID(r)
	if err != nil {
		m.badRequest(w, r, "invalid claim id")
		return
	}

	caller := m.caller(r)
	span.SetAttributes(
		attribute.String("caller", caller),
		attribute.Int64("claim_id", int64(id)),
	)

	claim, err := m.engine.ApproveClaim(ctx, caller, id)
	if err != nil {
		span.SetStatus(codes.Error, "approve claim failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, claim)
}

// handleEvidenceInit handles POST /v1/claims/evidence/uploadInit
func (m *Mux) handleEvidenceInit(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleEvidenceInit")
	defer span.End()
	defer r.Body.Close()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)
	if m.evidence == nil {
		m.writeErrorDef(w, errordefs.New(errordefs.INS_UNAVAILABLE, "evidence storage is not configured", correlationID))
		return
	}

	var req model.EvidenceInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.badRequest(w, r, "invalid JSON")
		return
	}

	if req.MimeType == "" || req.Size <= 0 {
		m.badRequest(w, r, "mimeType and size are required")
		return
	}
	if req.Size > m.maxEvidenceSize {
		m.badRequest(w, r, fmt.Sprintf("evidence size exceeds limit of %d bytes", m.maxEvidenceSize))
		return
	}
	allowed := false
	for _, mimeType := range m.allowedMimeTypes {
		if req.MimeType == mimeType {
			allowed = true
			break
		}
	}
	if !allowed {
		m.badRequest(w, r, fmt.Sprintf("evidence type %s is not allowed", req.MimeType))
		return
	}

	documentID := media.NewDocumentID()
	span.SetAttributes(attribute.String("document_id", documentID))

	const presignTTL = 15 * time.Minute
	uploadURL, err := m.evidence.GenerateUploadURL(ctx, documentID, presignTTL)
	if err != nil {
		span.SetStatus(codes.Error, "presign failed")
		m.fail(w, r, err)
		return
	}

	m.writeSuccess(w, http.StatusOK, model.EvidenceInitData{
		DocumentID: documentID,
		UploadURL:  uploadURL,
		ExpiresAt:  time.Now().Add(presignTTL),
	})
}

// handleEvidenceFinalize handles POST /v1/claims/evidence/finalize
func (m *Mux) handleEvidenceFinalize(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleEvidenceFinalize")
	defer span.End()
	defer r.Body.Close()

	correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)
	if m.evidence == nil {
		m.writeErrorDef(w, errordefs.New(errordefs.INS_UNAVAILABLE, "evidence storage is not configured", correlationID))
		return
	}

	var req model.EvidenceFinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.badRequest(w, r, "invalid JSON")
		return
	}
	if req.DocumentID == "" || req.SHA256 == "" {
		m.badRequest(w, r, "documentId and sha256 are required")
		return
	}

	span.SetAttributes(attribute.String("document_id", req.DocumentID))

	valid, size, err := m.evidence.VerifyObject(ctx, req.DocumentID, req.SHA256)
	if err != nil {
		span.SetStatus(codes.Error, "verify failed")
		m.fail(w, r, err)
		return
	}
	if !valid {
		m.writeErrorDef(w, errordefs.New(errordefs.INS_VALIDATION, "checksum verification failed", correlationID))
		return
	}

	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"documentId": req.DocumentID,
		"size":       size,
		"verified":   true,
	})
}

// handleStoreOracleRequest handles POST /v1/oracle/requests
func (m *Mux) handleStoreOracleRequest(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleStoreOracleRequest")
	defer span.End()
	defer r.Body.Close()

	var req model.OracleRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.SetStatus(codes.Error, "invalid JSON")
		m.badRequest(w, r, "invalid JSON")
		return
	}

	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.Int64("claim_id", int64(req.ClaimID)),
	)

	stored, err := m.engine.StoreOracleRequest(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, "store oracle request failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, stored)
}

// handleOracleStatus handles POST /v1/oracle/requests/{id}/status
func (m *Mux) handleOracleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleOracleStatus")
	defer span.End()
	defer r.Body.Close()

	requestID := r.PathValue("id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		m.badRequest(w, r, "failed to read body")
		return
	}

	// Callback bodies arrive from the external oracle pipeline; validate
	// their shape before acting on them.
	if err := m.validator.Validate(schema.KindOracleStatus, body); err != nil {
		correlationID, _ := ctx.Value(ContextKeyCorrelationID).(string)
		span.SetStatus(codes.Error, "schema validation failed")
		m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.INS_SCHEMA_REJECT,
			"oracle status rejected", correlationID, err.Error()))
		return
	}

	var req model.OracleStatusBody
	if err := json.Unmarshal(body, &req); err != nil {
		m.badRequest(w, r, "invalid JSON")
		return
	}

	caller := m.caller(r)
	span.SetAttributes(
		attribute.String("caller", caller),
		attribute.String("request_id", requestID),
		attribute.String("status", string(req.Status)),
	)

	if err := m.engine.UpdateOracleRequestStatus(ctx, caller, requestID, req.Status); err != nil {
		span.SetStatus(codes.Error, "oracle status update failed")
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"requestId": requestID, "status": string(req.Status)})
}

// handleGetOracleRequest handles GET /v1/oracle/requests/{id}
func (m *Mux) handleGetOracleRequest(w http.ResponseWriter, r *http.Request) {
	req, err := m.engine.GetOracleRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, req)
}

// handleClaimByOracleRequest handles GET /v1/oracle/requests/{id}/claim
func (m *Mux) handleClaimByOracleRequest(w http.ResponseWriter, r *http.Request) {
	claim, err := m.engine.GetClaimByOracleRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, claim)
}

// handleTreasury handles GET /v1/treasury
func (m *Mux) handleTreasury(w http.ResponseWriter, r *http.Request) {
	balance, totalTokens, err := m.engine.Treasury(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, model.TreasuryView{Balance: balance, TotalTokens: totalTokens})
}
