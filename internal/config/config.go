// Package config provides configuration loading and management for the
// insurance ledger service. It handles environment variable parsing and
// provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the ledger service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // Database connection string (PostgreSQL); empty selects the in-memory store
	NATSURL     string // NATS server URL
	S3Endpoint  string // S3-compatible storage endpoint for claim evidence
	S3Region    string // S3 region
	S3Bucket    string // S3 bucket name
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key
	JWTIssuer   string // Expected issuer for JWT validation
	JWTAudience string // Expected audience for JWT validation
	JWKSURL     string // JWKS endpoint for JWT key resolution

	// Domain collaborators
	CustodyURL         string // Asset custody service URL for transfers
	CustodialAddress   string // Address holding escrowed premiums
	OracleRelayAddress string // Optional: only this caller may post oracle status updates

	// Claim evidence limits
	MaxEvidenceSize  int64    // Maximum evidence document size in bytes (default 10MB)
	AllowedMimeTypes []string // Allowed MIME types for evidence uploads

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort     = "8080"      // Default HTTP server port
	defaultS3Region = "us-east-1" // Default S3 region
	defaultEnv      = "dev"       // Default environment
)

// Load reads environment variables and produces a Config suitable for wiring
// the service. Returns an error if required parameters are missing.
func Load() (Config, error) {
	cfg := Config{
		Env:      getEnv("INS_ENV", defaultEnv),
		Port:     getEnv("INS_PORT", defaultPort),
		S3Region: getEnv("INS_S3_REGION", defaultS3Region),
	}

	// Optional collaborators
	cfg.DatabaseDSN = os.Getenv("INS_DB_DSN")
	cfg.NATSURL = os.Getenv("INS_NATS_URL")
	cfg.S3Endpoint = os.Getenv("INS_S3_ENDPOINT")
	cfg.S3Bucket = os.Getenv("INS_S3_BUCKET")
	cfg.S3AccessKey = os.Getenv("INS_S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("INS_S3_SECRET_KEY")
	cfg.JWTIssuer = os.Getenv("INS_JWT_ISSUER")
	cfg.JWTAudience = os.Getenv("INS_JWT_AUDIENCE")
	cfg.JWKSURL = os.Getenv("INS_JWKS_URL")
	cfg.CustodyURL = os.Getenv("INS_CUSTODY_URL")
	cfg.CustodialAddress = os.Getenv("INS_CUSTODIAL_ADDRESS")
	cfg.OracleRelayAddress = os.Getenv("INS_ORACLE_RELAY_ADDRESS")

	// Claim evidence limits
	if maxSize, exists := os.LookupEnv("INS_MAX_EVIDENCE_SIZE"); exists {
		if size, err := strconv.ParseInt(maxSize, 10, 64); err == nil {
			cfg.MaxEvidenceSize = size
		}
	}
	if cfg.MaxEvidenceSize == 0 {
		// Default to 10MB
		cfg.MaxEvidenceSize = 10 * 1024 * 1024
	}

	if allowed, exists := os.LookupEnv("INS_ALLOWED_MIME_TYPES"); exists {
		cfg.AllowedMimeTypes = splitAndTrim(allowed)
	} else {
		// Hospital bills arrive as scans or PDFs
		cfg.AllowedMimeTypes = []string{"application/pdf", "image/jpeg", "image/png"}
	}

	if corsOrigins, exists := os.LookupEnv("INS_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = splitAndTrim(corsOrigins)
	}

	// Validate required parameters
	if cfg.JWTIssuer == "" {
		return cfg, fmt.Errorf("INS_JWT_ISSUER is required")
	}
	if cfg.JWTAudience == "" {
		return cfg, fmt.Errorf("INS_JWT_AUDIENCE is required")
	}
	if cfg.CustodialAddress == "" {
		return cfg, fmt.Errorf("INS_CUSTODIAL_ADDRESS is required")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// splitAndTrim splits a comma-separated list and trims whitespace from each element
func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
