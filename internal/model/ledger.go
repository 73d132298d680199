// internal/model/ledger.go
// Package model defines the data structures used throughout the insurance ledger service.
// These structures represent the core domain objects for accounts, policies, purchases,
// escrows, claims, and oracle request tracking.
package model

import (
	"math/big"
	"time"
)

// Role identifies what a registered account is allowed to do.
type Role string

const (
	RoleUnregistered Role = "unregistered" // No account exists for the address
	RolePolicyholder Role = "policyholder" // May purchase policies and submit claims
	RoleAdmin        Role = "admin"        // May create policies and approve claims
)

// Valid reports whether the role is one a caller may register with.
// Unregistered is a derived state, never a registration input.
func (r Role) Valid() bool {
	return r == RolePolicyholder || r == RoleAdmin
}

// PolicyType tags the product category of a policy.
type PolicyType string

const (
	PolicyTypeHealth PolicyType = "health"
	PolicyTypeLife   PolicyType = "life"
	PolicyTypeAuto   PolicyType = "auto"
	PolicyTypeHome   PolicyType = "home"
	PolicyTypeTravel PolicyType = "travel"
)

// ClaimStatus is the adjudication state of a claim.
// Pending claims may transition to approved via admin action; approved and
// rejected are terminal.
type ClaimStatus string

const (
	ClaimStatusApproved ClaimStatus = "approved"
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusRejected ClaimStatus = "rejected"
)

// OracleStatus is the lifecycle state of an outbound oracle verification request.
type OracleStatus string

const (
	OracleStatusPending   OracleStatus = "pending"
	OracleStatusCompleted OracleStatus = "completed"
	OracleStatusFailed    OracleStatus = "failed"
)

// Account represents a registered participant.
// Addresses are externally supplied and unique; the role is set at
// registration and never changed by any other operation.
// This corresponds to the accounts table in storage.
type Account struct {
	Address      string    `json:"address" db:"address"`            // Ledger address (unique)
	Role         Role      `json:"role" db:"role"`                  // policyholder or admin
	Name         string    `json:"name" db:"name"`                  // Profile field, empty on self-registration
	Location     string    `json:"location" db:"location"`          // Profile field
	Contact      string    `json:"contact" db:"contact"`            // Profile field
	RegisteredAt time.Time `json:"registeredAt" db:"registered_at"` // When the account was created
}

// Policy is an admin-defined insurable product template.
// Policies are immutable once created; there is no update or delete operation.
// Premiums and the coverage amount are quoted in the pricing currency's
// smallest unit as 128-bit integers.
type Policy struct {
	ID                uint64     `json:"id" db:"id"`                                // Sequential id from the policy counter
	Title             string     `json:"title" db:"title"`                          // Display title
	Description       string     `json:"description" db:"description"`              // Display description
	Type              PolicyType `json:"type" db:"policy_type"`                     // Product category
	MonthlyPremium    *big.Int   `json:"monthlyPremium" db:"monthly_premium"`       // Quoted monthly premium
	YearlyPremium     *big.Int   `json:"yearlyPremium" db:"yearly_premium"`         // Quoted yearly premium
	CoverageAmount    *big.Int   `json:"coverageAmount" db:"coverage_amount"`       // Payout on an approved claim
	MinAge            uint64     `json:"minAge" db:"min_age"`                       // Eligibility lower bound
	MaxAge            uint64     `json:"maxAge" db:"max_age"`                       // Eligibility upper bound
	DurationDays      uint64     `json:"durationDays" db:"duration_days"`           // Coverage duration
	WaitingPeriodDays uint64     `json:"waitingPeriodDays" db:"waiting_period_days"` // Days before claims are honored
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`                 // When the policy was created
	CreatedBy         string     `json:"createdBy" db:"created_by"`                 // Admin address that created it
}

// PolicyParams carries the caller-supplied fields for policy creation.
// All fields are copied verbatim into the stored Policy.
type PolicyParams struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Type              PolicyType `json:"type"`
	MonthlyPremium    *big.Int   `json:"monthlyPremium"`
	YearlyPremium     *big.Int   `json:"yearlyPremium"`
	CoverageAmount    *big.Int   `json:"coverageAmount"`
	MinAge            uint64     `json:"minAge"`
	MaxAge            uint64     `json:"maxAge"`
	DurationDays      uint64     `json:"durationDays"`
	WaitingPeriodDays uint64     `json:"waitingPeriodDays"`
}

// HolderProfile is the demographic snapshot captured at purchase time.
// It is frozen into the ownership record and the token metadata so later
// profile edits cannot alter the terms evidence.
type HolderProfile struct {
	Name       string `json:"name" db:"holder_name"`
	Age        uint64 `json:"age" db:"holder_age"`
	Gender     string `json:"gender" db:"holder_gender"`
	BloodGroup string `json:"bloodGroup" db:"holder_blood_group"`
}

// OwnershipRecord is evidence that an account purchased a specific policy
// instance. Records are append-only elements of the owner's list; the active
// flag is inspected by the claims engine but never cleared by any operation.
type OwnershipRecord struct {
	PolicyID     uint64        `json:"policyId" db:"policy_id"`         // References an existing Policy
	Owner        string        `json:"owner" db:"owner"`                // Purchasing account address
	PurchasedAt  time.Time     `json:"purchasedAt" db:"purchased_at"`   // Purchase timestamp
	ExpiresAt    time.Time     `json:"expiresAt" db:"expires_at"`       // Purchase time + duration
	PremiumPaid  *big.Int      `json:"premiumPaid" db:"premium_paid"`   // Amount actually paid (may exceed minimum)
	Active       bool          `json:"active" db:"active"`              // Whether the coverage is active
	TokenID      string        `json:"tokenId" db:"token_id"`           // Linked token identifier
	MetadataRef  string        `json:"metadataRef" db:"metadata_ref"`   // Caller-supplied metadata reference
	EscrowID     uint64        `json:"escrowId" db:"escrow_id"`         // Linked escrow record
	Holder       HolderProfile `json:"holder"`                          // Demographic snapshot at purchase
}

// TokenMetadata is the NFT-style descriptive record attached to a purchase token.
type TokenMetadata struct {
	TokenID        string        `json:"tokenId" db:"token_id"`
	Name           string        `json:"name" db:"name"`
	Description    string        `json:"description" db:"description"`
	ImageRef       string        `json:"imageRef" db:"image_ref"`
	CoverageAmount *big.Int      `json:"coverageAmount" db:"coverage_amount"`
	ValidFrom      time.Time     `json:"validFrom" db:"valid_from"`
	ValidUntil     time.Time     `json:"validUntil" db:"valid_until"`
	PremiumAmount  *big.Int      `json:"premiumAmount" db:"premium_amount"` // Yearly premium snapshot
	PolicyType     PolicyType    `json:"policyType" db:"policy_type"`
	Holder         HolderProfile `json:"holder"`
}

// EscrowRecord tracks the recurring-premium payment stream for one purchase.
type EscrowRecord struct {
	ID                uint64    `json:"id" db:"id"`                                  // Sequential id from the escrow counter
	Owner             string    `json:"owner" db:"owner"`                            // Purchasing account address
	PolicyID          uint64    `json:"policyId" db:"policy_id"`                     // Matches the ownership record
	MonthlyPremium    *big.Int  `json:"monthlyPremium" db:"monthly_premium"`         // Payment per period, in asset units
	NextPaymentDue    time.Time `json:"nextPaymentDue" db:"next_payment_due"`        // When the next installment is due
	PaymentsMade      uint64    `json:"paymentsMade" db:"payments_made"`             // Installments collected so far
	PaymentsRequired  uint64    `json:"paymentsRequired" db:"payments_required"`     // duration_days / 30
	Balance           *big.Int  `json:"balance" db:"balance"`                        // Held escrow balance
	Active            bool      `json:"active" db:"active"`                          // Cleared after the final installment
}

// Claim is a policyholder's request for payout under an owned policy.
// The claim amount always equals the policy coverage amount; partial claims
// are not supported. The oracle fields correlate the claim with the external
// verification pipeline.
type Claim struct {
	ID          uint64      `json:"id" db:"id"`                    // Sequential id from the claim counter
	PolicyID    uint64      `json:"policyId" db:"policy_id"`       // Claimed policy
	Owner       string      `json:"owner" db:"owner"`              // Claimant address
	Amount      *big.Int    `json:"amount" db:"amount"`            // Equals policy coverage amount
	RiskScore   uint32      `json:"riskScore" db:"risk_score"`     // Oracle risk score in [0,100]
	Status      ClaimStatus `json:"status" db:"status"`            // Adjudication outcome
	ClaimedAt   time.Time   `json:"claimedAt" db:"claimed_at"`     // Submission time
	ProcessedAt time.Time   `json:"processedAt" db:"processed_at"` // Last status transition time

	// Oracle correlation fields
	HealthID        string `json:"healthId" db:"health_id"`                 // External health identity reference
	DocumentCID     string `json:"documentCid" db:"document_cid"`           // Content id of the evidence document
	OracleRequestID string `json:"oracleRequestId" db:"oracle_request_id"`  // Off-chain verification request id
	Description     string `json:"description" db:"description"`            // Free-text claim details
	ProviderName    string `json:"providerName" db:"provider_name"`         // Treating provider / hospital
}

// OracleRequest correlates a claim with an outstanding off-chain verification
// request. The status is updated exactly once by the completion callback.
type OracleRequest struct {
	RequestID   string       `json:"requestId" db:"request_id"`     // Opaque, externally generated
	ClaimID     uint64       `json:"claimId" db:"claim_id"`         // Linked claim
	HealthID    string       `json:"healthId" db:"health_id"`       // Identity reference sent for verification
	DocumentCID string       `json:"documentCid" db:"document_cid"` // Evidence document reference
	RequestedAt time.Time    `json:"requestedAt" db:"requested_at"` // When the request was recorded
	Status      OracleStatus `json:"status" db:"status"`            // pending, completed, or failed
}

// RegisterRequest is the request body for account registration.
type RegisterRequest struct {
	Role Role `json:"role"` // policyholder or admin
}

// PurchaseRequest is the request body for purchasing a policy.
// The payment amount is in the payment asset's smallest unit.
type PurchaseRequest struct {
	PolicyID      uint64        `json:"policyId"`
	MetadataRef   string        `json:"metadataRef"`
	PaymentAmount *big.Int      `json:"paymentAmount"`
	Holder        HolderProfile `json:"holder"`
}

// PurchaseResult reports the identifiers allocated by a successful purchase.
type PurchaseResult struct {
	PolicyID uint64   `json:"policyId"`
	TokenID  string   `json:"tokenId"`
	EscrowID uint64   `json:"escrowId"`
	Paid     *big.Int `json:"paid"`
}

// SubmitClaimRequest is the request body for claim submission.
// The risk score is produced by the external oracle pipeline before the
// submission reaches this service.
type SubmitClaimRequest struct {
	PolicyID        uint64 `json:"policyId"`
	RiskScore       uint32 `json:"riskScore"`
	HealthID        string `json:"healthId"`
	DocumentCID     string `json:"documentCid"`
	OracleRequestID string `json:"oracleRequestId"`
	Description     string `json:"description"`
	ProviderName    string `json:"providerName"`
}

// InstallmentRequest is the request body for paying an escrow installment.
type InstallmentRequest struct {
	PaymentAmount *big.Int `json:"paymentAmount"`
}

// OracleRequestBody is the request body for recording an outbound oracle request.
type OracleRequestBody struct {
	RequestID   string `json:"requestId"`
	ClaimID     uint64 `json:"claimId"`
	HealthID    string `json:"healthId"`
	DocumentCID string `json:"documentCid"`
}

// OracleStatusBody is the request body for the oracle completion callback.
type OracleStatusBody struct {
	Status OracleStatus `json:"status"` // completed or failed
}

// EvidenceInitRequest is the request body for initializing a claim evidence upload.
type EvidenceInitRequest struct {
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// EvidenceInitData is the response payload for an initialized evidence upload.
type EvidenceInitData struct {
	DocumentID string    `json:"documentId"`
	UploadURL  string    `json:"uploadUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// EvidenceFinalizeRequest is the request body for finalizing an evidence upload.
type EvidenceFinalizeRequest struct {
	DocumentID string `json:"documentId"`
	SHA256     string `json:"sha256"`
}

// TreasuryView is the response payload for the treasury read.
type TreasuryView struct {
	Balance     *big.Int `json:"balance"`     // Aggregate premiums collected
	TotalTokens uint64   `json:"totalTokens"` // Tokens minted so far
}
