package model

import (
	"encoding/json"
	"time"
)

// SessionStatus — статус сессии подтверждения у провайдера
type SessionStatus string

const (
	SessionPending  SessionStatus = "PENDING"
	SessionVerified SessionStatus = "VERIFIED"
	SessionFailed   SessionStatus = "FAILED"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionVerified || s == SessionFailed
}

// Action — одноразовое действие кошелька
type Action string

const (
	ActionVerification Action = "verification"
	ActionAnalysis     Action = "analysis"
	ActionWalrus       Action = "walrus"
)

// KYCData holds the claim fields extracted from a verified proof.
type KYCData struct {
	KycStatus string `json:"kycStatus"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Dob       string `json:"dob"`
	Verified  bool   `json:"verified"`
}

// ProofSession is the in-flight attestation session keyed by the
// provider-issued session id. PENDING transitions exactly once to
// VERIFIED or FAILED; terminal states are final.
type ProofSession struct {
	UserID      string        `json:"userId"`
	UserAddress string        `json:"userAddress,omitempty"`
	Status      SessionStatus `json:"status"`
	KYCData     *KYCData      `json:"kycData,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   *time.Time    `json:"updatedAt,omitempty"`
	VerifiedAt  *time.Time    `json:"verifiedAt,omitempty"`
}

// VerifiedProof is the per-proof outcome of a callback batch. Invalid
// proofs carry Error and do not abort their siblings.
type VerifiedProof struct {
	Valid          bool            `json:"valid"`
	ContextAddress string          `json:"contextAddress,omitempty"`
	ContextMessage json.RawMessage `json:"contextMessage,omitempty"`
	KYCData        *KYCData        `json:"kycData,omitempty"`
	Proof          json.RawMessage `json:"proof,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// User is created on first touch by any operation and never deleted.
// The completion flags back the one-action-per-wallet guarantee.
type User struct {
	WalletAddress            string    `json:"walletAddress"`
	HasCompletedVerification bool      `json:"hasCompletedVerification"`
	HasCompletedAnalysis     bool      `json:"hasCompletedAnalysis"`
	HasUploadedToWalrus      bool      `json:"hasUploadedToWalrus"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// Verification — запись о пройденной KYC-верификации, одна на пару
// (кошелёк, биржа)
type Verification struct {
	ID            string          `json:"id"`
	WalletAddress string          `json:"walletAddress"`
	CexType       string          `json:"cexType"`
	UserID        string          `json:"userId"`
	Proofs        json.RawMessage `json:"proofs"`
	Verified      bool            `json:"verified"`
	SessionID     *string         `json:"sessionId,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// AddressBinding proves the wallet's controller also controls the
// attested exchange identity.
type AddressBinding struct {
	Address   string    `json:"address"`
	CexType   string    `json:"cexType"`
	UserID    string    `json:"userId"`
	Signature string    `json:"signature"`
	Message   string    `json:"message"`
	Bound     bool      `json:"bound"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalysisResult — результат анализа транзакций, не более одного на кошелёк
type AnalysisResult struct {
	ID                     string    `json:"id"`
	WalletAddress          string    `json:"walletAddress"`
	HumanScore             int       `json:"humanScore"`
	SuccessRate            float64   `json:"successRate"`
	TotalTransactions      int       `json:"totalTransactions"`
	SuccessfulTransactions int       `json:"successfulTransactions"`
	FailedTransactions     int       `json:"failedTransactions"`
	AIAnalysis             *string   `json:"aiAnalysis,omitempty"`
	CreatedAt              time.Time `json:"createdAt"`
}

// UploadMeta is the stored metadata of an encrypted evidence blob.
type UploadMeta struct {
	Size       int       `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// WalrusUpload records the published evidence blob, one per wallet.
type WalrusUpload struct {
	WalletAddress string      `json:"walletAddress"`
	BlobID        string      `json:"blobId"`
	Meta          *UploadMeta `json:"encryptedDataMeta,omitempty"`
	UploadedAt    time.Time   `json:"uploadedAt"`
}

// Transaction is one entry of a wallet's onchain activity history.
type Transaction struct {
	Digest       string `json:"digest"`
	ActivityType string `json:"type,omitempty"`
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

// TransactionStats are the success-rate statistics of a transaction list.
type TransactionStats struct {
	Total       int     `json:"totalTransactions"`
	Successful  int     `json:"successfulTransactions"`
	Failed      int     `json:"failedTransactions"`
	SuccessRate float64 `json:"successRate"`
}

// OnchainScore is the scoring part of the evidence bundle.
type OnchainScore struct {
	HumanScore             int     `json:"humanScore"`
	SuccessRate            float64 `json:"successRate"`
	TotalTransactions      int     `json:"totalTransactions"`
	SuccessfulTransactions int     `json:"successfulTransactions"`
	FailedTransactions     int     `json:"failedTransactions"`
	AIAnalysis             string  `json:"aiAnalysis"`
}

// EvidenceBundle is the pre-encryption JSON aggregate submitted for
// durable storage.
type EvidenceBundle struct {
	WalletAddress  string          `json:"walletAddress"`
	Verification   *Verification   `json:"verification"`
	AddressBinding *AddressBinding `json:"addressBinding"`
	OnchainScore   OnchainScore    `json:"onchainScore"`
	Timestamp      int64           `json:"timestamp"`
	GeneratedAt    string          `json:"generatedAt"`
}

// UserStatus is the aggregate view of a wallet across all records.
type UserStatus struct {
	User         *User           `json:"user"`
	Verification *Verification   `json:"verification,omitempty"`
	Binding      *AddressBinding `json:"addressBinding,omitempty"`
	Analysis     *AnalysisResult `json:"analysis,omitempty"`
	Upload       *WalrusUpload   `json:"walrusUpload,omitempty"`
}
