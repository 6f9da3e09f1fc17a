package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// BrokerCredentials holds one user's broker API credentials and the
// connected/disconnected flag maintained by the credential health monitor.
type BrokerCredentials struct {
	UserID         string     `json:"userId"`
	APIKey         string     `json:"apiKey"`
	SecretKey      string     `json:"secretKey"` // encrypted at rest by the store
	Connected      bool       `json:"connected"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastValidated  time.Time  `json:"lastValidated"`
}

// Fingerprint identifies the key material so a rotated credential never
// reuses a stale cache verdict.
func (c *BrokerCredentials) Fingerprint() string {
	h := sha256.Sum256([]byte(c.APIKey + ":" + c.SecretKey))
	return hex.EncodeToString(h[:8])
}

// CredentialStore persists broker credentials. Mutated only by the
// credential health monitor (disconnect side effect) and the credentials API.
type CredentialStore interface {
	Save(ctx context.Context, cred *BrokerCredentials) error
	Get(ctx context.Context, userID string) (*BrokerCredentials, error)
	ListConnected(ctx context.Context) ([]*BrokerCredentials, error)
	MarkDisconnected(ctx context.Context, userID string, at time.Time) error
	MarkConnected(ctx context.Context, userID string) error
	UpdateLastValidated(ctx context.Context, userID string, at time.Time) error
}

// ValidationError is one user's failure inside a batch validation run.
type ValidationError struct {
	UserID string `json:"userId"`
	Err    string `json:"error"`
}

// ValidationSummary aggregates a batch validation run. One user's failure
// never aborts the batch; it lands in Errors instead.
type ValidationSummary struct {
	Checked int               `json:"checked"`
	Valid   int               `json:"valid"`
	Invalid int               `json:"invalid"`
	Errored int               `json:"errored"`
	Errors  []ValidationError `json:"errors,omitempty"`
}
