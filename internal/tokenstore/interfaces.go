package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStorage marks schema, read and write failures of a token store backend.
// Callers treat it as fatal; a store error never falls back to a stale token.
var ErrStorage = errors.New("token storage failure")

// Record is the single cached access token.
type Record struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TokenStore persists exactly one token record.
//
// Implementations hold at most one record at a time; Save supersedes whatever
// was stored before.
type TokenStore interface {
	// EnsureSchema creates the backing table, file location or keyspace if it
	// is absent. Calling it repeatedly has the same effect as calling it once.
	EnsureSchema(ctx context.Context) error

	// Load returns the cached record, or nil without error when none exists.
	Load(ctx context.Context) (*Record, error)

	// Save upserts the record and refreshes its CreatedAt timestamp.
	Save(ctx context.Context, accessToken string, expiresAt time.Time) error
}

// storageError wraps err with ErrStorage and an operation description.
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
