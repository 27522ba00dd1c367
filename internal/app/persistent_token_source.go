package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/florianilch/aemupload/internal/tokensource"
	"github.com/florianilch/aemupload/internal/tokenstore"
)

// ExpiryBuffer is subtracted from a cached token's expiry. A token that would
// expire within this window is refreshed instead of handed out.
const ExpiryBuffer = 60 * time.Second

// Issuer performs one token exchange per call.
type Issuer interface {
	Exchange(ctx context.Context) (*tokensource.Grant, error)
}

// tokenState is the cache classification made once per AccessToken call.
type tokenState int

const (
	stateNoToken tokenState = iota
	stateValidCached
	stateExpiredCached
)

func (s tokenState) String() string {
	switch s {
	case stateNoToken:
		return "no_token"
	case stateValidCached:
		return "valid_cached"
	case stateExpiredCached:
		return "expired_cached"
	default:
		return fmt.Sprintf("tokenState(%d)", int(s))
	}
}

// classifyToken decides whether rec can be used at now. The boundary is
// inclusive: a token expiring exactly at now+buffer counts as expired.
func classifyToken(rec *tokenstore.Record, now time.Time, buffer time.Duration) tokenState {
	if rec == nil {
		return stateNoToken
	}
	if now.Add(buffer).Before(rec.ExpiresAt) {
		return stateValidCached
	}
	return stateExpiredCached
}

// PersistentTokenSource hands out access tokens from a persistent cache and
// refreshes them through an Issuer when the cached one is missing or about
// to expire. It keeps no state of its own between calls.
type PersistentTokenSource struct {
	issuer     Issuer
	tokenStore tokenstore.TokenStore
	buffer     time.Duration
	nowFunc    func() time.Time
}

// NewPersistentTokenSource creates a PersistentTokenSource.
// No I/O is performed until the first AccessToken call.
func NewPersistentTokenSource(issuer Issuer, tokenStore tokenstore.TokenStore) (*PersistentTokenSource, error) {
	if issuer == nil {
		return nil, fmt.Errorf("missing token issuer")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("missing token store")
	}

	return &PersistentTokenSource{
		issuer:     issuer,
		tokenStore: tokenStore,
		buffer:     ExpiryBuffer,
		nowFunc:    time.Now,
	}, nil
}

// AccessToken returns a token that stays valid for at least the expiry buffer.
//
// The cache is written only after a successful exchange. Issuer and storage
// failures are returned as-is; a stale cached token is never used as fallback.
func (p *PersistentTokenSource) AccessToken(ctx context.Context) (string, error) {
	if err := p.tokenStore.EnsureSchema(ctx); err != nil {
		return "", fmt.Errorf("preparing token cache: %w", err)
	}

	cached, err := p.tokenStore.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("reading token cache: %w", err)
	}

	now := p.nowFunc()
	state := classifyToken(cached, now, p.buffer)

	switch state {
	case stateValidCached:
		slog.InfoContext(ctx, "using cached token",
			slog.Duration("expires_in", cached.ExpiresAt.Sub(now).Truncate(time.Second)),
		)
		return cached.AccessToken, nil
	case stateExpiredCached:
		slog.InfoContext(ctx, "cached token expired, refreshing",
			slog.Time("expired_at", cached.ExpiresAt),
		)
	default:
		slog.InfoContext(ctx, "no cached token, requesting new token")
	}

	grant, err := p.issuer.Exchange(ctx)
	if err != nil {
		return "", fmt.Errorf("refreshing token (%s): %w", state, err)
	}

	expiresAt := p.nowFunc().Add(grant.ExpiresIn).UTC()
	if err := p.tokenStore.Save(ctx, grant.AccessToken, expiresAt); err != nil {
		return "", fmt.Errorf("caching token: %w", err)
	}

	slog.InfoContext(ctx, "token acquired and cached", slog.Time("expires_at", expiresAt))

	return grant.AccessToken, nil
}
