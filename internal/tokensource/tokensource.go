package tokensource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrIssuer marks a failed exchange: a non-success status, an unparsable body
// or a response without an access token.
var ErrIssuer = errors.New("token issuer failure")

const (
	// DefaultExpiresIn applies when the issuer omits expires_in. An explicit
	// zero is kept and yields an already expired token.
	DefaultExpiresIn = 3600 * time.Second

	// DefaultTimeout bounds a single token request.
	DefaultTimeout = 30 * time.Second

	// maxLoggedBody caps how much of an error response ends up in logs.
	maxLoggedBody = 512

	userAgent = "aemupload/1.0"
)

// Credentials identify the client towards the token issuer.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// Grant is the outcome of one successful exchange.
type Grant struct {
	AccessToken string
	// ExpiresIn is the lifetime reported by the issuer, relative to the exchange.
	ExpiresIn time.Duration
}

// Option configures a ClientCredentials issuer.
type Option func(*issuerConfig)

// issuerConfig holds configuration for NewClientCredentials.
type issuerConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	logger        *slog.Logger
}

// WithTransport sets a custom base transport for token requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *issuerConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each token request. Defaults to DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *issuerConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the logger for failed exchanges. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *issuerConfig) {
		c.logger = logger
	}
}

// ClientCredentials exchanges a client ID and secret for an access token
// using the OAuth2 client-credentials grant.
type ClientCredentials struct {
	oauth2Config *clientcredentials.Config
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClientCredentials creates an issuer for the given credentials.
// No I/O is performed until Exchange is called.
func NewClientCredentials(creds Credentials, opts ...Option) *ClientCredentials {
	cfg := &issuerConfig{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var scopes []string
	if creds.Scope != "" {
		// Issuers like Adobe IMS expect their comma-separated scope list verbatim.
		scopes = []string{creds.Scope}
	}

	return &ClientCredentials{
		oauth2Config: &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			Scopes:       scopes,
			// Credentials travel in the form body next to grant_type and scope.
			AuthStyle: oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: &userAgentTransport{base: cfg.baseTransport},
		},
		logger: cfg.logger,
	}
}

// Exchange performs exactly one token request and returns the issued token.
func (c *ClientCredentials) Exchange(ctx context.Context) (*Grant, error) {
	// oauth2 picks up custom HTTP clients from the context (oauth2.HTTPClient key).
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauth2Config.Token(ctx)
	if err != nil {
		return nil, c.issuerError(ctx, err)
	}

	// oauth2 rejects responses without access_token; this guards the token type.
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: response missing access_token", ErrIssuer)
	}

	// oauth2 leaves Expiry zero both for a missing and for a zero expires_in;
	// only the raw field tells them apart.
	expiresIn, err := expiresInFrom(tok.Extra("expires_in"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIssuer, err)
	}

	return &Grant{
		AccessToken: tok.AccessToken,
		ExpiresIn:   expiresIn,
	}, nil
}

// issuerError logs the diagnosable parts of a failed exchange and wraps it with ErrIssuer.
func (c *ClientCredentials) issuerError(ctx context.Context, err error) error {
	attrs := []any{
		slog.String("url", c.oauth2Config.TokenURL),
		slog.String("error", err.Error()),
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		attrs = append(attrs,
			slog.Int("status", retrieveErr.Response.StatusCode),
			slog.String("body", truncate(string(retrieveErr.Body), maxLoggedBody)),
		)
	}

	c.logger.ErrorContext(ctx, "token request failed", attrs...)

	return fmt.Errorf("%w: %w", ErrIssuer, err)
}

// userAgentTransport identifies token requests with the tool's user agent.
type userAgentTransport struct {
	base http.RoundTripper
}

// Compile-time check that userAgentTransport implements http.RoundTripper.
var _ http.RoundTripper = (*userAgentTransport)(nil)

// RoundTrip sets the User-Agent header on a clone of the request.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	newReq := req.Clone(req.Context())
	newReq.Header.Set("User-Agent", userAgent)

	return t.base.RoundTrip(newReq)
}

// expiresInFrom converts the raw expires_in value. Absent means DefaultExpiresIn;
// zero or negative means the token is already expired.
func expiresInFrom(raw any) (time.Duration, error) {
	var seconds float64

	switch v := raw.(type) {
	case nil:
		return DefaultExpiresIn, nil
	case float64:
		seconds = v
	case int64:
		seconds = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid expires_in %q", v)
		}
		seconds = f
	case string:
		if strings.TrimSpace(v) == "" {
			return DefaultExpiresIn, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid expires_in %q", v)
		}
		seconds = f
	default:
		return 0, fmt.Errorf("invalid expires_in type %T", raw)
	}

	if seconds <= 0 {
		return 0, nil
	}
	return time.Duration(seconds) * time.Second, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
