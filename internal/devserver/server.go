// Package devserver emulates the token issuer and the AEM endpoints the
// uploader talks to, so a full upload can be exercised on one machine.
//
// Routes:
//
//	POST /ims/token                      client-credentials grant
//	GET  /libs/granite/csrf/token.json   one-time CSRF token (bearer required)
//	POST /content/dam/{path...}          multipart upload (bearer + CSRF required)
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultTokenLifetime is the expires_in handed out by the token route.
const DefaultTokenLifetime = time.Hour

const (
	TokenPath = "/ims/token"
	CSRFPath  = "/libs/granite/csrf/token.json"
	DAMRoot   = "/content/dam"

	// maxUploadMemory bounds the part of a multipart body kept in memory.
	maxUploadMemory = 32 << 20

	// csrfLifetime is how long an unused CSRF token stays redeemable.
	csrfLifetime = 10 * time.Minute
)

// Asset is an upload accepted by the server.
type Asset struct {
	Path        string
	Title       string
	FileName    string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

// Server is the local emulation server.
type Server struct {
	mux    *http.ServeMux
	server *http.Server

	clientID      string
	clientSecret  string
	tokenLifetime time.Duration
	logger        *slog.Logger
	nowFunc       func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time // access token -> expiry
	csrf   map[string]time.Time // outstanding one-time CSRF token -> expiry
	assets map[string]Asset
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithClientCredentials restricts the token route to one client. Without it
// any non-empty client ID and secret are accepted.
func WithClientCredentials(clientID, clientSecret string) Option {
	return func(s *Server) {
		s.clientID = clientID
		s.clientSecret = clientSecret
	}
}

// WithTokenLifetime sets the expires_in of issued tokens.
func WithTokenLifetime(lifetime time.Duration) Option {
	return func(s *Server) {
		if lifetime > 0 {
			s.tokenLifetime = lifetime
		}
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock overrides time.Now for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

// New creates an emulation server with all routes registered.
func New(opts ...Option) *Server {
	s := &Server{
		tokenLifetime: DefaultTokenLifetime,
		logger:        slog.Default(),
		nowFunc:       time.Now,
		tokens:        make(map[string]time.Time),
		csrf:          make(map[string]time.Time),
		assets:        make(map[string]Asset),
	}
	for _, opt := range opts {
		opt(s)
	}

	mws := []middleware{requestLogger(s.logger), recoverPanics}

	mux := http.NewServeMux()
	mux.Handle("POST "+TokenPath, chain(http.HandlerFunc(s.handleToken), mws...))
	mux.Handle("GET "+CSRFPath, chain(http.HandlerFunc(s.handleCSRF), mws...))
	mux.Handle("POST "+DAMRoot+"/{path...}", chain(http.HandlerFunc(s.handleUpload), mws...))
	s.mux = mux

	return s
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Assets returns a snapshot of the accepted uploads keyed by asset path.
func (s *Server) Assets() map[string]Asset {
	s.mu.Lock()
	defer s.mu.Unlock()

	return maps.Clone(s.assets)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	return s.Serve(ctx, listener), nil
}

// Serve serves on an existing listener. See Start.
func (s *Server) Serve(ctx context.Context, listener net.Listener) <-chan error {
	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  2 * time.Minute, // uploads carry whole files
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
