package devserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type csrfResponse struct {
	Token string `json:"token"`
}

// handleToken implements the client-credentials grant with form-encoded credentials.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeJSONError(ctx, w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	if grantType := r.PostForm.Get("grant_type"); grantType != "client_credentials" {
		writeJSONError(ctx, w, "unsupported_grant_type", fmt.Sprintf("grant_type %q", grantType), http.StatusBadRequest)
		return
	}

	clientID := r.PostForm.Get("client_id")
	clientSecret := r.PostForm.Get("client_secret")
	if !s.validClient(clientID, clientSecret) {
		writeJSONError(ctx, w, "invalid_client", "unknown client or wrong secret", http.StatusUnauthorized)
		return
	}

	accessToken := "dev-" + uuid.NewString()
	expiresAt := s.nowFunc().Add(s.tokenLifetime)

	s.mu.Lock()
	s.pruneLocked(s.nowFunc())
	s.tokens[accessToken] = expiresAt
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "token issued",
		slog.String("client_id", clientID),
		slog.String("scope", r.PostForm.Get("scope")),
		slog.Time("expires_at", expiresAt),
	)

	writeJSON(ctx, w, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokenLifetime.Seconds()),
	}, http.StatusOK)
}

func (s *Server) validClient(clientID, clientSecret string) bool {
	if clientID == "" || clientSecret == "" {
		return false
	}
	if s.clientID == "" {
		return true
	}
	return clientID == s.clientID && clientSecret == s.clientSecret
}

// handleCSRF hands out a one-time token bound to nothing but its own existence.
func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.checkBearer(r); err != nil {
		writeJSONError(ctx, w, "unauthorized", err.Error(), http.StatusUnauthorized)
		return
	}

	token := uuid.NewString()
	now := s.nowFunc()

	s.mu.Lock()
	s.pruneLocked(now)
	s.csrf[token] = now.Add(csrfLifetime)
	s.mu.Unlock()

	writeJSON(ctx, w, csrfResponse{Token: token}, http.StatusOK)
}

// handleUpload accepts a multipart body with a "file" and a "title" part and
// stores its metadata under the folder named by the URL.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.checkBearer(r); err != nil {
		writeJSONError(ctx, w, "unauthorized", err.Error(), http.StatusUnauthorized)
		return
	}
	if !s.consumeCSRF(r.Header.Get("CSRF-Token")) {
		writeJSONError(ctx, w, "forbidden", "missing or reused CSRF token", http.StatusForbidden)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSONError(ctx, w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(ctx, w, "invalid_request", "missing file part", http.StatusBadRequest)
		return
	}
	_ = file.Close()

	assetPath := path.Join(DAMRoot, r.PathValue("path"))
	if !strings.HasPrefix(assetPath, DAMRoot+"/") {
		writeJSONError(ctx, w, "invalid_request", "asset path outside DAM root", http.StatusBadRequest)
		return
	}

	asset := Asset{
		Path:        assetPath,
		Title:       r.FormValue("title"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		CreatedAt:   s.nowFunc().UTC(),
	}

	s.mu.Lock()
	s.assets[assetPath] = asset
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "asset created",
		slog.String("asset_path", assetPath),
		slog.String("title", asset.Title),
		slog.Int64("size", asset.Size),
	)

	w.Header().Set("Location", assetPath)
	writeJSON(ctx, w, map[string]string{"path": assetPath}, http.StatusCreated)
}

var (
	errMissingBearer = errors.New("missing bearer token")
	errUnknownBearer = errors.New("unknown or expired bearer token")
)

func (s *Server) checkBearer(r *http.Request) error {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return errMissingBearer
	}

	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, known := s.tokens[token]
	if !known {
		return errUnknownBearer
	}
	if !now.Before(expiresAt) {
		delete(s.tokens, token)
		return errUnknownBearer
	}
	return nil
}

func (s *Server) consumeCSRF(token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.csrf[token]
	if !ok {
		return false
	}
	delete(s.csrf, token)
	return s.nowFunc().Before(expiresAt)
}

// pruneLocked drops expired bearer and CSRF tokens. s.mu must be held.
func (s *Server) pruneLocked(now time.Time) {
	for token, expiresAt := range s.tokens {
		if !now.Before(expiresAt) {
			delete(s.tokens, token)
		}
	}
	for token, expiresAt := range s.csrf {
		if !now.Before(expiresAt) {
			delete(s.csrf, token)
		}
	}
}
