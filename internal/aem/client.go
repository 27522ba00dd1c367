package aem

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Timeouts per exchange.
const (
	DefaultCSRFTimeout   = 30 * time.Second
	DefaultUploadTimeout = 120 * time.Second
)

const (
	csrfPath   = "/libs/granite/csrf/token.json"
	csrfHeader = "CSRF-Token"
	userAgent  = "aemupload/1.0"

	// maxErrorBody caps how much of an error response is read and kept.
	maxErrorBody = 512
)

// AssetResult describes a successfully created asset.
type AssetResult struct {
	StatusCode int
	AssetPath  string
}

// Client uploads files to an AEM Assets folder.
// Every Upload fetches its own CSRF token; nothing is reused between uploads.
type Client struct {
	baseURL       string
	damPath       string
	httpClient    *http.Client
	csrfTimeout   time.Duration
	uploadTimeout time.Duration
	logger        *slog.Logger
	nowFunc       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for both exchanges.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeouts overrides the CSRF and upload timeouts. Zero keeps the default.
func WithTimeouts(csrf, upload time.Duration) Option {
	return func(c *Client) {
		if csrf > 0 {
			c.csrfTimeout = csrf
		}
		if upload > 0 {
			c.uploadTimeout = upload
		}
	}
}

// WithLogger sets the client logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for the AEM instance at baseURL, uploading into
// the DAM folder damPath (for example "/content/dam/reports").
func NewClient(baseURL, damPath string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}
	if !strings.HasPrefix(damPath, "/") {
		return nil, fmt.Errorf("invalid DAM path %q: must start with /", damPath)
	}

	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		damPath:       strings.TrimRight(damPath, "/"),
		httpClient:    http.DefaultClient,
		csrfTimeout:   DefaultCSRFTimeout,
		uploadTimeout: DefaultUploadTimeout,
		logger:        slog.Default(),
		nowFunc:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Upload sends filePath with the given title to the configured DAM folder.
//
// The local file is checked before any request is made. Only HTTP 201 counts
// as success; the asset path comes from the Location header when present and
// is derived from the DAM folder and file name otherwise.
func (c *Client) Upload(ctx context.Context, filePath, title, accessToken string) (*AssetResult, error) {
	file, size, err := openLocalFile(filePath)
	if err != nil {
		c.logger.ErrorContext(ctx, "local file unavailable", slog.String("path", filePath), slog.String("error", err.Error()))
		return nil, err
	}
	defer func() { _ = file.Close() }()

	csrfToken, err := c.FetchCSRFToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	filename := FileName(filePath)
	target, err := url.JoinPath(c.baseURL, c.damPath, url.PathEscape(filename))
	if err != nil {
		return nil, fmt.Errorf("%w: building upload URL: %w", ErrUpload, err)
	}

	c.logger.InfoContext(ctx, "uploading asset",
		slog.String("file", filename),
		slog.Int64("size", size),
		slog.String("url", target),
	)

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	body, contentType, err := streamMultipart(file, filename, title, newBoundary(c.nowFunc()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("%w: creating request: %w", ErrUpload, err)
	}
	c.authorize(req, accessToken)
	req.Header.Set(csrfHeader, csrfToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "upload request failed", slog.String("url", target), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: POST %s: %w", ErrUpload, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.responseError(ctx, "upload", target, resp, ErrUpload)
	}

	assetPath := resp.Header.Get("Location")
	if assetPath == "" {
		assetPath = c.damPath + "/" + filename
	}

	c.logger.InfoContext(ctx, "upload successful", slog.String("asset_path", assetPath))

	return &AssetResult{
		StatusCode: resp.StatusCode,
		AssetPath:  assetPath,
	}, nil
}

// FetchCSRFToken requests a one-time CSRF token from the Granite endpoint.
func (c *Client) FetchCSRFToken(ctx context.Context, accessToken string) (string, error) {
	target := c.baseURL + csrfPath

	ctx, cancel := context.WithTimeout(ctx, c.csrfTimeout)
	defer cancel()

	c.logger.InfoContext(ctx, "fetching CSRF token", slog.String("url", target))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %w", ErrCSRF, err)
	}
	c.authorize(req, accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "CSRF token request failed", slog.String("url", target), slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: GET %s: %w", ErrCSRF, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", c.responseError(ctx, "fetch CSRF token", target, resp, ErrCSRF)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decoding response from %s: %w", ErrCSRF, target, err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("%w: response from %s has no token", ErrCSRF, target)
	}

	c.logger.InfoContext(ctx, "CSRF token acquired")

	return payload.Token, nil
}

func (c *Client) authorize(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)
}

// responseError reads a truncated copy of the body, logs it and returns a ResponseError.
func (c *Client) responseError(ctx context.Context, op, target string, resp *http.Response, sentinel error) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
	if readErr != nil {
		body = []byte("(failed to read response body)")
	}

	msg := string(body)
	if len(body) > maxErrorBody {
		msg = string(body[:maxErrorBody]) + "...(truncated)"
	}

	c.logger.ErrorContext(ctx, op+" failed",
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.String("body", msg),
	)

	return &ResponseError{
		Op:         op,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       msg,
		Err:        sentinel,
	}
}

// openLocalFile opens filePath for reading and returns it with its size.
func openLocalFile(filePath string) (*os.File, int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrLocalFile, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %w", ErrLocalFile, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", ErrLocalFile, filePath)
	}

	return f, info.Size(), nil
}
