package aem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDAMPath = "/content/dam/reports"

// receivedPart is one decoded multipart part as seen by the fake AEM server.
type receivedPart struct {
	FormName    string
	FileName    string
	ContentType string
	Body        string
}

// fakeAEM emulates the CSRF and upload endpoints and records what it receives.
type fakeAEM struct {
	csrfCalls   atomic.Int32
	uploadCalls atomic.Int32

	csrfStatus   int
	csrfBody     string
	uploadStatus int
	uploadBody   string
	location     string

	mu          sync.Mutex
	uploadPath  string
	headers     http.Header
	contentType string
	parts       []receivedPart
}

func newFakeAEM() *fakeAEM {
	return &fakeAEM{
		csrfStatus:   http.StatusOK,
		csrfBody:     `{"token":"csrf-123"}`,
		uploadStatus: http.StatusCreated,
	}
}

func (f *fakeAEM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == csrfPath {
		f.csrfCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.csrfStatus)
		fmt.Fprint(w, f.csrfBody)
		return
	}

	f.uploadCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploadPath = r.URL.Path
	f.headers = r.Header.Clone()
	f.contentType = r.Header.Get("Content-Type")

	if mr, err := r.MultipartReader(); err == nil {
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}
			body, _ := io.ReadAll(p)
			f.parts = append(f.parts, receivedPart{
				FormName:    p.FormName(),
				FileName:    p.FileName(),
				ContentType: p.Header.Get("Content-Type"),
				Body:        string(body),
			})
		}
	}

	if f.location != "" {
		w.Header().Set("Location", f.location)
	}
	w.WriteHeader(f.uploadStatus)
	fmt.Fprint(w, f.uploadBody)
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	c, err := NewClient(baseURL, testDAMPath, opts...)
	require.NoError(t, err)
	return c
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestUpload_ReportScenario(t *testing.T) {
	fake := newFakeAEM()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	filePath := writeTestFile(t, "My Report (Final).pdf", "%PDF-1.4 fake")

	result, err := newTestClient(t, srv.URL).Upload(context.Background(), filePath, "Q3 Report", "access-1")
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "/content/dam/reports/My Report (Final).pdf", result.AssetPath)

	fake.mu.Lock()
	defer fake.mu.Unlock()

	assert.Equal(t, "/content/dam/reports/My Report (Final).pdf", fake.uploadPath)
	assert.Equal(t, "Bearer access-1", fake.headers.Get("Authorization"))
	assert.Equal(t, "csrf-123", fake.headers.Get("CSRF-Token"))

	mediaType, _, err := mime.ParseMediaType(fake.contentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	require.Len(t, fake.parts, 2, "exactly a title part and a file part")
	assert.Equal(t, "title", fake.parts[0].FormName)
	assert.Equal(t, "Q3 Report", fake.parts[0].Body)
	assert.Equal(t, "file", fake.parts[1].FormName)
	assert.Equal(t, "My Report (Final).pdf", fake.parts[1].FileName)
	assert.Equal(t, "application/pdf", fake.parts[1].ContentType)
	assert.Equal(t, "%PDF-1.4 fake", fake.parts[1].Body)
}

func TestUpload_LocationHeader(t *testing.T) {
	fake := newFakeAEM()
	fake.location = "/content/dam/reports/doc.pdf/jcr:content"
	srv := httptest.NewServer(fake)
	defer srv.Close()

	filePath := writeTestFile(t, "doc.pdf", "pdf")

	result, err := newTestClient(t, srv.URL).Upload(context.Background(), filePath, "Doc", "tok")
	require.NoError(t, err)
	assert.Equal(t, "/content/dam/reports/doc.pdf/jcr:content", result.AssetPath)
}

func TestUpload_MissingFileMakesNoRequests(t *testing.T) {
	fake := newFakeAEM()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	missing := filepath.Join(t.TempDir(), "nope.pdf")

	_, err := newTestClient(t, srv.URL).Upload(context.Background(), missing, "Title", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocalFile)
	assert.Equal(t, int32(0), fake.csrfCalls.Load())
	assert.Equal(t, int32(0), fake.uploadCalls.Load())
}

func TestUpload_DirectoryIsNotAFile(t *testing.T) {
	fake := newFakeAEM()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Upload(context.Background(), t.TempDir(), "Title", "tok")
	assert.ErrorIs(t, err, ErrLocalFile)
	assert.Equal(t, int32(0), fake.csrfCalls.Load())
}

func TestUpload_NonCreatedStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "ok is not created", status: http.StatusOK, body: "updated"},
		{name: "forbidden", status: http.StatusForbidden, body: "csrf rejected"},
		{name: "conflict", status: http.StatusConflict, body: "exists"},
		{name: "server error", status: http.StatusInternalServerError, body: strings.Repeat("e", 2048)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeAEM()
			fake.uploadStatus = tt.status
			fake.uploadBody = tt.body
			srv := httptest.NewServer(fake)
			defer srv.Close()

			filePath := writeTestFile(t, "doc.pdf", "pdf")

			result, err := newTestClient(t, srv.URL).Upload(context.Background(), filePath, "Doc", "tok")
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrUpload)

			var respErr *ResponseError
			require.True(t, errors.As(err, &respErr))
			assert.Equal(t, tt.status, respErr.StatusCode)
			assert.LessOrEqual(t, len(respErr.Body), maxErrorBody+len("...(truncated)"))
		})
	}
}

func TestUpload_CSRFFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"invalid token"}`},
		{name: "malformed json", status: http.StatusOK, body: `{"token":`},
		{name: "empty token", status: http.StatusOK, body: `{"token":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeAEM()
			fake.csrfStatus = tt.status
			fake.csrfBody = tt.body
			srv := httptest.NewServer(fake)
			defer srv.Close()

			filePath := writeTestFile(t, "doc.pdf", "pdf")

			_, err := newTestClient(t, srv.URL).Upload(context.Background(), filePath, "Doc", "tok")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCSRF)
			assert.Equal(t, int32(1), fake.csrfCalls.Load())
			assert.Equal(t, int32(0), fake.uploadCalls.Load(), "no upload without a CSRF token")
		})
	}
}

func TestUpload_FreshCSRFTokenPerUpload(t *testing.T) {
	fake := newFakeAEM()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	filePath := writeTestFile(t, "doc.pdf", "pdf")

	for range 3 {
		_, err := client.Upload(context.Background(), filePath, "Doc", "tok")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), fake.csrfCalls.Load())
	assert.Equal(t, int32(3), fake.uploadCalls.Load())
}

func TestUpload_UniqueBoundaryPerRequest(t *testing.T) {
	var (
		mu         sync.Mutex
		boundaries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == csrfPath {
			fmt.Fprint(w, `{"token":"c"}`)
			return
		}
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		assert.NoError(t, err)
		mu.Lock()
		boundaries = append(boundaries, params["boundary"])
		mu.Unlock()
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	// A frozen clock proves uniqueness does not rely on the timestamp alone.
	client := newTestClient(t, srv.URL)
	client.nowFunc = func() time.Time { return time.Unix(1700000000, 0) }
	filePath := writeTestFile(t, "doc.pdf", "pdf")

	for range 2 {
		_, err := client.Upload(context.Background(), filePath, "Doc", "tok")
		require.NoError(t, err)
	}

	require.Len(t, boundaries, 2)
	assert.NotEqual(t, boundaries[0], boundaries[1])
	assert.True(t, strings.HasPrefix(boundaries[0], "aemupload-1700000000000000000-"))
	assert.LessOrEqual(t, len(boundaries[0]), 70)
}

func TestUpload_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == csrfPath {
			fmt.Fprint(w, `{"token":"c"}`)
			return
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv.URL, WithTimeouts(0, 50*time.Millisecond))
	filePath := writeTestFile(t, "doc.pdf", "pdf")

	_, err := client.Upload(context.Background(), filePath, "Doc", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpload)
}

func TestUpload_NetworkError(t *testing.T) {
	filePath := writeTestFile(t, "doc.pdf", "pdf")

	_, err := newTestClient(t, "http://127.0.0.1:1").Upload(context.Background(), filePath, "Doc", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCSRF)
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		damPath string
	}{
		{name: "relative base", baseURL: "author.example.com", damPath: "/content/dam"},
		{name: "unparsable base", baseURL: "http://[::1", damPath: "/content/dam"},
		{name: "dam path without slash", baseURL: "https://author.example.com", damPath: "content/dam"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.baseURL, tt.damPath)
			assert.Error(t, err)
		})
	}
}

func TestNewClient_TrimsTrailingSlashes(t *testing.T) {
	c, err := NewClient("https://author.example.com/", "/content/dam/reports/")
	require.NoError(t, err)
	assert.Equal(t, "https://author.example.com", c.baseURL)
	assert.Equal(t, "/content/dam/reports", c.damPath)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "report.pdf", want: "report.pdf"},
		{in: "/tmp/out/My Report (Final).pdf", want: "My Report (Final).pdf"},
		{in: `C:\pdfs\document.pdf`, want: "document.pdf"},
		{in: `C:/aem-client\sample/sample.pdf`, want: "sample.pdf"},
		{in: "relative/dir/../file name.pdf", want: "file name.pdf"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(tt.in), tt.in)
	}
}

func TestWriteParts_QuotesFilename(t *testing.T) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, strings.NewReader("x"), `we"ird.pdf`, "t"))
	}()

	mr := multipart.NewReader(pr, mw.Boundary())
	_, err := mr.NextPart()
	require.NoError(t, err)
	p, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, `we"ird.pdf`, p.FileName())
	_, _ = io.Copy(io.Discard, pr)
}
