// Package aem drives the Adobe Experience Manager Assets upload protocol:
// a CSRF token fetch followed by a multipart asset upload, both authenticated
// with an OAuth2 bearer token.
package aem

import (
	"errors"
	"fmt"
)

// Sentinel errors for the upload sequence.
// Use errors.Is(err, aem.ErrUpload) to check.
var (
	ErrLocalFile = errors.New("aem: local file unavailable")
	ErrCSRF      = errors.New("aem: csrf token request failed")
	ErrUpload    = errors.New("aem: asset upload failed")
)

// ResponseError wraps a sentinel error with the HTTP status and a truncated
// response body for diagnosis.
type ResponseError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("aem: %s %s: HTTP %d", e.Op, e.URL, e.StatusCode)
	}

	return fmt.Sprintf("aem: %s %s: HTTP %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
