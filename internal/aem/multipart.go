package aem

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	titleField = "title"
	fileField  = "file"

	pdfContentType = "application/pdf"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// FileName returns the last path segment of filePath. Backslashes count as
// separators too, so Windows-style paths resolve the same on every platform.
func FileName(filePath string) string {
	return path.Base(strings.ReplaceAll(filePath, `\`, "/"))
}

// newBoundary returns a multipart boundary unique to one request.
// The result stays within the 70 characters RFC 2046 allows.
func newBoundary(now time.Time) string {
	return fmt.Sprintf("aemupload-%d-%s", now.UnixNano(), uuid.NewString())
}

// streamMultipart encodes the title field and the file part into a pipe, so the
// file is never buffered in memory. It returns the body and its Content-Type.
//
// No goroutine leak on request cancellation: when http.Transport gives up on
// the request it closes the reader, which fails the pending writes.
func streamMultipart(file io.Reader, filename, title, boundary string) (io.ReadCloser, string, error) {
	pr, pw := io.Pipe()

	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(boundary); err != nil {
		_ = pr.Close()
		return nil, "", fmt.Errorf("setting multipart boundary: %w", err)
	}

	go func() {
		pw.CloseWithError(writeParts(mw, file, filename, title))
	}()

	return pr, mw.FormDataContentType(), nil
}

// writeParts writes exactly two parts: the title text field, then the file.
func writeParts(mw *multipart.Writer, file io.Reader, filename, title string) error {
	if err := mw.WriteField(titleField, title); err != nil {
		return err
	}

	// CreateFormFile would force application/octet-stream.
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", pdfContentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	return mw.Close()
}
