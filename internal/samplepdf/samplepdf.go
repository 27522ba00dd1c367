// Package samplepdf writes a minimal single-page PDF, used as an upload
// fixture for dry runs and the local dev server.
package samplepdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Generate returns a valid one-page PDF showing title.
func Generate(title string) []byte {
	var buf bytes.Buffer
	write(&buf, title)
	return buf.Bytes()
}

// WriteFile writes the sample PDF to path, creating parent directories.
func WriteFile(path, title string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, Generate(title), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// countingWriter tracks the byte offset needed by the xref table.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) printf(format string, args ...any) {
	n, _ := fmt.Fprintf(c.w, format, args...)
	c.n += n
}

func write(w io.Writer, title string) {
	content := fmt.Sprintf("BT /F1 24 Tf 72 720 Td (%s) Tj ET", escape(title))

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	cw := &countingWriter{w: w}
	cw.printf("%%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = cw.n
		cw.printf("%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := cw.n
	cw.printf("xref\n0 %d\n", len(objects)+1)
	cw.printf("0000000000 65535 f \n")
	for _, off := range offsets {
		cw.printf("%010d 00000 n \n", off)
	}
	cw.printf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
}

// escape makes s safe inside a PDF literal string.
func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`, "\r", " ", "\n", " ").Replace(s)
}
