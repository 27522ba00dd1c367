package samplepdf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Structure(t *testing.T) {
	pdf := Generate("Quarterly Report")

	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-1.4\n")))
	assert.True(t, bytes.HasSuffix(pdf, []byte("%%EOF\n")))
	assert.Contains(t, string(pdf), "(Quarterly Report) Tj")
	assert.Contains(t, string(pdf), "/Count 1")
}

func TestGenerate_XrefOffsetsPointAtObjects(t *testing.T) {
	pdf := Generate("Offsets")

	m := regexp.MustCompile(`startxref\n(\d+)\n`).FindSubmatch(pdf)
	require.NotNil(t, m)
	xref, err := strconv.Atoi(string(m[1]))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdf[xref:], []byte("xref\n")))

	entries := regexp.MustCompile(`(\d{10}) 00000 n `).FindAllSubmatch(pdf[xref:], -1)
	require.Len(t, entries, 5)
	for i, e := range entries {
		off, err := strconv.Atoi(string(e[1]))
		require.NoError(t, err)
		want := fmt.Sprintf("%d 0 obj\n", i+1)
		assert.True(t, bytes.HasPrefix(pdf[off:], []byte(want)), "object %d at offset %d", i+1, off)
	}
}

func TestGenerate_StreamLengthMatches(t *testing.T) {
	pdf := Generate("Length")

	m := regexp.MustCompile(`(?s)/Length (\d+) >>\nstream\n(.*?)\nendstream`).FindSubmatch(pdf)
	require.NotNil(t, m)
	n, err := strconv.Atoi(string(m[1]))
	require.NoError(t, err)
	assert.Len(t, m[2], n)
}

func TestGenerate_EscapesTitle(t *testing.T) {
	pdf := string(Generate(`My Report (Final) \ v2`))
	assert.Contains(t, pdf, `(My Report \(Final\) \\ v2) Tj`)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.pdf")

	require.NoError(t, WriteFile(path, "Sample"))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Generate("Sample"), got)
}
