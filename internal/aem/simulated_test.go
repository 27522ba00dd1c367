package aem

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_Upload(t *testing.T) {
	filePath := writeTestFile(t, "sample.pdf", "%PDF-1.4")

	result, err := NewSimulated("/content/dam/pdf-uploads/", nil).Upload(context.Background(), filePath, "Sample", "mock")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "/content/dam/pdf-uploads/sample.pdf", result.AssetPath)
}

func TestSimulated_MissingFile(t *testing.T) {
	_, err := NewSimulated("/content/dam", nil).Upload(context.Background(), filepath.Join(t.TempDir(), "x.pdf"), "X", "mock")
	assert.ErrorIs(t, err, ErrLocalFile)
}
