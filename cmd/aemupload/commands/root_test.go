package commands

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/aemupload/internal/app"
	"github.com/florianilch/aemupload/internal/samplepdf"
)

func restoreDefaultLogger(t *testing.T) {
	t.Helper()

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestRoot_SamplePDF(t *testing.T) {
	var stdout bytes.Buffer
	out := filepath.Join(t.TempDir(), "fixtures", "report.pdf")

	err := newRootCommand(&stdout).Run(t.Context(), []string{"aemupload", "sample-pdf", "--out", out, "--title", "Q3"})
	require.NoError(t, err)

	assert.Equal(t, out+"\n", stdout.String())
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, samplepdf.Generate("Q3"), got)
}

func TestRoot_UploadInSimulationPrintsAssetPath(t *testing.T) {
	restoreDefaultLogger(t)
	for _, kv := range baseEnv(t) {
		key, value, _ := strings.Cut(kv, "=")
		t.Setenv(key, value)
	}

	file := filepath.Join(t.TempDir(), "My Report (Final).pdf")
	require.NoError(t, samplepdf.WriteFile(file, "Q3"))

	var stdout bytes.Buffer
	err := newRootCommand(&stdout).Run(t.Context(), []string{
		"aemupload", "--env-file", noEnvFile(t),
		"upload", "--file", file, "--title", "Q3 Report", "--simulation",
	})
	require.NoError(t, err)

	assert.Equal(t, "/content/dam/reports/My Report (Final).pdf\n", stdout.String())
}

func TestRoot_UploadFlagOverridesDAMPath(t *testing.T) {
	restoreDefaultLogger(t)
	for _, kv := range baseEnv(t) {
		key, value, _ := strings.Cut(kv, "=")
		t.Setenv(key, value)
	}
	t.Setenv("AEMUPLOAD_SIMULATION", "true")

	file := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, samplepdf.WriteFile(file, "A"))

	var stdout bytes.Buffer
	err := newRootCommand(&stdout).Run(t.Context(), []string{
		"aemupload", "--env-file", noEnvFile(t),
		"upload", "--file", file, "--title", "A", "--upload--dam-path", "/content/dam/other",
	})
	require.NoError(t, err)

	assert.Equal(t, "/content/dam/other/a.pdf\n", stdout.String())
}

func TestRoot_UploadRejectsBlankTitle(t *testing.T) {
	var stdout bytes.Buffer
	err := newRootCommand(&stdout).Run(t.Context(), []string{
		"aemupload", "upload", "--file", "x.pdf", "--title", "  ",
	})
	require.ErrorIs(t, err, app.ErrConfiguration)
	assert.Empty(t, stdout.String())
}

func TestRoot_UploadMissingFileFails(t *testing.T) {
	restoreDefaultLogger(t)
	for _, kv := range baseEnv(t) {
		key, value, _ := strings.Cut(kv, "=")
		t.Setenv(key, value)
	}

	var stdout bytes.Buffer
	err := newRootCommand(&stdout).Run(t.Context(), []string{
		"aemupload", "--env-file", noEnvFile(t),
		"upload", "--file", filepath.Join(t.TempDir(), "missing.pdf"), "--title", "Q3", "--simulation",
	})
	require.Error(t, err)
	assert.Equal(t, "local_file", app.ErrorCategory(err))
	assert.Empty(t, stdout.String())
}

func TestRoot_Tick(t *testing.T) {
	setBaseEnv := func(t *testing.T) {
		for _, kv := range baseEnv(t) {
			key, value, _ := strings.Cut(kv, "=")
			t.Setenv(key, value)
		}
	}

	t.Run("empty queue exits cleanly", func(t *testing.T) {
		restoreDefaultLogger(t)
		setBaseEnv(t)

		var stdout bytes.Buffer
		err := newRootCommand(&stdout).Run(t.Context(), []string{
			"aemupload", "--env-file", noEnvFile(t),
			"tick", "--queue", filepath.Join(t.TempDir(), "queue.toml"), "--simulation",
		})
		require.NoError(t, err)
		assert.Empty(t, stdout.String())
	})

	t.Run("queued file is uploaded and the queue cleared", func(t *testing.T) {
		restoreDefaultLogger(t)
		setBaseEnv(t)

		dir := t.TempDir()
		require.NoError(t, samplepdf.WriteFile(filepath.Join(dir, "report.pdf"), "Q3"))
		queue := filepath.Join(dir, "queue.json")
		require.NoError(t, os.WriteFile(queue, []byte(`{"file":"report.pdf","title":"Q3 Report"}`), 0o600))

		var stdout bytes.Buffer
		err := newRootCommand(&stdout).Run(t.Context(), []string{
			"aemupload", "--env-file", noEnvFile(t),
			"tick", "--queue", queue, "--simulation",
		})
		require.NoError(t, err)
		assert.Equal(t, "/content/dam/reports/report.pdf\n", stdout.String())
		assert.NoFileExists(t, queue)
	})

	t.Run("failed upload keeps the queue", func(t *testing.T) {
		restoreDefaultLogger(t)
		setBaseEnv(t)

		queue := filepath.Join(t.TempDir(), "queue.toml")
		require.NoError(t, os.WriteFile(queue, []byte("file = 'missing.pdf'\ntitle = 'Q3'\n"), 0o600))

		var stdout bytes.Buffer
		err := newRootCommand(&stdout).Run(t.Context(), []string{
			"aemupload", "--env-file", noEnvFile(t),
			"tick", "--queue", queue, "--simulation",
		})
		require.Error(t, err)
		assert.Equal(t, "local_file", app.ErrorCategory(err))
		assert.Empty(t, stdout.String())
		assert.FileExists(t, queue)
	})
}
