package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps the token record as a JSON file with secure permissions.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	filePath string
	nowFunc  func() time.Time
}

// Compile-time check to ensure FileStore implements TokenStore
var _ TokenStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path. The parent directory is
// created by EnsureSchema, not here.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	return &FileStore{
		filePath: filePath,
		nowFunc:  time.Now,
	}, nil
}

// EnsureSchema creates the parent directory with 0700 permissions.
func (f *FileStore) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.filePath), 0700); err != nil {
		return storageError("creating token directory", err)
	}
	return nil
}

// Load returns the stored record. A missing file means no record; a file with
// insecure permissions or unparsable content is an error.
func (f *FileStore) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("reading token file", err)
	}
	if info.Mode().Perm() != 0600 {
		return nil, storageError("reading token file",
			fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm()))
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, storageError("reading token file", err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, storageError("decoding token file "+f.filePath, err)
	}
	return rec, nil
}

// Save atomically replaces the record using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) Save(ctx context.Context, accessToken string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(accessToken, expiresAt, f.nowFunc())
	if err != nil {
		return storageError("encoding token record", err)
	}

	if err := f.writeAtomic(ctx, data); err != nil {
		return storageError("writing token file", err)
	}
	return nil
}

func (f *FileStore) writeAtomic(ctx context.Context, data []byte) error {
	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// CreateTemp already uses 0600; set it explicitly before the file becomes visible.
	if err := os.Chmod(tempName, 0600); err != nil {
		return err
	}

	return os.Rename(tempName, f.filePath)
}

// encodeRecord renders a record in the JSON layout shared by the file and keyring backends.
func encodeRecord(accessToken string, expiresAt, createdAt time.Time) ([]byte, error) {
	return json.Marshal(Record{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   createdAt.UTC(),
	})
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.AccessToken == "" {
		return nil, fmt.Errorf("record has no access token")
	}

	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
