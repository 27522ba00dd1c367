package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/florianilch/aemupload/internal/aem"
)

// ErrQueue marks an unreadable or incomplete upload queue file.
var ErrQueue = errors.New("upload queue error")

// QueueEntry is the upload waiting in a queue file.
type QueueEntry struct {
	File  string `json:"file"`
	Title string `json:"title"`
}

// ReadQueue reads the entry from a .toml or .json queue file. A missing file,
// an empty file or an entry without a file path is an empty queue (nil, nil).
// Relative file paths are resolved against the queue file's directory.
func ReadQueue(queuePath string) (*QueueEntry, error) {
	info, err := os.Stat(queuePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueue, err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(queuePath)) {
	case ".toml":
		parser = toml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: unsupported queue file type %q (want .toml or .json)", ErrQueue, filepath.Ext(queuePath))
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(queuePath), parser); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrQueue, queuePath, err)
	}

	entry := &QueueEntry{}
	if err := k.UnmarshalWithConf("", entry, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrQueue, queuePath, err)
	}

	entry.File = strings.TrimSpace(entry.File)
	entry.Title = strings.TrimSpace(entry.Title)
	if entry.File == "" {
		return nil, nil
	}
	if entry.Title == "" {
		return nil, fmt.Errorf("%w: %s queues %s without a title", ErrQueue, queuePath, entry.File)
	}
	if !filepath.IsAbs(entry.File) {
		entry.File = filepath.Join(filepath.Dir(queuePath), entry.File)
	}

	return entry, nil
}

// Tick uploads the entry queued in queuePath, if any. The queue file is
// removed only after the upload succeeded; on any failure it stays in place
// for the next tick. An empty queue returns (nil, nil).
func (a *App) Tick(ctx context.Context, queuePath string) (*aem.AssetResult, error) {
	entry, err := ReadQueue(queuePath)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		slog.InfoContext(ctx, "no file queued for upload, skipping", slog.String("queue", queuePath))
		return nil, nil
	}

	slog.InfoContext(ctx, "upload triggered",
		slog.String("file", entry.File),
		slog.String("title", entry.Title),
	)

	result, err := a.Upload(ctx, entry.File, entry.Title)
	if err != nil {
		slog.ErrorContext(ctx, "upload failed, queue entry kept", slog.String("queue", queuePath))
		return nil, err
	}

	if err := os.Remove(queuePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return result, fmt.Errorf("%w: clearing %s after upload: %w", ErrQueue, queuePath, err)
	}

	return result, nil
}
