package aem

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// SimulatedCSRFToken is the fixed CSRF token a Simulated uploader pretends to receive.
const SimulatedCSRFToken = "mock-csrf-token-xyz987"

// Simulated mimics a successful upload without any network access. The local
// file is still checked so dry runs fail the same way real ones would.
type Simulated struct {
	damPath string
	logger  *slog.Logger
}

// NewSimulated creates a Simulated uploader reporting assets under damPath.
func NewSimulated(damPath string, logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}

	return &Simulated{
		damPath: strings.TrimRight(damPath, "/"),
		logger:  logger,
	}
}

// Upload validates filePath and returns a 201 result for it.
func (s *Simulated) Upload(ctx context.Context, filePath, title, _ string) (*AssetResult, error) {
	file, size, err := openLocalFile(filePath)
	if err != nil {
		s.logger.ErrorContext(ctx, "local file unavailable", slog.String("path", filePath), slog.String("error", err.Error()))
		return nil, err
	}
	_ = file.Close()

	s.logger.InfoContext(ctx, "simulated CSRF token issued", slog.String("csrf_token", SimulatedCSRFToken))

	assetPath := s.damPath + "/" + FileName(filePath)
	s.logger.InfoContext(ctx, "simulated upload accepted",
		slog.String("title", title),
		slog.Int64("size", size),
		slog.String("asset_path", assetPath),
	)

	return &AssetResult{
		StatusCode: http.StatusCreated,
		AssetPath:  assetPath,
	}, nil
}
