package tokensource

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// SimulatedAccessToken is handed out by Simulated on every call.
	SimulatedAccessToken = "mock-access-token-abc123xyz"

	// SimulatedExpiresIn is the nominal lifetime reported for simulated tokens.
	SimulatedExpiresIn = 30 * time.Second
)

// Simulated issues a fixed placeholder token without touching storage or the
// network. It exists for dry runs and tests, never for production traffic.
type Simulated struct {
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewSimulated creates a Simulated source. A nil logger or clock falls back
// to slog.Default() and time.Now.
func NewSimulated(logger *slog.Logger, now func() time.Time) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}

	return &Simulated{logger: logger, nowFunc: now}
}

// AccessToken returns SimulatedAccessToken. Each call is logged as its own
// issuance with a unique id, since nothing is cached between calls.
func (s *Simulated) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	expiresAt := s.nowFunc().Add(SimulatedExpiresIn).UTC()
	s.logger.InfoContext(ctx, "simulated token issued",
		slog.String("issuance_id", uuid.NewString()),
		slog.Time("expires_at", expiresAt),
	)

	return SimulatedAccessToken, nil
}
