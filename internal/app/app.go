package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/aemupload/internal/aem"
	"github.com/florianilch/aemupload/internal/tokensource"
)

const instrumentationName = "github.com/florianilch/aemupload/internal/app"

// TokenProvider returns a bearer token that is safe to use right away.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Uploader sends one local file with a title to the asset repository.
type Uploader interface {
	Upload(ctx context.Context, filePath, title, accessToken string) (*aem.AssetResult, error)
}

// App wires configuration into the token and upload strategies and sequences
// them for one invocation.
type App struct {
	cfg      *Config
	tokens   TokenProvider
	uploader Uploader
	tracer   trace.Tracer
}

// New creates a new App instance. Simulation mode swaps in strategies that
// never touch storage or the network; the choice is made here once.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Simulation {
		return newApp(cfg,
			tokensource.NewSimulated(slog.Default(), nil),
			aem.NewSimulated(cfg.Upload.DAMPath, slog.Default()),
		), nil
	}

	// I/O deferred to first AccessToken() call
	tokenSource, err := newTokenSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create token source: %w", err)
	}

	uploader, err := aem.NewClient(cfg.Upload.BaseURL, cfg.Upload.DAMPath,
		aem.WithTimeouts(cfg.Upload.CSRFTimeout, cfg.Upload.Timeout),
		aem.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return newApp(cfg, tokenSource, uploader), nil
}

func newApp(cfg *Config, tokens TokenProvider, uploader Uploader) *App {
	return &App{
		cfg:      cfg,
		tokens:   tokens,
		uploader: uploader,
		tracer:   otel.Tracer(instrumentationName),
	}
}

// Upload obtains a valid token and uploads filePath with the given title.
// Nothing is retried; the first failure ends the invocation.
func (a *App) Upload(ctx context.Context, filePath, title string) (*aem.AssetResult, error) {
	ctx, span := a.tracer.Start(ctx, "aemupload.upload", trace.WithAttributes(
		attribute.String("aem.file", aem.FileName(filePath)),
		attribute.String("aem.dam_path", a.cfg.Upload.DAMPath),
		attribute.Bool("aem.simulation", a.cfg.Simulation),
	))
	defer span.End()

	accessToken, err := a.tokens.AccessToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		return nil, fmt.Errorf("obtaining access token: %w", err)
	}

	result, err := a.uploader.Upload(ctx, filePath, title, accessToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload")
		return nil, fmt.Errorf("uploading %s: %w", filePath, err)
	}

	span.SetAttributes(attribute.String("aem.asset_path", result.AssetPath))

	return result, nil
}

// newTokenSource creates a PersistentTokenSource from application configuration.
// No I/O is performed - the store is first touched by AccessToken().
func newTokenSource(cfg *Config) (*PersistentTokenSource, error) {
	store, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create token store: %w", ErrConfiguration, err)
	}

	issuer := tokensource.NewClientCredentials(tokensource.Credentials{
		TokenURL:     cfg.Token.URL,
		ClientID:     cfg.Token.ClientID,
		ClientSecret: cfg.Token.ClientSecret,
		Scope:        cfg.Token.Scope,
	},
		tokensource.WithTimeout(cfg.Token.Timeout),
		tokensource.WithLogger(slog.Default()),
	)

	return NewPersistentTokenSource(issuer, store)
}
