package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/aemupload/internal/app"
	"github.com/florianilch/aemupload/internal/observability"
	"github.com/florianilch/aemupload/internal/samplepdf"
)

// shutdownTimeout bounds flushing of exported telemetry on exit.
const shutdownTimeout = 5 * time.Second

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Stdout).Run(ctx, args)
}

func newRootCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "aemupload",
		Usage:  "Upload files to AEM Assets with a cached client-credentials token",
		Writer: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "path to a .env file (default: ./.env when present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
		},
		Commands: []*cli.Command{
			uploadCommand(stdout),
			tickCommand(stdout),
			samplePDFCommand(stdout),
			devServerCommand(),
		},
	}
}

func uploadCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "upload one file with a title to the configured DAM folder",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "local file to upload",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "title",
				Aliases:  []string{"t"},
				Usage:    "asset title",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "simulation",
				Usage: "use fixed tokens and responses; no storage or network access",
			},
			&cli.StringFlag{
				Name:  "upload--dam-path",
				Usage: "target DAM folder, e.g. /content/dam/reports",
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "token cache backend (sqlite|sqlserver|file|keyring)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return uploadAction(ctx, cmd, stdout)
		},
	}
}

func uploadAction(ctx context.Context, cmd *cli.Command, stdout io.Writer) error {
	title := strings.TrimSpace(cmd.String("title"))
	if title == "" {
		return fmt.Errorf("%w: --title must not be empty", app.ErrConfiguration)
	}

	application, shutdown, err := newApplication(ctx, cmd)
	if err != nil {
		return err
	}
	defer flushTelemetry(shutdown)

	result, err := application.Upload(ctx, cmd.String("file"), title)
	if err != nil {
		return err
	}

	printResult(stdout, result.AssetPath)
	return nil
}

func tickCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "upload the entry waiting in a queue file, if any; meant for timers",
		Description: "The queue file (.toml or .json) holds a file path and a title. " +
			"A missing or empty queue exits 0 without doing anything. " +
			"The queue file is removed after a successful upload and left in place on failure.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "queue",
				Aliases:  []string{"q"},
				Usage:    "path to the queue file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "simulation",
				Usage: "use fixed tokens and responses; no storage or network access",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return tickAction(ctx, cmd, stdout)
		},
	}
}

func tickAction(ctx context.Context, cmd *cli.Command, stdout io.Writer) error {
	application, shutdown, err := newApplication(ctx, cmd)
	if err != nil {
		return err
	}
	defer flushTelemetry(shutdown)

	result, err := application.Tick(ctx, cmd.String("queue"))
	if err != nil {
		return err
	}
	if result != nil {
		printResult(stdout, result.AssetPath)
	}
	return nil
}

// newApplication loads configuration, sets up logging and builds the App.
// The returned shutdown flushes telemetry and must be called once the work is done.
func newApplication(ctx context.Context, cmd *cli.Command) (*app.App, observability.ShutdownFunc, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd.String("env-file"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), string(cfg.Telemetry.Exporter))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to set up observability layer: %w", app.ErrConfiguration, err)
	}

	if cfg.Simulation {
		warnSimulation(ctx)
	}

	application, err := app.New(cfg)
	if err != nil {
		flushTelemetry(shutdown)
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}

	return application, shutdown, nil
}

func samplePDFCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "sample-pdf",
		Usage: "write a one-page PDF for trying out uploads",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "output path",
				Value:   "sample.pdf",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "text shown on the page",
				Value: "Sample Report",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			out := cmd.String("out")
			if err := samplepdf.WriteFile(out, cmd.String("title")); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, out)
			return nil
		},
	}
}

func devServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "dev-server",
		Usage: "run a local token issuer and AEM emulator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen address",
				Value: app.DefaultDevServerAddress,
			},
			&cli.DurationFlag{
				Name:  "token-lifetime",
				Usage: "expires_in of issued tokens",
				Value: time.Hour,
			},
			&cli.StringFlag{
				Name:  "client-id",
				Usage: "only accept this client ID (any when empty)",
			},
			&cli.StringFlag{
				Name:  "client-secret",
				Usage: "secret required together with --client-id",
			},
		},
		Action: devServerAction,
	}
}

func devServerAction(ctx context.Context, cmd *cli.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return fmt.Errorf("%w: invalid log level: %w", app.ErrConfiguration, err)
	}

	shutdown, err := observability.Instrument(ctx, level, cmd.String("log-format"), observability.ExporterNone)
	if err != nil {
		return fmt.Errorf("%w: failed to set up observability layer: %w", app.ErrConfiguration, err)
	}
	defer flushTelemetry(shutdown)

	return app.RunDevServer(ctx, app.DevServerConfig{
		Address:       cmd.String("address"),
		TokenLifetime: cmd.Duration("token-lifetime"),
		ClientID:      cmd.String("client-id"),
		ClientSecret:  cmd.String("client-secret"),
	})
}

func flushTelemetry(shutdown observability.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("telemetry flush failed", "error", err)
	}
}

// warnSimulation makes simulation mode impossible to miss in logs and on a terminal.
func warnSimulation(ctx context.Context) {
	slog.WarnContext(ctx, "SIMULATION MODE: no token is requested or cached and nothing is uploaded")
	if term.IsTerminal(int(os.Stderr.Fd())) {
		_, _ = fmt.Fprintln(os.Stderr, strings.Repeat("!", 60))
		_, _ = fmt.Fprintln(os.Stderr, "!!  SIMULATION MODE - responses are fixed, nothing is sent  !!")
		_, _ = fmt.Fprintln(os.Stderr, strings.Repeat("!", 60))
	}
}

// printResult writes a sentence for people and the bare asset path for pipes.
func printResult(w io.Writer, assetPath string) {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprintf(w, "Done. Asset available at: %s\n", assetPath)
		return
	}
	_, _ = fmt.Fprintln(w, assetPath)
}
