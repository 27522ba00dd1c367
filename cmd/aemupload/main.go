package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/florianilch/aemupload/cmd/aemupload/commands"
	"github.com/florianilch/aemupload/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.Execute(ctx, os.Args)
	stop()

	if err != nil {
		slog.Error("aemupload failed", "category", app.ErrorCategory(err), "error", err)
		os.Exit(1)
	}
}
