package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bobmcallan/passage/internal/app"
	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/server"
)

const usage = `usage: passage-server [command]

commands:
  (none)             run the authorization server
  trust <app-id>     mark an application as first-party (skips consent)
  untrust <app-id>   require consent for an application again
`

func main() {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	ctx := context.Background()
	a, err := app.NewApp(ctx, os.Getenv("PASSAGE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		code := runCommand(ctx, a, os.Args[1:])
		a.Close()
		os.Exit(code)
	}

	common.PrintBanner(a.Config, a.Logger)

	srv := server.NewServer(a)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	common.PrintShutdownBanner(a.Logger)

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	a.Logger.Info().Msg("Server stopped")
}

// runCommand executes an operator command and returns the exit code.
func runCommand(ctx context.Context, a *app.App, args []string) int {
	switch {
	case len(args) == 2 && (args[0] == "trust" || args[0] == "untrust"):
		trusted := args[0] == "trust"
		if err := a.ApplicationService.SetTrusted(ctx, args[1], trusted); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to update application %s: %v\n", args[1], err)
			return 1
		}
		a.Logger.Info().Str("application_id", args[1]).Bool("trusted", trusted).Msg("Application trust updated")
		return 0
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}
