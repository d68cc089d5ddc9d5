// timelineecho mirrors one source account's authoring timeline onto any
// number of destination accounts, across AT Protocol, Mastodon, Misskey,
// and Twitter. It runs a single bounded cycle per invocation; schedule it
// with cron or a systemd timer for continuous mirroring.
//
// Usage:
//
//	export TIMELINEECHO_CONFIG=./config.json
//	export DATABASE_URL=timelineecho.db
//	./timelineecho
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/klppl/timelineecho/internal/config"
	"github.com/klppl/timelineecho/internal/orchestrator"
	"github.com/klppl/timelineecho/internal/runerr"
	"github.com/klppl/timelineecho/internal/store"
)

func main() {
	// Structured logging: JSON when output is redirected (the common
	// cron/systemd case), human-readable text on an interactive terminal.
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting timelineecho cycle")

	// ─── Configuration ────────────────────────────────────────────────────────
	tunables := config.LoadTunables()
	users, err := config.LoadUsers("")
	if err != nil {
		exitWith(&runerr.ConfigError{Err: err})
	}
	slog.Info("config loaded", "users", len(users), "database", tunables.DatabaseURL)

	// ─── Store ────────────────────────────────────────────────────────────────
	backend, err := store.Open(tunables.DatabaseURL)
	if err != nil {
		exitWith(&runerr.ConfigError{Err: err})
	}
	defer backend.Close()

	// ─── Bounded run ──────────────────────────────────────────────────────────
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelBudget := context.WithTimeout(ctx, tunables.RunBudget)
	defer cancelBudget()

	err = orchestrator.Run(ctx, orchestrator.Options{
		Backend:          backend,
		Users:            users,
		AdapterTimeout:   tunables.AdapterTimeout,
		LinkCardTimeout:  tunables.LinkCardTimeout,
		FetchConcurrency: tunables.FetchConcurrency,
		TwitterProxyURL:  os.Getenv("TWITTER_RETWEET_PROXY_URL"),
	})
	if err != nil {
		exitWith(err)
	}

	slog.Info("timelineecho cycle finished")
}

// exitWith logs err at the severity its runerr kind implies and exits
// with the matching code: 1 for a run that could not start or could not
// persist its results, 2 for an invariant the rest of the codebase
// guarantees having been violated.
func exitWith(err error) {
	var invariant *runerr.InvariantViolation
	if errors.As(err, &invariant) {
		slog.Error("invariant violation", "error", err)
		os.Exit(2)
	}
	slog.Error("run failed", "error", err)
	os.Exit(1)
}
