// Command salesgrid runs the grid backend: an MCP stdio server over a libSQL
// store, with scheduled column refreshes running in the background.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/salesgrid/salesgrid/internal/enrichment"
	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/internal/logging"
	"github.com/salesgrid/salesgrid/internal/preview"
	"github.com/salesgrid/salesgrid/internal/scheduler"
	"github.com/salesgrid/salesgrid/internal/store"
	"github.com/salesgrid/salesgrid/internal/triggers"
	"github.com/salesgrid/salesgrid/internal/validation"
	"github.com/salesgrid/salesgrid/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			printVersion()
			return
		case "vacuum":
			if err := runVacuum(); err != nil {
				fmt.Fprintln(os.Stderr, "salesgrid:", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "salesgrid:", err)
		os.Exit(1)
	}
}

// runVacuum compacts the database and exits. Meant for cron or manual
// maintenance while the server is stopped.
func runVacuum() error {
	cfg := loadConfig()

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Vacuum(context.Background()); err != nil {
		return err
	}
	fmt.Println("vacuumed", cfg.DBPath)
	return nil
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("store ready", slog.String("db_path", cfg.DBPath))

	jq := expressions.NewGoJQEngine()
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("create CEL engine: %w", err)
	}
	validator, err := validation.NewValidator(jq)
	if err != nil {
		return fmt.Errorf("create validator: %w", err)
	}

	extractor := enrichment.NewExtractor(jq, logger)
	dispatcher := triggers.NewDispatcher(st, expressions.NewExprEngine(), logger)
	previewer := preview.NewPreviewer(st, extractor, logger, cfg.Workers).
		WithRowListener(dispatcher)

	sched := scheduler.NewScheduler(st, previewer, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Error("scheduler stop failed", slog.String("error", err.Error()))
		}
	}()

	srv := mcp.NewGridServer(mcp.GridServerDeps{
		Store:     st,
		Previewer: previewer,
		Validator: validator,
		Filters:   cel,
		Logger:    logger,
	})

	logger.Info("serving MCP over stdio", slog.String("version", version))
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("shutting down")
	return nil
}

// newLogger builds the process logger: JSON to stderr (stdout carries the MCP
// transport) with correlation IDs injected from contexts.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(logging.NewCorrelationHandler(handler))
	slog.SetDefault(logger)
	return logger
}
