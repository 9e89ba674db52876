package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/stagegate/stagegate/internal/audit"
	"github.com/stagegate/stagegate/internal/backoff"
	"github.com/stagegate/stagegate/internal/config"
	"github.com/stagegate/stagegate/internal/dispatch"
	"github.com/stagegate/stagegate/internal/events"
	"github.com/stagegate/stagegate/internal/history"
	"github.com/stagegate/stagegate/internal/intercept"
	"github.com/stagegate/stagegate/internal/metrics"
	"github.com/stagegate/stagegate/internal/notify"
	"github.com/stagegate/stagegate/internal/ranking"
	"github.com/stagegate/stagegate/internal/rules"
	"github.com/stagegate/stagegate/internal/schedule"
	"github.com/stagegate/stagegate/internal/staging"
	"github.com/stagegate/stagegate/internal/store"
)

// app bundles the wired storage layer shared by the daemon and the
// inspection commands.
type app struct {
	logger       *slog.Logger
	db           *sql.DB
	baseStore    store.Store
	retryStore   *store.RetryStore
	historyStore store.HistoryStore
}

func newLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newApp opens the configured store backend and wraps it with the retry
// layer.
func newApp(cfg *config.Config, debug bool) (*app, error) {
	logger := newLogger(cfg, debug)

	a := &app{logger: logger}

	switch cfg.Store.Backend {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Store.DataDir, "stagegate.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		a.db = db

		s, err := store.NewSQLStore(db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		hs, err := store.NewSQLHistoryStore(db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.baseStore = s
		a.historyStore = hs

	default:
		s, err := store.NewJSONStore(cfg.Store.DataDir, logger)
		if err != nil {
			return nil, err
		}
		hs, err := store.NewJSONHistoryStore(cfg.Store.DataDir, logger)
		if err != nil {
			return nil, err
		}
		a.baseStore = s
		a.historyStore = hs
	}

	a.retryStore = store.NewRetryStore(a.baseStore, store.RetryConfig{
		MaxRetries: cfg.Store.Retry.MaxRetries,
		Policy: backoff.Policy{
			Base: cfg.Store.Retry.BaseDelay,
			Max:  cfg.Store.Retry.MaxDelay,
		},
		FailureThreshold: cfg.Store.Retry.FailureThreshold,
		Cooldown:         cfg.Store.Retry.Cooldown,
	}, logger)

	return a, nil
}

// Close releases the backend resources.
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}

// runServe wires the full daemon and blocks until shutdown.
func runServe(ctx context.Context, cfg *config.Config, debug bool) error {
	a, err := newApp(cfg, debug)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	auditLog, err := audit.NewLogger(audit.Config{
		Enabled:       cfg.Audit.Enabled,
		Level:         audit.Level(cfg.Audit.Level),
		Format:        audit.OutputFormat(cfg.Audit.Format),
		Output:        cfg.Audit.Output,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	if err != nil {
		return err
	}
	defer auditLog.Close()

	m := metrics.NewMetrics(nil)
	a.retryStore.OnFailure = m.StoreFailed

	publisher := events.NewPublisher(logger)

	var board *ranking.Board
	if cfg.Ranking.Enabled {
		path := cfg.Ranking.Path
		if path == "" {
			path = filepath.Join(cfg.Store.DataDir, "ranking.yaml")
		}
		board = ranking.NewBoard(path, ranking.ResetPeriod(cfg.Ranking.ResetPeriod), logger)
		if err := board.Load(); err != nil {
			logger.Warn("failed to load reviewer ranking", "error", err)
		}
		publisher.Subscribe(board)
	}
	if cfg.Notify.Enabled {
		publisher.Subscribe(notify.NewBridge(notify.NewLogNotifier(logger)))
	}

	recorder := history.NewRecorder(a.historyStore, logger, history.WithCap(cfg.History.Cap))
	if err := recorder.LoadOnStartup(ctx); err != nil {
		logger.Warn("failed to load command history", "error", err)
	}

	presence := dispatch.NewRegistry()
	engine := staging.NewEngine(staging.Deps{
		Store:      a.retryStore,
		Rules:      rules.NewEngine(cfg.RuleConfig(logger), logger),
		Dispatcher: dispatch.NewLogDispatcher(logger),
		Presence:   presence,
		History:    recorder,
		Audit:      auditLog,
		Metrics:    m,
		Events:     publisher,
		Logger:     logger,
	})
	engine.LoadOnStartup(ctx)

	matcher := intercept.NewMatcher(cfg.Intercept.CriticalCommands, cfg.Intercept.Bypass)
	gate := intercept.NewGate(matcher, engine, dispatch.NewLogDispatcher(logger), auditLog, logger)

	var runner *schedule.Runner
	if cfg.Scheduler.Enabled {
		runner, err = schedule.NewRunner(cfg.Scheduler, engine, gate, dispatch.NewLogDispatcher(logger), logger)
		if err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	}

	// Keep the circuit gauge current without touching the decision path.
	circuitDone := make(chan struct{})
	defer close(circuitDone)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SetCircuitOpen(a.retryStore.CircuitOpen())
			case <-circuitDone:
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("stagegate daemon started",
		"backend", cfg.Store.Backend,
		"auto_approve", cfg.Rules.AutoApprove.Enabled,
		"scheduler", cfg.Scheduler.Enabled)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}

	engine.Flush()
	recorder.Flush()
	return nil
}
