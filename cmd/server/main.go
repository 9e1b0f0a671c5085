package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/fhirmap/internal/config"
	"github.com/JonMunkholm/fhirmap/internal/core"
	"github.com/JonMunkholm/fhirmap/internal/export"
	"github.com/JonMunkholm/fhirmap/internal/logging"
	"github.com/JonMunkholm/fhirmap/internal/store"
	"github.com/JonMunkholm/fhirmap/internal/web"
)

func main() {
	// Overload lets .env win over the inherited environment.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"persistence", cfg.Database.Enabled(),
		"export", cfg.Export.Enabled(),
		"workers", cfg.Loader.Workers,
		"date_mode", cfg.Loader.DateMode,
		"codec", cfg.Loader.Codec,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	opts, err := core.OptionsFromConfig(cfg)
	if err != nil {
		slog.Error("invalid loader configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if cfg.Database.Enabled() {
		pool, err := connect(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		st := store.New(pool)
		if err := st.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		opts.Store = st
	}

	if cfg.Export.Enabled() {
		ex, err := export.New(export.Options{
			BaseURL:     cfg.Export.ServerURL,
			BearerToken: cfg.Export.BearerToken,
			BatchSize:   cfg.Export.BatchSize,
			RetryMax:    cfg.Export.RetryMax,
			Timeout:     cfg.Export.Timeout,
			Codec:       opts.Codec,
			Logger:      slog.Default().With("component", "export"),
		})
		if err != nil {
			slog.Error("failed to configure export", "error", err)
			os.Exit(1)
		}
		opts.Exporter = ex
		slog.Info("export enabled", "server", redactURL(cfg.Export.ServerURL))
	}

	service := core.NewService(opts)
	server := web.NewServer(service, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartHistoryPruner(jobCtx, cfg.History.Retention, cfg.History.PruneInterval)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if st := service.LimiterStatus(); st.Active > 0 {
			slog.Info("waiting for loads to complete", "active", st.Active)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func connect(ctx context.Context, dbc config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dbc.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(dbc.MaxConns)
	poolConfig.MinConns = int32(dbc.MinConns)
	poolConfig.MaxConnLifetime = dbc.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbc.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(dbc.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid)"
	}
	return u.Redacted()
}
