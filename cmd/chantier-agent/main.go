// chantier-agent is the mutation broker server: it fronts the project
// database with a preview → confirm protocol so the conversational
// agent can propose changes without ever committing one itself.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chantierhq/chantier/pkg/actionstore"
	"github.com/chantierhq/chantier/pkg/api"
	"github.com/chantierhq/chantier/pkg/audit"
	"github.com/chantierhq/chantier/pkg/broker"
	"github.com/chantierhq/chantier/pkg/config"
	"github.com/chantierhq/chantier/pkg/dualwrite"
	"github.com/chantierhq/chantier/pkg/mirror"
	"github.com/chantierhq/chantier/pkg/mutation"
	"github.com/chantierhq/chantier/pkg/observability"
	"github.com/chantierhq/chantier/pkg/principal"
	"github.com/chantierhq/chantier/pkg/query"
	"github.com/chantierhq/chantier/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "chantier-agent",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLP.Endpoint,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLP.Endpoint != "",
		Insecure:       cfg.OTLP.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	primary, err := store.NewPostgresStore(db)
	if err != nil {
		return err
	}

	// The legacy SQLite mirror is optional; without it the coordinator
	// runs primary-only.
	var legacy mirror.Mirror
	if cfg.MirrorPath != "" {
		m, err := mirror.Open(cfg.MirrorPath)
		if err != nil {
			logger.Warn("legacy mirror unavailable, continuing without it",
				"path", cfg.MirrorPath, "error", err)
		} else {
			legacy = m
			defer m.Close()
		}
	}
	coordinator := dualwrite.New(primary, legacy, logger)

	actions, cleanup, err := newActionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Every store access runs under the capabilities of the request's
	// principal, so even a broker bug cannot turn an agent request into
	// a direct write.
	guarded := store.Restrict(coordinator)
	routines := mutation.New(guarded)
	auditLog := audit.NewLogger()
	brk := broker.New(routines, actions, auditLog,
		broker.WithTTL(cfg.ActionTTL),
		broker.WithLogger(logger),
	)
	queries := query.New(guarded)

	if cfg.TokenKey == "" {
		return errors.New("TOKEN_KEY is required")
	}
	issuer := principal.NewTokenIssuer([]byte(cfg.TokenKey), 12*time.Hour)

	apiServer := api.NewServer(brk, queries, issuer, api.WithObservability(obs))
	defer apiServer.Close()
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func loadConfig() *config.Config {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			slog.Error("config file unusable, falling back to environment", "error", err)
			return config.Load()
		}
		return cfg
	}
	return config.Load()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// newActionStore picks Redis when configured, otherwise the in-memory
// store with a background sweeper.
func newActionStore(ctx context.Context, cfg *config.Config) (actionstore.Store, func(), error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		return actionstore.NewRedisStore(client), func() { _ = client.Close() }, nil
	}
	mem := actionstore.NewMemoryStore()
	mem.StartSweeper(time.Minute)
	return mem, mem.Close, nil
}
