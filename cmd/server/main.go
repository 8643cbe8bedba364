// The server binary hosts the task mutation API and the outbox sweeper.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rezkam/taskstream/internal/application/outbox"
	"github.com/rezkam/taskstream/internal/application/task"
	"github.com/rezkam/taskstream/internal/auth"
	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/config"
	apihttp "github.com/rezkam/taskstream/internal/infrastructure/http"
	"github.com/rezkam/taskstream/internal/infrastructure/http/handler"
	"github.com/rezkam/taskstream/internal/infrastructure/observability"
	"github.com/rezkam/taskstream/internal/infrastructure/persistence/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownOtel, err := observability.Setup(ctx, observability.Config{
		Enabled:     cfg.Observability.Enabled,
		ServiceName: "taskstream-server",
	})
	if err != nil {
		return fmt.Errorf("failed to init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown observability", "error", err)
		}
	}()

	slog.InfoContext(ctx, "starting taskstream server", "env", cfg.Env)

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()
	slog.InfoContext(ctx, "storage initialized", "dsn", maskPassword(cfg.Storage.DSN))

	eventBus, err := newBus(cfg.Bus)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	svc := task.NewService(store.Tasks(), eventBus, task.Config{})

	// The sweeper republishes outbox rows whose direct publish failed.
	var sweeperOpts []outbox.SweeperOption
	if cfg.Bus.OutboxSweepInterval > 0 {
		sweeperOpts = append(sweeperOpts, outbox.WithInterval(cfg.Bus.OutboxSweepInterval))
	}
	if cfg.Bus.OutboxBatchSize > 0 {
		sweeperOpts = append(sweeperOpts, outbox.WithBatchSize(cfg.Bus.OutboxBatchSize))
	}
	sweeper := outbox.NewSweeper(store, eventBus, sweeperOpts...)
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "outbox sweeper stopped", "error", err)
		}
	}()

	verifier := auth.NewTokenVerifier([]byte(cfg.Auth.JWTSecret))
	server := apihttp.NewAPIServer(handler.NewRouter(svc, store), verifier, apihttp.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	errResult := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "HTTP server shutdown timed out", "error", err)
		}
		return nil
	case err := <-errResult:
		return err
	}
}

// newBus picks Kafka when brokers are configured, otherwise the in-process
// bus. The in-process bus only makes sense for single-binary development.
func newBus(cfg config.BusConfig) (bus.Bus, error) {
	if len(cfg.Brokers) == 0 {
		slog.Warn("no Kafka brokers configured, using in-process bus")
		return bus.NewMemoryBus(), nil
	}
	kb, err := bus.NewKafkaBus(bus.KafkaConfig{Brokers: cfg.Brokers})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka bus: %w", err)
	}
	return kb, nil
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		// If parsing fails, fall back to full redaction to be safe
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
