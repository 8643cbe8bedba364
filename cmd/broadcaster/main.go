// The broadcaster binary fans task update events out to authenticated
// WebSocket clients. Every replica subscribes under its own consumer group,
// so each sees the full update stream and serves whichever users happen to
// be attached to it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rezkam/taskstream/internal/auth"
	"github.com/rezkam/taskstream/internal/broadcast"
	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/config"
	"github.com/rezkam/taskstream/internal/event"
	"github.com/rezkam/taskstream/internal/infrastructure/observability"
)

const (
	defaultPort     = "8082"
	shutdownTimeout = 10 * time.Second
)

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
		ServiceName: "taskstream-broadcaster",
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

	if len(cfg.Bus.Brokers) == 0 {
		return errors.New("TASKSTREAM_KAFKA_BROKERS is required: the broadcaster cannot use the in-process bus")
	}
	eventBus, err := bus.NewKafkaBus(bus.KafkaConfig{Brokers: cfg.Bus.Brokers})
	if err != nil {
		return fmt.Errorf("failed to create Kafka bus: %w", err)
	}
	defer eventBus.Close()

	hub := broadcast.NewHub()
	groupID := broadcast.GroupID()
	slog.InfoContext(ctx, "starting taskstream broadcaster", "env", cfg.Env, "group_id", groupID)

	subErr := make(chan error, 1)
	go func() {
		if err := eventBus.Subscribe(ctx, event.TopicTaskUpdates, groupID, hub.HandleUpdate); err != nil && !errors.Is(err, context.Canceled) {
			subErr <- fmt.Errorf("task updates subscription failed: %w", err)
		}
	}()

	verifier := auth.NewTokenVerifier([]byte(cfg.Auth.JWTSecret))
	mux := http.NewServeMux()
	mux.Handle("/ws", broadcast.NewHandler(hub, verifier))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	port := cfg.Broadcast.Port
	if port == "" {
		port = defaultPort
	}
	server := &http.Server{
		Addr:              cfg.Broadcast.Host + ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errResult := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "broadcaster listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- fmt.Errorf("failed to serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Close client sessions first so browsers reconnect to another
		// replica, then stop accepting new upgrades.
		hub.Shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "server shutdown timed out", "error", err)
		}
		return nil
	case err := <-subErr:
		return err
	case err := <-errResult:
		return err
	}
}
