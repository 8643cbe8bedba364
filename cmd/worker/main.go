// The worker binary runs the event consumers (audit, recurring generator,
// reminder scheduling), the durable job runner that fires reminders, and the
// audit archiver.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rezkam/taskstream/internal/application/archive"
	"github.com/rezkam/taskstream/internal/application/consumer"
	"github.com/rezkam/taskstream/internal/application/scheduler"
	"github.com/rezkam/taskstream/internal/application/task"
	"github.com/rezkam/taskstream/internal/bus"
	"github.com/rezkam/taskstream/internal/config"
	"github.com/rezkam/taskstream/internal/event"
	"github.com/rezkam/taskstream/internal/infrastructure/observability"
	"github.com/rezkam/taskstream/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/taskstream/internal/notification"
	"github.com/rezkam/taskstream/internal/storage/fs"
	"github.com/rezkam/taskstream/internal/storage/gcs"
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
		ServiceName: "taskstream-worker",
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

	slog.InfoContext(ctx, "starting taskstream worker", "env", cfg.Env)

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

	// The generator creates next-instance tasks through the same mutation
	// service as user requests, so it runs the identical outbox protocol.
	svc := task.NewService(store.Tasks(), eventBus, task.Config{})

	consumers := consumer.NewRunner(eventBus,
		consumer.Subscription{
			Topic:   event.TopicTaskEvents,
			GroupID: consumer.GroupAudit,
			Handler: consumer.NewAudit(store).Handle,
		},
		consumer.Subscription{
			Topic:   event.TopicTaskEvents,
			GroupID: consumer.GroupRecurringGenerator,
			Handler: consumer.NewGenerator(store, svc).Handle,
		},
		consumer.Subscription{
			Topic:   event.TopicReminders,
			GroupID: consumer.GroupNotification,
			Handler: consumer.NewReminderScheduler(store).Handle,
		},
	)

	sink := notification.NewWebhookSink(cfg.Notification.WebhookURL)
	notifier := notification.NewNotifier(store.Notifications(), sink, eventBus)

	hostname, _ := os.Hostname()
	jobs := scheduler.NewRunner(store, scheduler.Config{
		WorkerID:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		Concurrency:  cfg.Scheduler.Concurrency,
		PollInterval: cfg.Scheduler.PollInterval,
		Lease:        cfg.Scheduler.Lease,
	})
	jobs.Register(scheduler.KindReminderFire, notifier.HandleJob)

	// Archiving deletes exported audit rows, so it only runs when an
	// archive sink is configured explicitly.
	var archiver *archive.Archiver
	if cfg.Archive.Enabled() {
		archiver, err = newArchiver(ctx, store, cfg.Archive)
		if err != nil {
			return err
		}
	} else {
		slog.InfoContext(ctx, "audit archiver disabled, no archive storage configured")
	}

	var wg sync.WaitGroup
	errResult := make(chan error, 1)

	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				select {
				case errResult <- fmt.Errorf("%s failed: %w", name, err):
				default:
				}
				cancel()
			}
		}()
	}

	start("consumers", consumers.Run)
	start("job runner", jobs.Run)
	if archiver != nil {
		start("archiver", archiver.Run)
	}

	<-ctx.Done()
	slog.InfoContext(ctx, "shutting down")
	wg.Wait()

	select {
	case err := <-errResult:
		return err
	default:
		slog.Info("worker shut down gracefully")
		return nil
	}
}

// newArchiver wires the audit archiver to the configured object store.
func newArchiver(ctx context.Context, store *postgres.Store, cfg config.ArchiveConfig) (*archive.Archiver, error) {
	var (
		objects archive.ObjectWriter
		err     error
	)
	switch cfg.StorageType {
	case "gcs":
		objects, err = gcs.NewStore(ctx, cfg.GCSBucket)
	case "fs":
		dir := cfg.FSDir
		if dir == "" {
			dir = "./taskstream-archive"
		}
		objects, err = fs.NewStore(dir)
	default:
		return nil, fmt.Errorf("unknown archive storage type: %s", cfg.StorageType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create archive store: %w", err)
	}

	var opts []archive.Option
	if cfg.Retention > 0 {
		opts = append(opts, archive.WithRetention(cfg.Retention))
	}
	if cfg.Interval > 0 {
		opts = append(opts, archive.WithInterval(cfg.Interval))
	}
	return archive.NewArchiver(store, objects, opts...), nil
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
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
