// reminders runs the reminder cron jobs. Use -once <job> to run a single job and exit.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"gymledger/internal/clients"
	"gymledger/internal/config"
	"gymledger/internal/db"
	"gymledger/internal/membership"
	"gymledger/internal/metrics"
	"gymledger/internal/notify"
	"gymledger/internal/reminders"
	"gymledger/internal/server"
	"gymledger/internal/telemetry"
	"gymledger/pkg/eventstore"
	"gymledger/pkg/logging"
)

func main() {
	once := flag.String("once", "", "Run one job (welcome, payment_due, expiring) and exit")
	metricsAddr := flag.String("metrics-addr", ":9091", "Address for /health and /metrics; empty disables")
	flag.Parse()

	if err := run(*once, *metricsAddr); err != nil {
		slog.Error("reminder worker failed", "err", err)
		os.Exit(1)
	}
}

func run(once, metricsAddr string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName+"-reminders")
	if err != nil {
		return err
	}
	tp.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	source, closeSource, err := candidateSource(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeSource()

	marker, cursors, closeMarker, err := markerStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMarker()

	var notifier membership.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.SMTPHost != "" {
		notifier = notify.NewMailer(cfg.SMTP(), cfg.Gym(), cfg.NotifyPerMin, logger)
	}

	dispatcher := reminders.NewDispatcher(notifier, marker, cfg.ReminderMarkerTTL, logger, m)
	scheduler, err := reminders.NewScheduler(reminders.NewTrigger(source, cfg.ReminderBatchSize), dispatcher, cursors, cfg.Schedule(), logger)
	if err != nil {
		return err
	}

	if once != "" {
		runCtx, cancel := context.WithTimeout(ctx, cfg.ReminderRunTimeout)
		defer cancel()
		report, err := scheduler.RunNow(runCtx, reminders.Job(once))
		if err != nil {
			return err
		}
		logger.Info("reminder job finished", "job", once, "sent", report.Sent, "skipped", report.Skipped, "failed", report.Failed)
		return nil
	}

	var srv *server.Server
	if metricsAddr != "" {
		srv = server.New(metricsAddr, server.NewRouter(logger, reg), logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	scheduler.Start()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop timed out", "err", err)
	}
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	logger.Info("graceful shutdown complete")
	return nil
}

// candidateSource reads from the membership service when MEMBERSHIP_SERVICE_URL
// is set and from the configured store otherwise.
func candidateSource(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (reminders.CandidateSource, func(), error) {
	if cfg.MembershipServiceURL != "" {
		logger.Info("reading candidates from membership service", "url", cfg.MembershipServiceURL)
		return clients.NewMembershipClient(cfg.MembershipServiceURL, cfg.ClientTimeout), func() {}, nil
	}

	opts := membership.Options{
		Plans:      cfg.Plans,
		Precedence: cfg.Precedence,
		Logger:     logger,
		Metrics:    m,
	}
	if cfg.StoreDriver == "memory" {
		logger.Warn("in-memory store is private to this process; no candidates will be found")
		return membership.NewRecordStore(membership.NewMemoryRepository(), opts), func() {}, nil
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	repo := membership.NewPostgresRepository(conn, eventstore.NewEventStore(conn))
	return membership.NewRecordStore(repo, opts), func() { _ = conn.Close() }, nil
}

func markerStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (reminders.Marker, reminders.CursorStore, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set; reminder markers are kept in memory")
		mm := reminders.NewMemoryMarker()
		return mm, mm, func() {}, nil
	}
	client, err := reminders.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	rm := reminders.NewRedisMarker(client, "")
	return rm, rm, func() { _ = client.Close() }, nil
}
