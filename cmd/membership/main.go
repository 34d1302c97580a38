// cmd/membership/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"gymledger/internal/config"
	"gymledger/internal/db"
	"gymledger/internal/db/migrate"
	"gymledger/internal/export"
	"gymledger/internal/leads"
	"gymledger/internal/membership"
	"gymledger/internal/metrics"
	"gymledger/internal/notify"
	"gymledger/internal/server"
	"gymledger/internal/telemetry"
	"gymledger/pkg/eventstore"
	"gymledger/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("membership service failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	tp.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	memberRepo, leadRepo, closeDB, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	opts := membership.Options{
		Plans:         cfg.Plans,
		Precedence:    cfg.Precedence,
		Notifier:      newNotifier(cfg, logger),
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        logger,
		Metrics:       m,
	}
	records := membership.NewRecordStore(memberRepo, opts)
	ledger := membership.NewPaymentLedger(memberRepo, opts)
	leadService := leads.NewService(leadRepo, records, leads.Options{Logger: logger, Metrics: m})

	router := server.NewRouter(logger, reg,
		membership.NewHandler(records, ledger, logger),
		leads.NewHandler(leadService, logger),
		export.NewHandler(records, logger),
	)
	srv := server.New(cfg.HTTPAddr, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "err", err)
	}
	records.Wait()
	logger.Info("graceful shutdown complete")
	return nil
}

// openRepositories returns the member and lead stores for STORE_DRIVER and a
// close func for the underlying connection.
func openRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger) (membership.Repository, leads.Repository, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return membership.NewMemoryRepository(), leads.NewMemoryRepository(), func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, nil, nil, err
		}
		logger.Info("migrations applied")
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("db connected")
	es := eventstore.NewEventStore(conn)
	closeFn := func() { closeQuietly(conn, logger) }
	return membership.NewPostgresRepository(conn, es), leads.NewPostgresRepository(conn, es), closeFn, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) membership.Notifier {
	if cfg.SMTPHost == "" {
		logger.Info("SMTP_HOST not set; welcome notifications are logged only")
		return notify.LogNotifier{Logger: logger}
	}
	return notify.NewMailer(cfg.SMTP(), cfg.Gym(), cfg.NotifyPerMin, logger)
}

func closeQuietly(conn *sql.DB, logger *slog.Logger) {
	if err := conn.Close(); err != nil {
		logger.Warn("db close failed", "err", err)
	}
}
