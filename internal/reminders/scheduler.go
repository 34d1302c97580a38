package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job names a scheduled reminder run.
type Job string

const (
	JobWelcome    Job = "welcome"
	JobPaymentDue Job = "payment_due"
	JobExpiring   Job = "expiring"
)

// ScheduleConfig holds cron specs in the standard five-field format. An empty
// spec disables the job.
type ScheduleConfig struct {
	PaymentSpec      string
	ExpirySpec       string
	WelcomeSpec      string
	ExpiryWindowDays int
	RunTimeout       time.Duration
	Location         *time.Location
}

// DefaultScheduleConfig sends payment reminders on Monday mornings and expiry
// reminders every morning.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		PaymentSpec:      "0 9 * * 1",
		ExpirySpec:       "0 9 * * *",
		ExpiryWindowDays: 7,
		RunTimeout:       10 * time.Minute,
		Location:         time.UTC,
	}
}

// Scheduler runs reminder jobs on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	trigger    *Trigger
	dispatcher *Dispatcher
	cursors    CursorStore
	cfg        ScheduleConfig
	logger     *slog.Logger
	now        func() time.Time

	welcomeRescan int64
	// welcomeMu serializes welcome runs so the cursor only moves forward.
	welcomeMu sync.Mutex
}

func NewScheduler(trigger *Trigger, dispatcher *Dispatcher, cursors CursorStore, cfg ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ExpiryWindowDays <= 0 {
		cfg.ExpiryWindowDays = 7
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}

	cronLogger := cronLog{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
			cron.WithLogger(cronLogger),
		),
		trigger:    trigger,
		dispatcher: dispatcher,
		cursors:    cursors,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,

		welcomeRescan: welcomeRescanWindow,
	}

	jobs := []struct {
		spec string
		job  Job
	}{
		{cfg.PaymentSpec, JobPaymentDue},
		{cfg.ExpirySpec, JobExpiring},
		{cfg.WelcomeSpec, JobWelcome},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		job := j.job
		if _, err := s.cron.AddFunc(j.spec, func() { s.runScheduled(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s job %q: %w", job, j.spec, err)
		}
		logger.Info("reminder job scheduled", "job", job, "spec", j.spec)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reminder scheduler started")
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runScheduled(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	report, err := s.RunNow(ctx, job)
	if err != nil {
		s.logger.Error("reminder job failed", "job", job, "error", err)
		return
	}
	s.logger.Info("reminder job finished",
		"job", job,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", time.Since(start),
	)
}

// RunNow executes one job immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) (Report, error) {
	asOf := s.now().UTC()
	switch job {
	case JobPaymentDue:
		candidates, err := s.trigger.PaymentDue(ctx, asOf)
		if err != nil {
			return Report{}, err
		}
		return s.dispatcher.Dispatch(ctx, candidates), nil
	case JobExpiring:
		candidates, err := s.trigger.Expiring(ctx, s.cfg.ExpiryWindowDays, asOf)
		if err != nil {
			return Report{}, err
		}
		return s.dispatcher.Dispatch(ctx, candidates), nil
	case JobWelcome:
		return s.runWelcome(ctx)
	default:
		return Report{}, fmt.Errorf("unknown reminder job %q", job)
	}
}

// welcomeRescanWindow is how far behind the stored cursor each welcome run
// starts reading. Event ids are assigned before commit, so an enrollment whose
// transaction commits late can land below an already-saved cursor. Members seen
// twice are skipped by their welcome marker.
const welcomeRescanWindow int64 = 1000

// runWelcome drains the enrollment stream from shortly before the stored
// cursor, saving the cursor whenever it moves forward.
func (s *Scheduler) runWelcome(ctx context.Context) (Report, error) {
	s.welcomeMu.Lock()
	defer s.welcomeMu.Unlock()

	saved, err := s.cursors.LoadCursor(ctx)
	if err != nil {
		return Report{}, err
	}
	cursor := max(0, saved-s.welcomeRescan)

	var total Report
	for {
		candidates, next, err := s.trigger.Welcome(ctx, cursor)
		if err != nil {
			return total, err
		}
		total.add(s.dispatcher.Dispatch(ctx, candidates))
		if next == cursor {
			return total, nil
		}
		if next > saved {
			if err := s.cursors.SaveCursor(ctx, next); err != nil {
				return total, err
			}
			saved = next
		}
		cursor = next
	}
}

// cronLog adapts slog to the cron.Logger interface.
type cronLog struct {
	logger *slog.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
