package reminders

import (
	"context"
	"log/slog"
	"time"

	"gymledger/internal/membership"
	"gymledger/internal/metrics"
)

// Report summarizes one dispatch run.
type Report struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (r *Report) add(o Report) {
	r.Sent += o.Sent
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Dispatcher hands candidates to a notifier at most once per key. A failed send
// releases its key so a later run may try again; nothing is retried here.
type Dispatcher struct {
	notifier membership.Notifier
	marker   Marker
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(notifier membership.Notifier, marker Marker, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifier: notifier,
		marker:   marker,
		ttl:      ttl,
		logger:   logger,
		metrics:  m,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, candidates []Candidate) Report {
	var report Report
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			d.logger.WarnContext(ctx, "dispatch interrupted", "remaining", len(candidates)-report.Sent-report.Skipped-report.Failed, "error", err)
			break
		}

		fresh, err := d.marker.Mark(ctx, c.Key, d.ttl)
		if err != nil {
			d.logger.ErrorContext(ctx, "reminder marker unavailable", "key", c.Key, "error", err)
			d.metrics.Reminder(string(c.Reason), "failed")
			report.Failed++
			continue
		}
		if !fresh {
			d.metrics.Reminder(string(c.Reason), "skipped")
			report.Skipped++
			continue
		}

		if err := d.notifier.Notify(ctx, c.Member, c.Reason); err != nil {
			d.logger.WarnContext(ctx, "reminder failed",
				"member_id", c.Member.ID,
				"reason", c.Reason,
				"error", err,
			)
			if rerr := d.marker.Release(ctx, c.Key); rerr != nil {
				d.logger.ErrorContext(ctx, "release reminder marker", "key", c.Key, "error", rerr)
			}
			d.metrics.Reminder(string(c.Reason), "failed")
			report.Failed++
			continue
		}
		d.metrics.Reminder(string(c.Reason), "sent")
		report.Sent++
	}
	return report
}
