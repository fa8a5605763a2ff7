// Package worker keeps cached monthly statistics in step with the ledger:
// it consumes ledger events and flushes the cache when a session cutoff
// turns unmarked sessions into absences.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"hostelhub/internal/attendance"
	"hostelhub/internal/metrics"
	"hostelhub/internal/queue"
	"hostelhub/internal/session"
	"hostelhub/internal/stats"
)

// Stats is the subset of *stats.Service the worker drives.
type Stats interface {
	Invalidate(ctx context.Context, userID, day string) error
	Monthly(ctx context.Context, userID string, year int, month time.Month) (stats.Summary, error)
	Flush(ctx context.Context) (int, error)
}

// Worker handles ledger events.
type Worker struct {
	queue   queue.Queue
	stats   Stats
	warm    bool
	log     *slog.Logger
	metrics *metrics.Collectors
}

// New builds a Worker. With warm set, an invalidated month is recomputed
// straight away so the next dashboard read is a cache hit.
func New(q queue.Queue, s Stats, warm bool, log *slog.Logger, m *metrics.Collectors) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{queue: q, stats: s, warm: warm, log: log.With("component", "worker"), metrics: m}
}

// Run consumes events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	w.log.Info("worker started, waiting for events")
	for msg := range messages {
		if err := w.Handle(ctx, msg); err != nil {
			w.log.Error("event handling failed", "type", msg.Type, "error", err)
		}
	}
	w.log.Info("worker stopped")
	return nil
}

// Handle processes one queue message.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case attendance.EventMarked, attendance.EventReset:
	default:
		w.log.Warn("ignoring unknown event", "type", msg.Type)
		w.metrics.EventHandled("unknown")
		return nil
	}
	w.metrics.EventHandled(msg.Type)

	evt, err := attendance.DecodeEvent(msg)
	if err != nil {
		return err
	}
	if err := w.stats.Invalidate(ctx, evt.UserID, evt.Day); err != nil {
		return fmt.Errorf("invalidate stats for %s: %w", evt.UserID, err)
	}
	w.log.Debug("stats invalidated", "type", msg.Type, "user", evt.UserID, "date", evt.Day)
	if !w.warm {
		return nil
	}
	d, err := attendance.ParseDay(evt.Day)
	if err != nil {
		return err
	}
	if _, err := w.stats.Monthly(ctx, evt.UserID, d.Year(), d.Month()); err != nil {
		return fmt.Errorf("warm stats for %s: %w", evt.UserID, err)
	}
	return nil
}

// CutoffSpecs returns one daily cron spec per session cutoff.
func CutoffSpecs() []string {
	specs := make([]string, 0, len(session.Windows))
	for _, win := range session.Windows {
		specs = append(specs, fmt.Sprintf("%d %d * * *", win.Cutoff%100, win.Cutoff/100))
	}
	return specs
}

// Schedule registers the cutoff flush on c. c should run in the hostel
// time zone (cron.WithLocation).
func (w *Worker) Schedule(c *cron.Cron) error {
	for _, spec := range CutoffSpecs() {
		if _, err := c.AddFunc(spec, func() { w.flush(spec) }); err != nil {
			return fmt.Errorf("add cron %q: %w", spec, err)
		}
	}
	return nil
}

func (w *Worker) flush(spec string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := w.stats.Flush(ctx)
	if err != nil {
		w.log.Error("stats flush failed", "schedule", spec, "error", err)
		return
	}
	w.log.Info("stats cache flushed at session cutoff", "schedule", spec, "keys", n)
}
