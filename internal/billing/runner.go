package billing

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes a tick function on a fixed period until the context is
// cancelled. A panicking or failing tick is logged and the next tick runs as
// scheduled; one bad pass must never stop the schedule.
type Runner struct {
	Name  string
	Every time.Duration
	Tick  func(ctx context.Context) error
	Log   *slog.Logger
}

// Run blocks until ctx is done. The first tick fires after one full period,
// not immediately, so process start-up does not stampede the store.
func (r Runner) Run(ctx context.Context) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("task", r.Name)

	ticker := time.NewTicker(r.Every)
	defer ticker.Stop()

	log.Info("scheduler started", "period", r.Every.String())
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx, log)
		}
	}
}

func (r Runner) runOnce(ctx context.Context, log *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			tickErrors.WithLabelValues(r.Name).Inc()
			log.Error("tick panicked", "panic", p)
		}
	}()

	tickTotal.WithLabelValues(r.Name).Inc()
	if err := r.Tick(ctx); err != nil {
		tickErrors.WithLabelValues(r.Name).Inc()
		log.Error("tick failed", "err", err)
	}
}
