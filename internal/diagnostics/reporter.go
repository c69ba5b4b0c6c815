package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Reporter logs a Collector snapshot on a cron schedule.
type Reporter struct {
	cron      *cron.Cron
	collector *Collector
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewReporter schedules collection. spec accepts cron syntax and descriptors such as "@every 1m".
func NewReporter(collector *Collector, spec string, logger *slog.Logger) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		collector: collector,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	if _, err := r.cron.AddFunc(spec, r.Report); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule diagnostics %q: %w", spec, err)
	}
	return r, nil
}

// Start begins the schedule in the background.
func (r *Reporter) Start() {
	r.cron.Start()
	r.log.Info("Diagnostics reporter started", "entries", len(r.cron.Entries()))
}

// Stop halts the schedule and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
	r.cancel()
	r.log.Info("Diagnostics reporter stopped")
}

// Report logs one snapshot immediately.
func (r *Reporter) Report() {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	snap := r.collector.Collect(ctx)
	r.log.Info("Relay diagnostics",
		"sessions", snap.Sessions,
		"pending_events", snap.PendingEvents,
		"tracked_rate_limit_users", snap.RateLimitedUsers,
		"responder_enabled", snap.ResponderEnabled,
	)
}
