package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher is the work a trigger can run, satisfied by *Syncer.
type Refresher interface {
	RefreshBulk(ctx context.Context) error
	EntityIDs(ctx context.Context) ([]string, error)
}

// ScanRunner runs one budgeted pass, satisfied by *Scanner.
type ScanRunner interface {
	Run(ctx context.Context, entities []string) (Report, error)
}

// SchedulerConfig sizes the two-speed refresh.
type SchedulerConfig struct {
	// Interval between triggers.
	Interval time.Duration
	// Cadence is the minimum gap between full per-entity passes.
	Cadence time.Duration
}

func (c *SchedulerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.Cadence <= 0 {
		c.Cadence = 24 * time.Hour
	}
}

// TriggerReport summarizes one trigger: what ran and, when the full
// pass was skipped, how long until it is due.
type TriggerReport struct {
	BulkRefreshed bool
	BulkError     error
	FullScanDue   bool
	Scan          *Report
	NextFullIn    time.Duration
}

// Scheduler drives the two-speed refresh: every trigger repulls the
// cheap bulk snapshot, and roughly once per cadence window it runs the
// expensive per-entity pass through the scanner.
type Scheduler struct {
	cfg         SchedulerConfig
	refresher   Refresher
	scanner     ScanRunner
	checkpoints *CheckpointStore
	logger      *slog.Logger
	now         func() time.Time

	started  bool
	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}
}

// NewScheduler wires a scheduler over the syncer and scanner.
func NewScheduler(cfg SchedulerConfig, refresher Refresher, scanner ScanRunner, checkpoints *CheckpointStore, logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:         cfg,
		refresher:   refresher,
		scanner:     scanner,
		checkpoints: checkpoints,
		logger:      logger,
		now:         time.Now,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Trigger runs one scheduler pass: bulk refresh always, full pass only
// when the cadence window has elapsed since the last complete scan.
func (s *Scheduler) Trigger(ctx context.Context) TriggerReport {
	var report TriggerReport

	if err := s.refresher.RefreshBulk(ctx); err != nil {
		report.BulkError = err
		s.logger.Error("bulk refresh failed", "error", err)
	} else {
		report.BulkRefreshed = true
	}

	if last, ok := s.checkpoints.LastFullScan(ctx); ok {
		if since := s.now().Sub(last); since < s.cfg.Cadence {
			report.NextFullIn = s.cfg.Cadence - since
			s.logger.Info("full pass not due",
				"lastFullScan", last.Format(time.RFC3339),
				"nextFullIn", report.NextFullIn.String())
			return report
		}
	}
	report.FullScanDue = true

	entities, err := s.refresher.EntityIDs(ctx)
	if err != nil {
		s.logger.Error("entity list unavailable, skipping full pass", "error", err)
		return report
	}

	run, err := s.scanner.Run(ctx, entities)
	if err != nil {
		s.logger.Error("scan run failed", "state", string(run.State), "error", err)
	}
	report.Scan = &run
	return report
}

// Start runs the trigger loop until Stop or context cancellation. The
// first trigger fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.started = true
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Stop halts the loop and waits for the in-flight trigger to finish.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	s.stopOnce.Do(func() { close(s.shutdown) })
	<-s.done
}
