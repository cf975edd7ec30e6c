package scan

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/metric"
)

// State is the terminal state of a scanner invocation.
type State string

// Scanner states.
const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ProcessFunc refreshes one entity. A returned error counts against the
// run but never aborts it.
type ProcessFunc func(ctx context.Context, entityID string) error

// Config sizes a scanner run.
type Config struct {
	// GroupSize is the number of entities per sequential group.
	GroupSize int
	// Concurrency bounds in-flight refreshes inside a group.
	Concurrency int
	// GroupDelay is slept between groups to smooth upstream load.
	GroupDelay time.Duration
	// Budget is the wall-clock allowance, checked between groups. The
	// group in flight when it expires is allowed to finish.
	Budget time.Duration
}

func (c *Config) applyDefaults() {
	if c.GroupSize <= 0 {
		c.GroupSize = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Budget <= 0 {
		c.Budget = 45 * time.Second
	}
}

// Scanner walks an ordered entity list in fixed-size groups under a
// wall-clock budget, persisting a checkpoint when it pauses so the next
// invocation picks up where this one stopped.
type Scanner struct {
	cfg         Config
	checkpoints *CheckpointStore
	process     ProcessFunc
	logger      *slog.Logger
	metrics     *scanMetrics
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// ScannerOption configures optional scanner behavior.
type ScannerOption func(*Scanner)

// WithLogger sets the scanner's logger.
func WithLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics registers run and failure metrics for this scanner.
func WithMetrics(registry *metric.Registry, scanID string) ScannerOption {
	return func(s *Scanner) {
		m, err := newScanMetrics(registry, scanID)
		if err != nil {
			s.logger.Warn("scan metrics registration failed", "error", err)
			return
		}
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep overrides the inter-group sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) ScannerOption {
	return func(s *Scanner) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewScanner builds a scanner over the given checkpoint store and
// per-entity refresh function.
func NewScanner(cfg Config, checkpoints *CheckpointStore, process ProcessFunc, options ...ScannerOption) *Scanner {
	cfg.applyDefaults()
	s := &Scanner{
		cfg:         cfg,
		checkpoints: checkpoints,
		process:     process,
		logger:      slog.Default(),
		now:         time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Report describes one scanner invocation.
type Report struct {
	State      State
	StartIndex int
	NextIndex  int
	Processed  int
	Failed     int
	Resumed    bool
	Elapsed    time.Duration
}

// Run processes the entity list, resuming from a live checkpoint when
// one exists. It returns Paused (with a persisted checkpoint) when the
// budget runs out, Completed when the list is exhausted, and an error
// only when a required checkpoint could not be persisted.
func (s *Scanner) Run(ctx context.Context, entities []string) (Report, error) {
	started := s.now()

	start := 0
	resumed := false
	if cp := s.checkpoints.Load(ctx); cp != nil && cp.NextIndex > 0 && cp.NextIndex < len(entities) {
		start = cp.NextIndex
		resumed = true
	}

	report := Report{State: StateScanning, StartIndex: start, NextIndex: start, Resumed: resumed}
	s.logger.Info("scan starting",
		"entities", len(entities), "startIndex", start, "resumed", resumed,
		"groupSize", s.cfg.GroupSize, "budget", s.cfg.Budget.String())

	for report.NextIndex < len(entities) {
		end := report.NextIndex + s.cfg.GroupSize
		if end > len(entities) {
			end = len(entities)
		}

		report.Failed += s.runGroup(ctx, entities[report.NextIndex:end])
		report.Processed += end - report.NextIndex
		report.NextIndex = end

		if report.NextIndex >= len(entities) {
			break
		}

		if elapsed := s.now().Sub(started); elapsed >= s.cfg.Budget || ctx.Err() != nil {
			report.Elapsed = elapsed
			return s.pause(ctx, report)
		}
		if s.cfg.GroupDelay > 0 {
			if err := s.sleep(ctx, s.cfg.GroupDelay); err != nil {
				report.Elapsed = s.now().Sub(started)
				return s.pause(ctx, report)
			}
		}
	}

	report.Elapsed = s.now().Sub(started)
	report.State = StateCompleted
	s.checkpoints.Clear(ctx)
	s.checkpoints.StampLastFullScan(ctx, s.now())
	s.metrics.recordRun(StateCompleted, report)
	s.logger.Info("scan completed",
		"processed", report.Processed, "failed", report.Failed,
		"elapsed", report.Elapsed.String())
	return report, nil
}

// pause persists the resume point. Losing the checkpoint is the one
// failure the scanner surfaces as an error; the next invocation then
// restarts from zero.
func (s *Scanner) pause(ctx context.Context, report Report) (Report, error) {
	cp := Checkpoint{NextIndex: report.NextIndex, Timestamp: s.now()}
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		report.State = StateFailed
		s.metrics.recordRun(StateFailed, report)
		return report, errors.Wrap(err, "Scanner", "Run", "checkpoint persist")
	}
	report.State = StatePaused
	s.metrics.recordRun(StatePaused, report)
	s.logger.Info("scan paused over budget",
		"nextIndex", report.NextIndex, "processed", report.Processed,
		"elapsed", report.Elapsed.String())
	return report, nil
}

func (s *Scanner) runGroup(ctx context.Context, group []string) int {
	var failures atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, entityID := range group {
		g.Go(func() error {
			if err := s.process(ctx, entityID); err != nil {
				failures.Add(1)
				s.metrics.recordFailure()
				s.logger.Warn("entity refresh failed", "entity", entityID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(failures.Load())
}
