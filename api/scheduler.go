/*
scheduler.go - Automated incentive batch scheduler

PURPOSE:
  Periodically runs the due-profile batch so payouts happen on their
  scheduled dates without an operator. Each run is recorded in
  incentive_runs for audit and UI display.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start so a restart catches up
  - Only one batch runs at a time; ticks and manual triggers queue on runMu
  - A profile whose payout date passed while the process was down is
    picked up by the next run (due means next_payout_date <= now)

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBatchScheduler(store, processor, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunBatch endpoint (manual trigger)
  - incentive/batch.go: Processor.RunDue
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/internal/logging"
)

// BatchScheduler runs the incentive batch on a ticker.
type BatchScheduler struct {
	Processor     *incentive.Processor
	Runs          incentive.AdminStore
	Log           *logging.Logger
	Clock         incentive.Clock
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex

	tickMu   sync.Mutex
	lastTick time.Time
}

// NewBatchScheduler creates a new scheduler.
func NewBatchScheduler(runs incentive.AdminStore, processor *incentive.Processor, log *logging.Logger) *BatchScheduler {
	if log == nil {
		log = logging.NewNop()
	}
	return &BatchScheduler{
		Processor:     processor,
		Runs:          runs,
		Log:           log.Named("scheduler"),
		Clock:         incentive.SystemClock,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (bs *BatchScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		bs.Log.Info("scheduler disabled, not starting")
		return
	}
	if bs.ticker != nil {
		return
	}

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.stop = make(chan struct{})
	bs.wg.Add(1)

	go bs.run()

	bs.Log.Info("scheduler started", zap.Duration("interval", bs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run.
func (bs *BatchScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		bs.ticker = nil
		bs.Log.Info("scheduler stopped")
	}
}

func (bs *BatchScheduler) run() {
	defer bs.wg.Done()

	bs.tick()

	for {
		select {
		case <-bs.ticker.C:
			bs.tick()
		case <-bs.stop:
			return
		}
	}
}

func (bs *BatchScheduler) tick() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-bs.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	now := bs.Clock()
	bs.tickMu.Lock()
	bs.lastTick = now
	bs.tickMu.Unlock()

	if _, _, err := bs.RunOnce(ctx, now); err != nil {
		bs.Log.Error("scheduled run failed", zap.Error(err))
	}
}

// RunOnce processes every profile due at now and records the run.
// Per-profile failures are in the summary; the error is only set when the
// batch itself could not run.
func (bs *BatchScheduler) RunOnce(ctx context.Context, now time.Time) (*incentive.RunSummary, incentive.RunRecord, error) {
	bs.runMu.Lock()
	defer bs.runMu.Unlock()

	started := bs.Clock()
	summary, err := bs.Processor.RunDue(ctx, now)
	if err != nil {
		failed := incentive.RunRecord{
			ID:          uuid.NewString(),
			AsOf:        now,
			Status:      "failed",
			Errors:      []string{err.Error()},
			StartedAt:   started,
			CompletedAt: bs.Clock(),
		}
		if saveErr := bs.Runs.SaveRun(ctx, failed); saveErr != nil {
			bs.Log.Error("failed to record run", zap.Error(saveErr))
		}
		return nil, failed, fmt.Errorf("run batch: %w", err)
	}

	record := incentive.NewRunRecord(uuid.NewString(), summary)
	if err := bs.Runs.SaveRun(ctx, record); err != nil {
		return summary, record, fmt.Errorf("record run: %w", err)
	}
	return summary, record, nil
}

// NextRunTime returns when the next scheduled check will occur. Before the
// first tick it is one interval from now.
func (bs *BatchScheduler) NextRunTime() time.Time {
	bs.tickMu.Lock()
	last := bs.lastTick
	bs.tickMu.Unlock()
	if last.IsZero() {
		return bs.Clock().Add(bs.CheckInterval)
	}
	return last.Add(bs.CheckInterval)
}
