/*
scheduler.go - Automated monthly rollover scheduler

PURPOSE:
  Periodically runs the contract rollover: opens the current month's period
  for every active contract and closes last month's period if it is still
  active. Each contract's outcome is recorded as a rollover run.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, then on every tick
  - Re-running within the same month is a no-op, so the interval only
    bounds how late after midnight of the 1st the rollover happens

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRolloverScheduler(roller, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

Manual sweeps from the admin endpoint go through RunNow too, so LastRun
always reflects the latest sweep whoever triggered it.

SEE ALSO:
  - handlers.go: TriggerRollover and RolloverStatus endpoints
  - contracts/rollover.go: Roller
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/servicedesk/contracts"
)

// RolloverScheduler handles the automated monthly rollover.
type RolloverScheduler struct {
	Roller        *contracts.Roller
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *contracts.RolloverSummary
	nextRun time.Time
}

// NewRolloverScheduler creates a new scheduler.
func NewRolloverScheduler(roller *contracts.Roller, log zerolog.Logger) *RolloverScheduler {
	return &RolloverScheduler{
		Roller:        roller,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the scheduler.
func (rs *RolloverScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info().Msg("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.nextRun = time.Now()
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Log.Info().Dur("interval", rs.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.cancel()
	rs.ticker = nil
	rs.nextRun = time.Time{}
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.Log.Info().Msg("stopped")
}

func (rs *RolloverScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(ctx)

	rs.mu.Lock()
	ticker, stop := rs.ticker, rs.stop
	rs.mu.Unlock()
	if ticker == nil {
		return
	}
	rs.scheduleNext()

	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
			rs.scheduleNext()
		case <-stop:
			return
		}
	}
}

func (rs *RolloverScheduler) scheduleNext() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.ticker != nil {
		rs.nextRun = time.Now().Add(rs.CheckInterval)
	}
}

// RunNow performs one sweep and returns its summary.
func (rs *RolloverScheduler) RunNow(ctx context.Context) (*contracts.RolloverSummary, error) {
	summary, err := rs.Roller.Run(ctx)
	if summary == nil {
		rs.Log.Error().Err(err).Msg("rollover sweep failed")
		return nil, err
	}

	rs.mu.Lock()
	rs.lastRun = summary
	rs.mu.Unlock()

	ev := rs.Log.Info()
	if err != nil {
		ev = rs.Log.Warn().Err(err)
	}
	ev.Str("month", summary.Month.Format("2006-01")).
		Int("contracts", summary.Contracts).
		Int("opened", summary.Opened).
		Int("closed", summary.Closed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("rollover sweep completed")
	return summary, err
}

// LastRun returns the summary of the most recent sweep, if any.
func (rs *RolloverScheduler) LastRun() *contracts.RolloverSummary {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}

// NextRunTime returns when the next scheduled check will occur. It is zero
// while the scheduler is not running.
func (rs *RolloverScheduler) NextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.nextRun
}
