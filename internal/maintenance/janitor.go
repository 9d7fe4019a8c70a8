// Package maintenance runs periodic housekeeping jobs.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultTempMaxAge is how old a temporary artifact must be before it is removed.
const DefaultTempMaxAge = time.Hour

// DefaultJanitorSchedule runs the sweep at minute 17 of every hour.
const DefaultJanitorSchedule = "17 * * * *"

// TempSweeper removes abandoned temporary files.
type TempSweeper interface {
	SweepTemp(ctx context.Context, maxAge time.Duration) (int64, error)
}

// CacheJanitor periodically removes temporary files left in the PDF cache by
// interrupted writes.
type CacheJanitor struct {
	sweeper  TempSweeper
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

// NewCacheJanitor creates a new cache janitor.
func NewCacheJanitor(sweeper TempSweeper, maxAge time.Duration, logger zerolog.Logger) *CacheJanitor {
	if maxAge <= 0 {
		maxAge = DefaultTempMaxAge
	}
	return &CacheJanitor{
		sweeper:  sweeper,
		maxAge:   maxAge,
		schedule: DefaultJanitorSchedule,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		logger:   logger.With().Str("component", "cache_janitor").Logger(),
	}
}

// Start begins the hourly sweep schedule.
func (j *CacheJanitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return errors.New("cache janitor already running")
	}

	if _, err := j.cron.AddFunc(j.schedule, j.runSweep); err != nil {
		return err
	}

	j.cron.Start()
	j.running = true

	j.logger.Info().
		Dur("max_age", j.maxAge).
		Str("schedule", j.schedule).
		Msg("cache janitor started")

	return nil
}

// Stop stops the janitor. The returned context is done once a running sweep
// has finished.
func (j *CacheJanitor) Stop() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	j.running = false
	j.logger.Info().Msg("stopping cache janitor")
	return j.cron.Stop()
}

func (j *CacheJanitor) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := j.sweeper.SweepTemp(ctx, j.maxAge)
	if err != nil {
		j.logger.Error().Err(err).Int64("removed", removed).Msg("cache sweep failed")
		return
	}

	if removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("removed stale temporary files")
	} else {
		j.logger.Debug().Msg("cache sweep found nothing to remove")
	}
}

// RunNow triggers an immediate sweep.
func (j *CacheJanitor) RunNow() {
	j.runSweep()
}
