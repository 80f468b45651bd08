package webhooks

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepConfig shapes the recovery sweep.
type SweepConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// StaleAfter is how long an in_flight claim may live before the
	// worker holding it is presumed dead.
	StaleAfter time.Duration
	// BatchSize bounds how many due events one sweep claims.
	BatchSize int
}

// DefaultSweepConfig returns sensible settings.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:   30 * time.Second,
		StaleAfter: 5 * time.Minute,
		BatchSize:  50,
	}
}

// Sweeper re-drives events whose next attempt is overdue. It is the
// safety net under the scheduler: delivery still happens, just later,
// when the scheduler was down at enqueue time or a worker died holding a
// claim.
type Sweeper struct {
	monitor *Monitor
	config  SweepConfig
	logger  *logrus.Logger
	stopCh  chan struct{}
}

// NewSweeper builds a sweeper over the monitor.
func NewSweeper(monitor *Monitor, config SweepConfig, logger *logrus.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepConfig().Interval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultSweepConfig().StaleAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweepConfig().BatchSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Sweeper{monitor: monitor, config: config, logger: logger, stopCh: make(chan struct{})}
}

// Start runs the sweep loop until the context ends or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	go func() {
		defer ticker.Stop()
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("panic", r).Errorf("sweeper panicked\n%s", debug.Stack())
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop ends the loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

// Sweep runs one pass: reclaim stale claims, then attempt everything due.
func (s *Sweeper) Sweep(ctx context.Context) {
	reclaimed, err := s.monitor.store.ReclaimStale(ctx, s.config.StaleAfter)
	if err != nil {
		s.logger.WithError(err).Error("reclaiming stale events")
	} else if reclaimed > 0 {
		s.logger.WithField("count", reclaimed).Info("reclaimed stale in-flight events")
	}

	due, err := s.monitor.store.ClaimDue(ctx, s.config.BatchSize, s.monitor.now())
	if err != nil {
		s.logger.WithError(err).Error("claiming due events")
		return
	}
	for _, ev := range due {
		if ctx.Err() != nil {
			// release what we claimed but will not attempt
			if relErr := s.monitor.store.Release(context.WithoutCancel(ctx), ev.ID); relErr != nil {
				s.logger.WithError(relErr).WithField("event_id", ev.ID).Error("releasing unattempted claim")
			}
			continue
		}
		s.monitor.Attempt(ctx, ev)
	}
}
