package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cron runs the recurring maintenance jobs: the session expiry sweep and
// the webhook recovery sweep live here.
type Cron struct {
	inner  *cron.Cron
	logger *logrus.Logger
}

// NewCron creates a stopped cron scheduler.
func NewCron(logger *logrus.Logger) *Cron {
	if logger == nil {
		logger = logrus.New()
	}
	return &Cron{inner: cron.New(), logger: logger}
}

// Add registers a job under a standard five-field cron spec.
func (c *Cron) Add(spec, name string, job func(ctx context.Context) error) error {
	_, err := c.inner.AddFunc(spec, func() {
		if err := job(context.Background()); err != nil {
			c.logger.WithField("job", name).WithError(err).Warn("cron job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	return nil
}

// Start begins running jobs on their schedules.
func (c *Cron) Start() {
	c.inner.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (c *Cron) Stop() {
	<-c.inner.Stop().Done()
}
