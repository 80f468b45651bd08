package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler executes one named task.
type Handler func(ctx context.Context, args map[string]any) error

// Runner dispatches delayed one-shot tasks to registered handlers. It
// satisfies the Scheduler interfaces of the packages that enqueue work.
type Runner struct {
	logger *logrus.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	timers   map[int64]*time.Timer
	nextID   int64
	stopped  bool
}

// NewRunner creates an empty runner.
func NewRunner(logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		logger:   logger,
		handlers: make(map[string]Handler),
		timers:   make(map[int64]*time.Timer),
	}
}

// Register binds a task name to its handler. Scheduling an unregistered
// name fails at enqueue time, not at fire time.
func (r *Runner) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// ScheduleAfter arms a timer that runs the named task once.
func (r *Runner) ScheduleAfter(delay time.Duration, name string, args map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	h, ok := r.handlers[name]
	if !ok {
		return fmt.Errorf("no handler registered for task %q", name)
	}
	if delay < 0 {
		delay = 0
	}

	r.nextID++
	id := r.nextID
	r.timers[id] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()
		r.run(name, h, args)
	})
	return nil
}

func (r *Runner) run(name string, h Handler, args map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"task":  name,
				"panic": rec,
			}).Errorf("task panicked: %s", debug.Stack())
		}
	}()
	if err := h(context.Background(), args); err != nil {
		r.logger.WithField("task", name).WithError(err).Warn("task failed")
	}
}

// Stop cancels every pending timer. Tasks already running finish on
// their own.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// Pending reports how many timers are armed, for tests and health
// output.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
