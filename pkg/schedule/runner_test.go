package schedule

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietRunner() *Runner {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRunner(logger)
}

func TestScheduleAfterRunsHandler(t *testing.T) {
	r := quietRunner()
	defer r.Stop()

	done := make(chan map[string]any, 1)
	r.Register("deliver", func(_ context.Context, args map[string]any) error {
		done <- args
		return nil
	})

	if err := r.ScheduleAfter(time.Millisecond, "deliver", map[string]any{"event_id": int64(7)}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case args := <-done:
		if args["event_id"] != int64(7) {
			t.Errorf("args = %v", args)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestScheduleAfterUnknownName(t *testing.T) {
	r := quietRunner()
	defer r.Stop()

	if err := r.ScheduleAfter(time.Millisecond, "missing", nil); err == nil {
		t.Fatal("want error for unregistered task")
	}
}

func TestStopCancelsPendingTimers(t *testing.T) {
	r := quietRunner()

	var ran atomic.Int32
	r.Register("slow", func(context.Context, map[string]any) error {
		ran.Add(1)
		return nil
	})

	if err := r.ScheduleAfter(time.Hour, "slow", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if r.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", r.Pending())
	}

	r.Stop()
	if r.Pending() != 0 {
		t.Errorf("pending after stop = %d, want 0", r.Pending())
	}
	if ran.Load() != 0 {
		t.Errorf("cancelled task still ran")
	}
	if err := r.ScheduleAfter(time.Millisecond, "slow", nil); err == nil {
		t.Error("want error scheduling on a stopped runner")
	}
}

func TestHandlerErrorDoesNotPanic(t *testing.T) {
	r := quietRunner()
	defer r.Stop()

	done := make(chan struct{}, 1)
	r.Register("flaky", func(context.Context, map[string]any) error {
		done <- struct{}{}
		return errors.New("boom")
	})

	if err := r.ScheduleAfter(0, "flaky", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	r := quietRunner()
	defer r.Stop()

	done := make(chan struct{}, 1)
	r.Register("panicky", func(context.Context, map[string]any) error {
		defer func() { done <- struct{}{} }()
		panic("boom")
	})

	if err := r.ScheduleAfter(0, "panicky", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	// give the recover path a beat to run
	time.Sleep(10 * time.Millisecond)
}
