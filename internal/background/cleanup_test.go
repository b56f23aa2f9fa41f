package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCleanupManager_RunsTasksUntilStopped(t *testing.T) {
	var prunes, sweeps atomic.Int32

	cm := NewCleanupManager(discardLogger(),
		Task{Name: "prune", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) (int64, error) {
			prunes.Add(1)
			return 1, nil
		}},
		Task{Name: "sweep", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) (int64, error) {
			sweeps.Add(1)
			return 0, errors.New("boom")
		}},
	)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return prunes.Load() >= 3 && sweeps.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	cm.Stop()
	cm.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestCleanupManager_StopsOnContextCancel(t *testing.T) {
	var runs atomic.Int32
	cm := NewCleanupManager(discardLogger(),
		Task{Name: "once", Interval: time.Hour, Run: func(ctx context.Context) (int64, error) {
			runs.Add(1)
			return 0, nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestCleanupManager_SkipsDisabledTasks(t *testing.T) {
	cm := NewCleanupManager(discardLogger(),
		Task{Name: "disabled", Interval: 0, Run: func(ctx context.Context) (int64, error) { return 0, nil }},
	)
	assert.Empty(t, cm.tasks)

	// No tasks: Start returns immediately
	cm.Start(context.Background())
}
