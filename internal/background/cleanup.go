package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one periodic housekeeping job. Run returns how many entries it removed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

// CleanupManager runs housekeeping tasks on their own intervals
type CleanupManager struct {
	tasks    []Task
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. Tasks with a
// non-positive interval are skipped.
func NewCleanupManager(logger *slog.Logger, tasks ...Task) *CleanupManager {
	active := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Interval <= 0 {
			logger.Warn("cleanup task disabled", slog.String("task", task.Name))
			continue
		}
		active = append(active, task)
	}

	return &CleanupManager{
		tasks:  active,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start runs every task until Stop is called or ctx is cancelled. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, task := range cm.tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			cm.loop(ctx, task)
		}(task)
	}
	wg.Wait()
	cm.logger.Info("cleanup manager stopped")
}

func (cm *CleanupManager) loop(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runTask(ctx, task)

	for {
		select {
		case <-ticker.C:
			cm.runTask(ctx, task)
		case <-cm.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) runTask(ctx context.Context, task Task) {
	taskCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := task.Run(taskCtx)
	if err != nil {
		cm.logger.Error("cleanup task failed",
			slog.String("task", task.Name),
			slog.Any("error", err),
		)
		return
	}

	if removed > 0 {
		cm.logger.Info("cleanup task completed",
			slog.String("task", task.Name),
			slog.Int64("removed", removed),
		)
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
