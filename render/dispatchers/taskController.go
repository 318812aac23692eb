package dispatchers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/maxsupermanhd/livemap/metrics"
)

// DefaultIODelayThreshold is how long a task may go without progress
// before it is considered locked
const DefaultIODelayThreshold = 10 * time.Second

type runningTask struct {
	id       uuid.UUID
	task     Task
	manager  string
	started  time.Time
	finished time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	progress atomic.Int64
	err      error
}

// TaskController runs at most one task at a time, taking it from the first
// enabled manager that has work
type TaskController struct {
	logger           *slog.Logger
	managers         []TaskManager
	ioDelayThreshold time.Duration
	now              func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	lock    sync.Mutex
	runLock sync.Mutex
	running *runningTask
	wg      sync.WaitGroup
	mapping atomic.Bool

	statsLock sync.Mutex
	completed map[string]int
	abandoned int
}

func NewTaskController(ctx context.Context, logger *slog.Logger, ioDelayThreshold time.Duration, managers ...TaskManager) *TaskController {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ioDelayThreshold <= 0 {
		ioDelayThreshold = DefaultIODelayThreshold
	}
	cctx, cancel := context.WithCancel(ctx)
	return &TaskController{
		logger:           logger,
		managers:         managers,
		ioDelayThreshold: ioDelayThreshold,
		now:              time.Now,
		ctx:              cctx,
		cancel:           cancel,
		completed:        map[string]int{},
	}
}

func (c *TaskController) IsMapping() bool {
	return c.mapping.Load() && c.ctx.Err() == nil
}

func (c *TaskController) EnableTasks() {
	c.mapping.Store(true)
	for _, m := range c.managers {
		if m.Enable(nil) {
			c.logger.Debug("Task ready", "manager", m.Name())
		} else {
			c.logger.Debug("Task not initially enabled", "manager", m.Name())
		}
	}
}

func (c *TaskController) DisableTasks() {
	for _, m := range c.managers {
		if m.IsEnabled() {
			m.Disable()
			c.logger.Debug("Task disabled", "manager", m.Name())
		}
	}
}

// StopMapping disables managers and cancels the running task
func (c *TaskController) StopMapping() {
	c.mapping.Store(false)
	c.DisableTasks()
	c.runLock.Lock()
	if c.running != nil {
		c.running.cancel()
	}
	c.runLock.Unlock()
}

func (c *TaskController) manager(name string) TaskManager {
	for _, m := range c.managers {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

func (c *TaskController) IsTaskManagerEnabled(name string) bool {
	m := c.manager(name)
	if m == nil {
		c.logger.Warn("Task manager not in controller", "manager", name)
		return false
	}
	return m.IsEnabled()
}

// ToggleTask enables or disables a manager, it reports if manager is
// enabled afterwards
func (c *TaskController) ToggleTask(name string, enable bool, params any) bool {
	m := c.manager(name)
	if m == nil {
		c.logger.Warn("Couldn't toggle task, manager not in controller", "manager", name)
		return false
	}
	switch {
	case m.IsEnabled() && !enable:
		c.logger.Debug("Disabling task", "manager", name)
		m.Disable()
	case m.IsEnabled():
		c.logger.Debug("Task already enabled", "manager", name)
	case enable:
		c.logger.Debug("Enabling task", "manager", name)
		m.Enable(params)
	default:
		c.logger.Debug("Task already disabled", "manager", name)
	}
	return m.IsEnabled()
}

func (c *TaskController) HasRunningTask() bool {
	c.runLock.Lock()
	defer c.runLock.Unlock()
	return c.running != nil
}

func (c *TaskController) setRunning(r *runningTask) {
	c.runLock.Lock()
	c.running = r
	c.runLock.Unlock()
}

// PerformTasks collects finished task and starts next one, it never
// blocks and is meant to be called every frame
func (c *TaskController) PerformTasks() {
	if !c.lock.TryLock() {
		c.logger.Warn("Task controller appears to have multiple goroutines trying to use it")
		return
	}
	defer c.lock.Unlock()

	c.runLock.Lock()
	r := c.running
	c.runLock.Unlock()
	if r != nil {
		select {
		case <-r.done:
			c.collect(r)
			c.setRunning(nil)
		default:
			idle := c.now().Sub(time.Unix(0, r.progress.Load()))
			if idle <= c.ioDelayThreshold {
				return
			}
			c.logger.Error("Task made no progress, treating as thread lock", "id", r.id, "manager", r.manager, "task", r.task, "idle", idle)
			r.cancel()
			c.setRunning(nil)
			metrics.TasksFinished.WithLabelValues(r.manager, "abandoned").Inc()
			c.statsLock.Lock()
			c.abandoned++
			c.statsLock.Unlock()
		}
	}
	if !c.IsMapping() {
		return
	}
	for _, m := range c.managers {
		if !m.IsEnabled() {
			continue
		}
		t := m.GetTask()
		if t == nil {
			continue
		}
		c.setRunning(c.launch(m.Name(), t))
		m.TaskAccepted(t, true)
		return
	}
}

func (c *TaskController) launch(manager string, t Task) *runningTask {
	ctx, cancel := context.WithCancel(c.ctx)
	r := &runningTask{
		id:      uuid.New(),
		task:    t,
		manager: manager,
		started: c.now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.progress.Store(r.started.UnixNano())
	c.logger.Debug("Scheduled task", "id", r.id, "manager", manager, "task", t)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(r.done)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				r.err = errors.New("task panicked")
				c.logger.Error("Unexpected error during task", "id", r.id, "task", t, "err", rec)
			}
			r.finished = c.now()
		}()
		r.err = t.Perform(withProgress(ctx, &r.progress))
	}()
	return r
}

func (c *TaskController) collect(r *runningTask) {
	elapsed := r.finished.Sub(r.started)
	outcome := "ok"
	switch {
	case r.err == nil:
	case errors.Is(r.err, ErrCancelled), errors.Is(r.err, context.Canceled):
		outcome = "cancelled"
		c.logger.Debug("Task cancelled", "id", r.id, "task", r.task)
	default:
		outcome = "error"
		c.logger.Error("Task failed", "id", r.id, "task", r.task, "err", r.err)
	}
	if limit := r.task.MaxRuntime(); limit > 0 && elapsed > limit {
		c.logger.Warn("Task ran too long, discarding its stats", "id", r.id, "task", r.task, "elapsed", elapsed, "max", limit)
		outcome = "overrun"
	} else {
		metrics.TaskDuration.WithLabelValues(r.manager).Observe(elapsed.Seconds())
	}
	metrics.TasksFinished.WithLabelValues(r.manager, outcome).Inc()
	c.statsLock.Lock()
	c.completed[outcome]++
	c.statsLock.Unlock()
}

// Close stops mapping and waits for the running task to exit
func (c *TaskController) Close() {
	c.mapping.Store(false)
	c.cancel()
	exited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Task did not exit in time")
	}
}

func (c *TaskController) GetStats() map[string]any {
	ret := map[string]any{
		"mapping":      c.IsMapping(),
		"running task": "",
	}
	c.runLock.Lock()
	if c.running != nil {
		ret["running task"] = c.running.manager
	}
	c.runLock.Unlock()
	c.statsLock.Lock()
	for k, v := range c.completed {
		ret["tasks "+k] = v
	}
	ret["tasks abandoned"] = c.abandoned
	c.statsLock.Unlock()
	enabled := []string{}
	for _, m := range c.managers {
		if m.IsEnabled() {
			enabled = append(enabled, m.Name())
		}
	}
	ret["enabled managers"] = enabled
	return ret
}
