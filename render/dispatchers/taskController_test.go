package dispatchers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	name    string
	max     time.Duration
	perform func(ctx context.Context) error
}

func (t *fakeTask) MaxRuntime() time.Duration {
	return t.max
}

func (t *fakeTask) Perform(ctx context.Context) error {
	if t.perform == nil {
		return nil
	}
	return t.perform(ctx)
}

func (t *fakeTask) String() string {
	return t.name
}

type fakeManager struct {
	name   string
	lock   sync.Mutex
	auto   bool
	on     bool
	tasks  []Task
	params []any
}

func (m *fakeManager) Name() string { return m.name }

func (m *fakeManager) Enable(params any) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.params = append(m.params, params)
	m.on = m.auto || params != nil
	return m.on
}

func (m *fakeManager) IsEnabled() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.on
}

func (m *fakeManager) GetTask() Task {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.tasks) == 0 {
		return nil
	}
	return m.tasks[0]
}

func (m *fakeManager) TaskAccepted(t Task, accepted bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if accepted && len(m.tasks) > 0 && m.tasks[0] == t {
		m.tasks = m.tasks[1:]
	}
}

func (m *fakeManager) Disable() {
	m.lock.Lock()
	m.on = false
	m.lock.Unlock()
}

func (m *fakeManager) add(tasks ...Task) {
	m.lock.Lock()
	m.tasks = append(m.tasks, tasks...)
	m.lock.Unlock()
}

type journal struct {
	lock sync.Mutex
	ran  []string
}

func (j *journal) task(name string) *fakeTask {
	return &fakeTask{name: name, perform: func(ctx context.Context) error {
		j.lock.Lock()
		j.ran = append(j.ran, name)
		j.lock.Unlock()
		return nil
	}}
}

func (j *journal) get() []string {
	j.lock.Lock()
	defer j.lock.Unlock()
	return append([]string(nil), j.ran...)
}

func newTestController(t *testing.T, threshold time.Duration, managers ...TaskManager) *TaskController {
	c := NewTaskController(context.Background(), nil, threshold, managers...)
	t.Cleanup(c.Close)
	return c
}

// drain calls PerformTasks like a frame loop until nothing runs
func drain(t *testing.T, c *TaskController, done func() bool) {
	require.Eventually(t, func() bool {
		c.PerformTasks()
		return done() && !c.HasRunningTask()
	}, 2*time.Second, 2*time.Millisecond)
}

func TestControllerManagerPriority(t *testing.T) {
	j := &journal{}
	first := &fakeManager{name: "first", auto: true}
	second := &fakeManager{name: "second", auto: true}
	first.add(j.task("a"), j.task("b"))
	second.add(j.task("c"))
	c := newTestController(t, 0, first, second)
	c.EnableTasks()
	require.True(t, c.IsMapping())

	drain(t, c, func() bool { return len(j.get()) == 3 })
	assert.Equal(t, []string{"a", "b", "c"}, j.get())
	stats := c.GetStats()
	assert.Equal(t, 3, stats["tasks ok"])
	assert.Equal(t, 0, stats["tasks abandoned"])
	assert.ElementsMatch(t, []string{"first", "second"}, stats["enabled managers"])
}

func TestControllerNotMapping(t *testing.T) {
	j := &journal{}
	m := &fakeManager{name: "m", auto: true}
	m.add(j.task("a"))
	c := newTestController(t, 0, m)
	c.PerformTasks()
	assert.False(t, c.HasRunningTask())
	assert.False(t, c.IsMapping())

	c.EnableTasks()
	m.Disable()
	c.PerformTasks()
	assert.False(t, c.HasRunningTask())
	assert.Empty(t, j.get())
}

func TestControllerOneTaskAtATime(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocking := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	m := &fakeManager{name: "m", auto: true}
	m.add(&fakeTask{name: "one", perform: blocking}, &fakeTask{name: "two", perform: blocking})
	c := newTestController(t, time.Minute, m)
	c.EnableTasks()
	c.PerformTasks()
	<-started
	for i := 0; i < 5; i++ {
		c.PerformTasks()
	}
	assert.Len(t, started, 0)
	assert.True(t, c.HasRunningTask())
	assert.Equal(t, "m", c.GetStats()["running task"])
	close(release)
	drain(t, c, func() bool { return len(started) == 1 })
}

func TestControllerOutcomes(t *testing.T) {
	m := &fakeManager{name: "m", auto: true}
	m.add(
		&fakeTask{name: "cancelled", perform: func(ctx context.Context) error { return ErrCancelled }},
		&fakeTask{name: "failed", perform: func(ctx context.Context) error { return errors.New("boom") }},
		&fakeTask{name: "panicked", perform: func(ctx context.Context) error { panic("oops") }},
		&fakeTask{name: "overrun", max: time.Millisecond, perform: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		}},
	)
	c := newTestController(t, time.Minute, m)
	c.EnableTasks()
	drain(t, c, func() bool { return m.GetTask() == nil })
	stats := c.GetStats()
	assert.Equal(t, 1, stats["tasks cancelled"])
	assert.Equal(t, 2, stats["tasks error"])
	assert.Equal(t, 1, stats["tasks overrun"])
	assert.Nil(t, stats["tasks ok"])
}

func TestControllerAbandonsStuckTask(t *testing.T) {
	stopped := make(chan struct{})
	m := &fakeManager{name: "m", auto: true}
	m.add(&fakeTask{name: "stuck", perform: func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}})
	c := newTestController(t, 20*time.Millisecond, m)
	c.EnableTasks()
	c.PerformTasks()
	require.True(t, c.HasRunningTask())

	time.Sleep(60 * time.Millisecond)
	c.PerformTasks()
	assert.False(t, c.HasRunningTask())
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("abandoned task was not cancelled")
	}
	assert.Equal(t, 1, c.GetStats()["tasks abandoned"])
}

func TestControllerProgressKeepsTaskAlive(t *testing.T) {
	m := &fakeManager{name: "m", auto: true}
	m.add(&fakeTask{name: "busy", perform: func(ctx context.Context) error {
		for i := 0; i < 20; i++ {
			reportProgress(ctx)
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	}})
	c := newTestController(t, 40*time.Millisecond, m)
	c.EnableTasks()
	drain(t, c, func() bool { return m.GetTask() == nil })
	stats := c.GetStats()
	assert.Equal(t, 0, stats["tasks abandoned"])
	assert.Equal(t, 1, stats["tasks ok"])
}

func TestControllerStopMapping(t *testing.T) {
	stopped := make(chan error, 1)
	m := &fakeManager{name: "m", auto: true}
	m.add(&fakeTask{name: "long", perform: func(ctx context.Context) error {
		<-ctx.Done()
		stopped <- ctx.Err()
		return ErrCancelled
	}})
	c := newTestController(t, time.Minute, m)
	c.EnableTasks()
	c.PerformTasks()
	c.StopMapping()
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
	assert.False(t, c.IsMapping())
	assert.False(t, m.IsEnabled())
	drain(t, c, func() bool { return true })
	assert.Equal(t, 1, c.GetStats()["tasks cancelled"])
}

func TestToggleTask(t *testing.T) {
	m := &fakeManager{name: "regions"}
	c := newTestController(t, 0, m)
	c.EnableTasks()
	assert.False(t, c.IsTaskManagerEnabled("regions"))

	assert.True(t, c.ToggleTask("regions", true, "params"))
	assert.True(t, c.IsTaskManagerEnabled("regions"))
	assert.Equal(t, []any{nil, "params"}, m.params)

	assert.True(t, c.ToggleTask("regions", true, "again"))
	assert.Len(t, m.params, 2)

	assert.False(t, c.ToggleTask("regions", false, nil))
	assert.False(t, c.IsTaskManagerEnabled("regions"))
	assert.False(t, c.ToggleTask("missing", true, nil))
	assert.False(t, c.IsTaskManagerEnabled("missing"))
}

func TestTaskBatchContinuesAfterFailure(t *testing.T) {
	j := &journal{}
	b := NewTaskBatch(nil,
		&fakeTask{name: "bad", max: time.Second, perform: func(ctx context.Context) error { return errors.New("bad") }},
		j.task("good"),
	)
	assert.Equal(t, time.Second, b.MaxRuntime())
	assert.NoError(t, b.Perform(context.Background()))
	assert.Equal(t, []string{"good"}, j.get())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Perform(ctx), ErrCancelled)
}
