package dispatchers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/renderers"
)

// ErrCancelled is returned by tasks that stopped because mapping was
// turned off, world went away or their context was cancelled
var ErrCancelled = errors.New("task cancelled")

type Task interface {
	MaxRuntime() time.Duration
	Perform(ctx context.Context) error
}

// TaskManager produces tasks of one kind, managers are asked for work in
// priority order
type TaskManager interface {
	Name() string
	Enable(params any) bool
	IsEnabled() bool
	GetTask() Task
	TaskAccepted(t Task, accepted bool)
	Disable()
}

// RegionStore is the part of region image store tasks use
type RegionStore interface {
	GetImage(loc primitives.ImageLocation) (*image.RGBA, time.Time, error)
	FlushToDisk(synchronous bool) error
	Regions(world string, layer primitives.MapType) ([]primitives.RegionPos, error)
	Clear() error
}

// MapEnv is what map tasks work with
type MapEnv struct {
	Controller *renderers.Controller
	Images     RegionStore
	Settings   *render.SettingsStore
	Specs      *SpecCache
	Logger     *slog.Logger
	// OnRegionMapped is called after a region task finished mapping
	OnRegionMapped func(region primitives.RegionPos, mapped int)
}

func (e *MapEnv) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

func (e *MapEnv) settings() render.Settings {
	if e.Settings == nil {
		return render.DefaultSettings()
	}
	return e.Settings.Get()
}

type progressKey struct{}

func withProgress(ctx context.Context, p *atomic.Int64) context.Context {
	return context.WithValue(ctx, progressKey{}, p)
}

// reportProgress tells the controller the task is not stuck
func reportProgress(ctx context.Context) {
	if p, ok := ctx.Value(progressKey{}).(*atomic.Int64); ok {
		p.Store(time.Now().UnixNano())
	}
}

var keepAliveOffsets = []Offset{{0, -1}, {-1, 0}, {-1, -1}}

// baseMapTask renders a set of chunks of one map type
type baseMapTask struct {
	env           *MapEnv
	world         render.World
	mapType       primitives.MapType
	coords        []primitives.ChunkPos
	flushWhenDone bool
	asyncWrites   bool
	complete      func(mapped int, cancelled, hadError bool)
}

func (t *baseMapTask) perform(ctx context.Context) (err error) {
	l := t.env.logger()
	count := 0
	cancelled, hadError := false, false
	defer func() {
		if r := recover(); r != nil {
			l.Error("Unexpected error in map task", "task", t.String(), "err", r)
			hadError = true
			err = fmt.Errorf("map task panicked: %v", r)
		}
		if t.complete != nil {
			t.complete(count, cancelled, hadError)
		}
	}()
	if t.world == nil {
		cancelled = true
		return ErrCancelled
	}
	if t.world.Dimension() != t.mapType.Dimension {
		l.Debug("Dimension changed, map task obsolete", "task", t.String())
		cancelled = true
		return ErrCancelled
	}
	for _, c := range t.coords {
		if !t.env.Controller.IsMapping() {
			l.Debug("Not mapping, aborting", "task", t.String())
			cancelled = true
			return ErrCancelled
		}
		if ctx.Err() != nil {
			cancelled = true
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		reportProgress(ctx)
		if !t.world.HasChunk(c) {
			continue
		}
		chunk, err := t.world.Chunk(c)
		if err != nil {
			if errors.Is(err, render.ErrNoWorld) {
				cancelled = true
				return ErrCancelled
			}
			continue
		}
		region := primitives.RegionOf(t.world.Name(), t.mapType.Dimension, c)
		if t.env.Controller.RenderChunk(region, t.mapType, chunk) {
			count++
		}
	}
	if !t.env.Controller.IsMapping() || ctx.Err() != nil {
		cancelled = true
		return ErrCancelled
	}
	if t.flushWhenDone {
		if err := t.env.Images.FlushToDisk(!t.asyncWrites); err != nil {
			l.Error("Failed to flush region images", "task", t.String(), "err", err)
			hadError = true
			return err
		}
	}
	return nil
}

func (t *baseMapTask) String() string {
	name := "<nil>"
	if t.world != nil {
		name = t.world.Name()
	}
	return fmt.Sprintf("{world=%s mapType=%s chunks=%d flush=%v}", name, t.mapType, len(t.coords), t.flushWhenDone)
}

// TaskBatch performs tasks one after another, failure of one task does not
// stop the others
type TaskBatch struct {
	tasks  []Task
	logger *slog.Logger
}

func NewTaskBatch(logger *slog.Logger, tasks ...Task) *TaskBatch {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TaskBatch{tasks: tasks, logger: logger}
}

func (b *TaskBatch) MaxRuntime() time.Duration {
	ret := time.Duration(0)
	for _, t := range b.tasks {
		ret += t.MaxRuntime()
	}
	return ret
}

func (b *TaskBatch) Perform(ctx context.Context) error {
	for _, t := range b.tasks {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		err := t.Perform(ctx)
		switch {
		case err == nil, errors.Is(err, ErrCancelled):
		case errors.Is(err, render.ErrChunkMissing):
			b.logger.Warn("Chunk missing in batched task", "task", t, "err", err)
		default:
			b.logger.Error("Unexpected error during task batch", "task", t, "err", err)
		}
	}
	return nil
}

func (b *TaskBatch) Tasks() []Task {
	return b.tasks
}
