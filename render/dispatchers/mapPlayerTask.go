package dispatchers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

// NightStartTicks is the time of day night layer is rendered from
const NightStartTicks = 13800

// MapPlayerTask renders area around the viewer
type MapPlayerTask struct {
	baseMapTask
	spec       *RenderSpec
	maxRuntime time.Duration
	scheduled  int
	elapsed    time.Duration
}

func (t *MapPlayerTask) MaxRuntime() time.Duration {
	return t.maxRuntime
}

func (t *MapPlayerTask) Perform(ctx context.Context) error {
	start := time.Now()
	t.coords = t.spec.GetRenderAreaCoords()
	t.scheduled = len(t.coords)
	t.complete = func(int, bool, bool) {
		t.elapsed = time.Since(start)
	}
	return t.perform(ctx)
}

func (t *MapPlayerTask) String() string {
	return "MapPlayerTask" + t.baseMapTask.String()
}

// viewerUnderground reports if the viewer is under blocks, worlds with no
// sky are always underground
func viewerUnderground(world render.World) (underground, hasNoSky bool, err error) {
	x, y, z := world.ViewerBlockPos()
	chunk, err := world.Chunk(primitives.ChunkOfBlock(x, z))
	if err != nil {
		return false, false, err
	}
	if chunk.HasNoSky() {
		return true, true, nil
	}
	return !chunk.CanSeeSky(x&15, y, z&15), false, nil
}

// viewerMapType picks the layer being mapped at viewer position
func viewerMapType(world render.World, underground bool) primitives.MapType {
	_, y, _ := world.ViewerBlockPos()
	if underground {
		return primitives.Underground(y>>4, world.Dimension())
	}
	if world.WorldTime()%24000 < NightStartTicks {
		return primitives.Day(world.Dimension())
	}
	return primitives.Night(world.Dimension())
}

// ViewerMapType is the layer shown at viewer position, it fails when the
// viewer chunk is not loaded
func ViewerMapType(world render.World) (primitives.MapType, error) {
	underground, _, err := viewerUnderground(world)
	if err != nil {
		return primitives.MapType{}, err
	}
	return viewerMapType(world, underground), nil
}

// MapPlayerTaskBatch is layers rendered around the viewer in one pass
type MapPlayerTaskBatch struct {
	*TaskBatch
	manager *MapPlayerManager
	players []*MapPlayerTask
}

func (b *MapPlayerTaskBatch) Perform(ctx context.Context) error {
	start := time.Now()
	err := b.TaskBatch.Perform(ctx)
	elapsed := time.Since(start)
	if limit := b.MaxRuntime(); elapsed > limit {
		b.logger.Warn("Viewer area render ran too long, stats discarded", "elapsed", elapsed, "max", limit)
		b.manager.lastCompleted.Store(b.manager.now().UnixNano())
		return err
	}
	chunks := 0
	for _, t := range b.players {
		chunks += t.scheduled
		t.spec.SetLastTaskInfo(t.scheduled, t.elapsed)
	}
	b.manager.finished(elapsed, chunks)
	return err
}

func (b *MapPlayerTaskBatch) String() string {
	return fmt.Sprintf("MapPlayerTaskBatch%v", b.players)
}

// MapPlayerManager hands out viewer area batches no more often than the
// configured render delay
type MapPlayerManager struct {
	env           *MapEnv
	enabled       atomic.Bool
	lastCompleted atomic.Int64
	now           func() time.Time

	statsLock    sync.Mutex
	lastTaskTime time.Duration
	lastTaskAvg  float64
}

func NewMapPlayerManager(env *MapEnv) *MapPlayerManager {
	return &MapPlayerManager{
		env: env,
		now: time.Now,
	}
}

func (m *MapPlayerManager) Name() string {
	return "MapPlayerTask"
}

func (m *MapPlayerManager) Enable(params any) bool {
	m.enabled.Store(true)
	return true
}

func (m *MapPlayerManager) IsEnabled() bool {
	return m.enabled.Load()
}

func (m *MapPlayerManager) Disable() {
	m.enabled.Store(false)
}

func (m *MapPlayerManager) GetTask() Task {
	if !m.enabled.Load() {
		return nil
	}
	world := m.env.Controller.World()
	if world == nil {
		return nil
	}
	x, _, z := world.ViewerBlockPos()
	if !world.HasChunk(primitives.ChunkOfBlock(x, z)) {
		return nil
	}
	settings := m.env.settings()
	delay := time.Duration(settings.RenderDelay) * time.Second
	if m.now().Sub(time.Unix(0, m.lastCompleted.Load())) < delay {
		return nil
	}
	b, err := m.create(world, settings)
	if err != nil {
		m.env.logger().Debug("Can not map viewer area", "err", err)
		return nil
	}
	return b
}

func (m *MapPlayerManager) create(world render.World, settings render.Settings) (*MapPlayerTaskBatch, error) {
	underground, hasNoSky, err := viewerUnderground(world)
	if err != nil {
		return nil, err
	}
	types := []primitives.MapType{viewerMapType(world, underground)}
	if underground {
		if !hasNoSky && settings.AlwaysMapSurface {
			types = append(types, primitives.Day(world.Dimension()))
		}
	} else if settings.AlwaysMapCaves {
		types = append(types, viewerMapType(world, true))
	}
	maxRuntime := time.Duration(max(1, settings.RenderDelay)) * 3 * time.Second
	b := &MapPlayerTaskBatch{manager: m}
	tasks := make([]Task, 0, len(types))
	for _, mt := range types {
		spec := m.env.Specs.Surface(world, settings)
		if mt.IsUnderground() {
			spec = m.env.Specs.Underground(world, settings)
		}
		t := &MapPlayerTask{
			baseMapTask: baseMapTask{
				env:         m.env,
				world:       world,
				mapType:     mt,
				asyncWrites: true,
			},
			spec:       spec,
			maxRuntime: maxRuntime,
		}
		b.players = append(b.players, t)
		tasks = append(tasks, t)
	}
	b.TaskBatch = NewTaskBatch(m.env.logger(), tasks...)
	return b, nil
}

func (m *MapPlayerManager) TaskAccepted(t Task, accepted bool) {}

func (m *MapPlayerManager) finished(elapsed time.Duration, chunks int) {
	m.lastCompleted.Store(m.now().UnixNano())
	m.statsLock.Lock()
	m.lastTaskTime = elapsed
	m.lastTaskAvg = float64(elapsed.Nanoseconds()/int64(max(1, chunks))) / 1e6
	m.statsLock.Unlock()
}

// DebugStats returns render spec stats of layers mapped at viewer position
func (m *MapPlayerManager) DebugStats() []string {
	world := m.env.Controller.World()
	if world == nil {
		return nil
	}
	settings := m.env.settings()
	underground, _, err := viewerUnderground(world)
	if err != nil {
		return nil
	}
	ret := []string{}
	if !underground || settings.AlwaysMapSurface {
		ret = append(ret, m.env.Specs.Surface(world, settings).DebugStats())
	}
	if underground || settings.AlwaysMapCaves {
		ret = append(ret, m.env.Specs.Underground(world, settings).DebugStats())
	}
	return ret
}

// SimpleStats sums last pass of every layer that was mapped
func (m *MapPlayerManager) SimpleStats() string {
	primary, secondary, total := 0, 0, 0
	for _, underground := range []bool{false, true} {
		s := m.env.Specs.Last(underground)
		if s == nil {
			continue
		}
		primary += s.PrimaryRenderSize()
		secondary += s.LastSecondaryRenderSize()
		total += s.LastTaskChunks()
	}
	m.statsLock.Lock()
	defer m.statsLock.Unlock()
	return fmt.Sprintf("Rendering %d (%d+%d) chunks in %dms (avg %.1fms)",
		total, primary, secondary, m.lastTaskTime.Milliseconds(), m.lastTaskAvg)
}
