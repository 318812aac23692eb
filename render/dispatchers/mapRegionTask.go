package dispatchers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

const mapRegionMaxRuntime = 30 * time.Second

// MapRegionTask renders every chunk of one region
type MapRegionTask struct {
	baseMapTask
	region   primitives.RegionPos
	retained []primitives.ChunkPos
	manager  *MapRegionManager
}

func newMapRegionTask(env *MapEnv, world render.World, region primitives.RegionPos, mapType primitives.MapType, exists func(primitives.RegionPos) bool) *MapRegionTask {
	coords := make([]primitives.ChunkPos, 0, primitives.RegionSize*primitives.RegionSize)
	inRegion := map[primitives.ChunkPos]struct{}{}
	for x := region.MinChunkX(); x <= region.MaxChunkX(); x++ {
		for z := region.MinChunkZ(); z <= region.MaxChunkZ(); z++ {
			c := primitives.ChunkPos{X: x, Z: z}
			coords = append(coords, c)
			inRegion[c] = struct{}{}
		}
	}
	// neighbors north and west are needed for slopes
	retained := []primitives.ChunkPos{}
	seen := map[primitives.ChunkPos]struct{}{}
	existing := map[primitives.RegionPos]bool{}
	for _, c := range coords {
		for _, o := range keepAliveOffsets {
			k := o.From(c)
			if _, ok := inRegion[k]; ok {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			nr := primitives.RegionOf(region.World, region.Dimension, k)
			e, ok := existing[nr]
			if !ok {
				e = exists(nr)
				existing[nr] = e
			}
			if e {
				retained = append(retained, k)
			}
		}
	}
	return &MapRegionTask{
		baseMapTask: baseMapTask{
			env:           env,
			world:         world,
			mapType:       mapType,
			coords:        coords,
			flushWhenDone: true,
		},
		region:   region,
		retained: retained,
	}
}

func (t *MapRegionTask) MaxRuntime() time.Duration {
	return mapRegionMaxRuntime
}

func (t *MapRegionTask) Perform(ctx context.Context) error {
	l := t.env.logger()
	missing := 0
	for _, c := range t.coords {
		reportProgress(ctx)
		if !t.world.HasChunk(c) {
			missing++
		}
	}
	present := len(t.coords) - missing
	if present == 0 {
		l.Info("Skipping empty region", "region", t.region.String())
		t.done()
		return nil
	}
	keep := make([]render.ChunkData, 0, len(t.retained))
	for _, c := range t.retained {
		reportProgress(ctx)
		if chunk, err := t.world.Chunk(c); err == nil && chunk != nil {
			keep = append(keep, chunk)
		}
	}
	t.env.Controller.Retain(keep)
	l.Info("Potential chunks to map", "region", t.region.String(), "chunks", present, "of", len(t.coords), "retained", len(keep))
	t.complete = func(mapped int, cancelled, hadError bool) {
		t.env.Controller.Release()
		t.done()
		if cancelled || hadError {
			l.Warn("Region task did not finish", "region", t.region.String(), "cancelled", cancelled, "hadError", hadError)
			return
		}
		l.Info("Actual chunks mapped", "region", t.region.String(), "chunks", mapped)
		if t.env.OnRegionMapped != nil {
			t.env.OnRegionMapped(t.region, mapped)
		}
	}
	return t.perform(ctx)
}

func (t *MapRegionTask) done() {
	if t.manager != nil {
		t.manager.finished()
	}
}

func (t *MapRegionTask) Region() primitives.RegionPos {
	return t.region
}

func (t *MapRegionTask) Retained() []primitives.ChunkPos {
	return t.retained
}

func (t *MapRegionTask) String() string {
	return fmt.Sprintf("MapRegionTask{%s %s}", t.region, t.mapType)
}

// MapRegionParams selects regions to map, explicit Regions are used when
// given, otherwise all regions within Radius of the viewer region
type MapRegionParams struct {
	Regions []primitives.RegionPos
	Radius  int
}

// MapRegionManager maps a queue of regions one task at a time
type MapRegionManager struct {
	env *MapEnv
	now func() time.Time
	// PollDelay is minimal time between enabling attempts
	PollDelay time.Duration

	lock          sync.Mutex
	enabled       bool
	mapType       primitives.MapType
	queue         []primitives.RegionPos
	found         int
	existing      map[primitives.RegionPos]bool
	lastCompleted time.Time
}

func NewMapRegionManager(env *MapEnv) *MapRegionManager {
	return &MapRegionManager{
		env:       env,
		now:       time.Now,
		PollDelay: 0,
	}
}

func (m *MapRegionManager) Name() string {
	return "MapRegionTask"
}

func (m *MapRegionManager) Enable(params any) bool {
	p, ok := params.(MapRegionParams)
	if !ok {
		if pp, isPtr := params.(*MapRegionParams); isPtr && pp != nil {
			p, ok = *pp, true
		}
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.enabled = false
	if !ok {
		return false
	}
	if m.now().Sub(m.lastCompleted) < m.PollDelay {
		return false
	}
	world := m.env.Controller.World()
	if world == nil {
		return false
	}
	underground, _, err := viewerUnderground(world)
	if err != nil {
		m.env.logger().Error("Couldn't start region mapping", "err", err)
		return false
	}
	m.mapType = viewerMapType(world, underground)
	m.queue = p.Regions
	if len(m.queue) == 0 {
		x, _, z := world.ViewerBlockPos()
		center := primitives.RegionOf(world.Name(), world.Dimension(), primitives.ChunkOfBlock(x, z))
		r := max(0, p.Radius)
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				m.queue = append(m.queue, center.Neighbor(dx, dz))
			}
		}
	}
	m.found = len(m.queue)
	m.existing = map[primitives.RegionPos]bool{}
	if known, err := m.env.Images.Regions(world.Name(), m.mapType); err == nil {
		for _, r := range known {
			m.existing[r] = true
		}
	}
	for _, r := range m.queue {
		m.existing[r] = true
	}
	m.enabled = m.found > 0
	return m.enabled
}

func (m *MapRegionManager) IsEnabled() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.enabled
}

func (m *MapRegionManager) Disable() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.disableLocked()
}

func (m *MapRegionManager) disableLocked() {
	wasRunning := m.queue != nil
	m.enabled = false
	m.queue = nil
	if !wasRunning {
		return
	}
	m.env.logger().Info("Region mapping complete", "mapType", m.mapType.String())
	if err := m.env.Images.FlushToDisk(true); err != nil {
		m.env.logger().Error("Failed to flush region images", "err", err)
	}
	if err := m.env.Images.Clear(); err != nil {
		m.env.logger().Error("Failed to clear region images", "err", err)
	}
}

func (m *MapRegionManager) GetTask() Task {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.enabled {
		return nil
	}
	if len(m.queue) == 0 {
		m.disableLocked()
		return nil
	}
	world := m.env.Controller.World()
	if world == nil {
		return nil
	}
	existing := m.existing
	t := newMapRegionTask(m.env, world, m.queue[0], m.mapType, func(r primitives.RegionPos) bool {
		return existing[r]
	})
	t.manager = m
	return t
}

func (m *MapRegionManager) TaskAccepted(t Task, accepted bool) {
	if !accepted {
		return
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.queue) == 0 {
		return
	}
	m.queue = m.queue[1:]
	done := m.found - len(m.queue)
	m.env.logger().Info("Region mapping progress", "mapType", m.mapType.String(), "percent", fmt.Sprintf("%.1f%%", float64(done)*100/float64(m.found)))
}

// Remaining is count of regions not yet handed out
func (m *MapRegionManager) Remaining() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.queue)
}

func (m *MapRegionManager) finished() {
	m.lock.Lock()
	m.lastCompleted = m.now()
	m.lock.Unlock()
}
