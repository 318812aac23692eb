package dispatchers

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

// CircleTolerance is how many blocks past the radius a chunk center may be
// and still be inside a circular render area, it makes circles fuller
var CircleTolerance = 8.0

// Offset is chunk offset from the viewer chunk
type Offset struct {
	X, Z int
}

func (o Offset) From(c primitives.ChunkPos) primitives.ChunkPos {
	return c.Add(o.X, o.Z)
}

type offsetsKey struct {
	min, max int
	shape    render.RevealShape
}

var (
	offsetsLock sync.Mutex
	offsetsMemo = map[offsetsKey]map[int][]Offset{}
)

func inRange(dx, dz, radius int, shape render.RevealShape) bool {
	if shape == render.ShapeCircle {
		distance := math.Sqrt(float64(dx*16*dx*16 + dz*16*dz*16))
		return distance-float64(radius*16) <= CircleTolerance
	}
	return abs(dx) <= radius && abs(dz) <= radius
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func offsets(min, max int, shape render.RevealShape) map[int][]Offset {
	k := offsetsKey{min, max, shape}
	offsetsLock.Lock()
	defer offsetsLock.Unlock()
	if ret, ok := offsetsMemo[k]; ok {
		return ret
	}
	ret := map[int][]Offset{}
	for radius := max; radius >= min; radius-- {
		ring := []Offset{}
		for x := -radius; x <= radius; x++ {
			for z := -radius; z <= radius; z++ {
				if shape == render.ShapeSquare || inRange(x, z, radius, shape) {
					ring = append(ring, Offset{x, z})
				}
			}
		}
		ret[radius] = ring
		if radius < max {
			inner := make(map[Offset]struct{}, len(ring))
			for _, o := range ring {
				inner[o] = struct{}{}
			}
			outer := ret[radius+1][:0:0]
			for _, o := range ret[radius+1] {
				if _, ok := inner[o]; !ok {
					outer = append(outer, o)
				}
			}
			ret[radius+1] = outer
		}
	}
	offsetsMemo[k] = ret
	return ret
}

// CalculateOffsets returns offsets of each radius between min and max that
// are not part of smaller radius, min radius holds the whole area
func CalculateOffsets(min, max int, shape render.RevealShape) map[int][]Offset {
	o := offsets(min, max, shape)
	ret := make(map[int][]Offset, len(o))
	for k, v := range o {
		ret[k] = append([]Offset(nil), v...)
	}
	return ret
}

func viewerChunk(w render.World) primitives.ChunkPos {
	x, _, z := w.ViewerBlockPos()
	return primitives.ChunkOfBlock(x, z)
}

// RenderSpec decides which chunks around the viewer get rendered. Primary
// radius is rendered every pass, one more ring up to max secondary radius
// is added on each pass.
type RenderSpec struct {
	lock         sync.Mutex
	world        render.World
	underground  bool
	primary      int
	maxSecondary int
	shape        render.RevealShape

	offsets       map[int][]Offset
	primaryCoords []primitives.ChunkPos
	lastSecondary int
	lastViewer    primitives.ChunkPos

	lastTaskChunks int
	lastTaskTime   time.Duration
	lastTaskAvg    float64
}

func NewRenderSpec(world render.World, settings render.Settings, underground bool) *RenderSpec {
	gameRenderDistance := max(1, world.GameRenderDistance()-1)
	cfgMin, cfgMax := settings.RenderDistanceSurfaceMin, settings.RenderDistanceSurfaceMax
	if underground {
		cfgMin, cfgMax = settings.RenderDistanceCaveMin, settings.RenderDistanceCaveMax
	}
	rdMin := min(gameRenderDistance, cfgMin)
	rdMax := min(gameRenderDistance, max(rdMin, cfgMax))
	if rdMin+1 == rdMax {
		rdMin++
	}
	shape := settings.RevealShape
	if shape != render.ShapeSquare {
		shape = render.ShapeCircle
	}
	return &RenderSpec{
		world:         world,
		underground:   underground,
		primary:       rdMin,
		maxSecondary:  rdMax,
		shape:         shape,
		lastViewer:    viewerChunk(world),
		lastSecondary: rdMin,
	}
}

// GetRenderAreaCoords returns primary area around the viewer and the next
// secondary ring
func (s *RenderSpec) GetRenderAreaCoords() []primitives.ChunkPos {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.offsets == nil {
		s.offsets = offsets(s.primary, s.maxSecondary, s.shape)
	}
	viewer := viewerChunk(s.world)
	if viewer != s.lastViewer {
		s.primaryCoords = nil
		s.lastSecondary = s.primary
	}
	s.lastViewer = viewer

	if len(s.primaryCoords) == 0 {
		primary := s.offsets[s.primary]
		s.primaryCoords = make([]primitives.ChunkPos, 0, len(primary))
		for _, o := range primary {
			s.primaryCoords = append(s.primaryCoords, o.From(viewer))
		}
	}
	if s.maxSecondary == s.primary {
		return append([]primitives.ChunkPos(nil), s.primaryCoords...)
	}
	if s.lastSecondary == s.maxSecondary {
		s.lastSecondary = s.primary
	}
	s.lastSecondary++
	secondary := s.offsets[s.lastSecondary]
	ret := make([]primitives.ChunkPos, 0, len(s.primaryCoords)+len(secondary))
	ret = append(ret, s.primaryCoords...)
	for _, o := range secondary {
		ret = append(ret, o.From(viewer))
	}
	return ret
}

func (s *RenderSpec) Underground() bool {
	return s.underground
}

func (s *RenderSpec) PrimaryRenderDistance() int {
	return s.primary
}

func (s *RenderSpec) MaxSecondaryRenderDistance() int {
	return s.maxSecondary
}

func (s *RenderSpec) RevealShape() render.RevealShape {
	return s.shape
}

func (s *RenderSpec) LastSecondaryRenderDistance() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastSecondary
}

func (s *RenderSpec) ViewerChunk() primitives.ChunkPos {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastViewer
}

func (s *RenderSpec) lastSecondarySize() int {
	if s.primary == s.maxSecondary || s.offsets == nil {
		return 0
	}
	return len(s.offsets[s.lastSecondary])
}

func (s *RenderSpec) LastSecondaryRenderSize() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastSecondarySize()
}

func (s *RenderSpec) primarySize() int {
	if s.offsets == nil {
		return 0
	}
	return len(s.offsets[s.primary])
}

func (s *RenderSpec) PrimaryRenderSize() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.primarySize()
}

func (s *RenderSpec) SetLastTaskInfo(chunks int, elapsed time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.lastTaskChunks = chunks
	s.lastTaskTime = elapsed
	s.lastTaskAvg = float64(elapsed.Nanoseconds()/int64(max(1, chunks))) / 1e6
}

func (s *RenderSpec) LastTaskChunks() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastTaskChunks
}

func (s *RenderSpec) CopyLastStatsFrom(other *RenderSpec) {
	if other == nil || other == s {
		return
	}
	other.lock.Lock()
	chunks, t, avg := other.lastTaskChunks, other.lastTaskTime, other.lastTaskAvg
	other.lock.Unlock()
	s.lock.Lock()
	s.lastTaskChunks, s.lastTaskTime, s.lastTaskAvg = chunks, t, avg
	s.lock.Unlock()
}

func (s *RenderSpec) DebugStats() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	name := "Surface"
	if s.underground {
		name = "Caves"
	}
	if s.primary == s.maxSecondary {
		return fmt.Sprintf("%s: %d = %d chunks in %dms (avg %.1fms)",
			name, s.primary, s.lastTaskChunks, s.lastTaskTime.Milliseconds(), s.lastTaskAvg)
	}
	avg := fmt.Sprintf("%.1f", s.lastTaskAvg)
	if s.lastTaskAvg >= 10 {
		avg += "!"
	}
	return fmt.Sprintf("%s: %d (%d) + %d (%d) = %d chunks in %dms (avg %sms)",
		name, s.primary, s.primarySize(), s.lastSecondary, s.lastSecondarySize(),
		s.lastTaskChunks, s.lastTaskTime.Milliseconds(), avg)
}

// Equal compares area parameters, viewer position and stats are ignored
func (s *RenderSpec) Equal(o *RenderSpec) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.underground == o.underground &&
		s.primary == o.primary &&
		s.maxSecondary == o.maxSecondary &&
		s.shape == o.shape
}

// SpecCache keeps last surface and underground specs, they are replaced
// when the viewer moves to another chunk or area settings change
type SpecCache struct {
	lock        sync.Mutex
	surface     *RenderSpec
	underground *RenderSpec
}

func (c *SpecCache) get(world render.World, settings render.Settings, underground bool) *RenderSpec {
	c.lock.Lock()
	defer c.lock.Unlock()
	last := &c.surface
	if underground {
		last = &c.underground
	}
	candidate := NewRenderSpec(world, settings, underground)
	if *last != nil && (*last).world == world && (*last).ViewerChunk() == candidate.lastViewer && (*last).Equal(candidate) {
		return *last
	}
	candidate.CopyLastStatsFrom(*last)
	*last = candidate
	return candidate
}

func (c *SpecCache) Surface(world render.World, settings render.Settings) *RenderSpec {
	return c.get(world, settings, false)
}

func (c *SpecCache) Underground(world render.World, settings render.Settings) *RenderSpec {
	return c.get(world, settings, true)
}

// Last returns cached spec without recalculating, it may be nil
func (c *SpecCache) Last(underground bool) *RenderSpec {
	c.lock.Lock()
	defer c.lock.Unlock()
	if underground {
		return c.underground
	}
	return c.surface
}

func (c *SpecCache) Reset() {
	c.lock.Lock()
	c.surface = nil
	c.underground = nil
	c.lock.Unlock()
}
