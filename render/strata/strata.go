package strata

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/davecgh/go-spew/spew"
	"github.com/maxsupermanhd/livemap/render"
)

var ErrPushFailed = errors.New("strata push failed")

// ColorResolver computes day/night/cave colors of a stratum as it is
// surfaced by NextUp.
type ColorResolver interface {
	SetStratumColors(s *Stratum, lightAttenuation int, waterColor uint32, waterAbove, underground, caveLighting bool)
}

type optInt struct {
	v  int
	ok bool
}

func (o *optInt) max(v int) {
	if !o.ok || v > o.v {
		o.v, o.ok = v, true
	}
}

func (o *optInt) min(v int) {
	if !o.ok || v < o.v {
		o.v, o.ok = v, true
	}
}

// Strata is a LIFO stack of stratums making up one column, bottom stratum
// is pushed last and surfaced first. Not safe for concurrent use, each
// renderer owns one.
type Strata struct {
	name                string
	initialPoolSize     int
	poolGrowthIncrement int
	underground         bool
	settings            *render.SettingsStore
	logger              *log.Logger
	loggedOnce          map[string]struct{}

	free      []*Stratum
	used      []*Stratum
	allocated int

	mapCaveLighting  bool
	topY             optInt
	bottomY          optInt
	topWaterY        optInt
	bottomWaterY     optInt
	maxLightLevel    optInt
	waterColor       optColor
	renderDayColor   optColor
	renderNightColor optColor
	renderCaveColor  optColor
	lightAttenuation int
	blocksFound      bool
}

func New(name string, initialPoolSize, poolGrowthIncrement int, underground bool, settings *render.SettingsStore, logger *log.Logger) *Strata {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Strata{
		name:                name,
		initialPoolSize:     gtzero(initialPoolSize, 40),
		poolGrowthIncrement: gtzero(poolGrowthIncrement, 8),
		underground:         underground,
		settings:            settings,
		logger:              logger,
		loggedOnce:          map[string]struct{}{},
	}
	s.growFreePool(s.initialPoolSize)
	s.Reset()
	return s
}

func gtzero(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}

func (s *Strata) logOnce(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if _, ok := s.loggedOnce[msg]; ok {
		return
	}
	s.loggedOnce[msg] = struct{}{}
	s.logger.Print(msg)
}

func (s *Strata) growFreePool(n int) {
	for i := 0; i < n; i++ {
		s.free = append(s.free, newStratum())
	}
	s.allocated += n
}

func (s *Strata) allocate() *Stratum {
	if len(s.free) == 0 {
		n := s.poolGrowthIncrement
		if len(s.used) == 0 {
			n = s.initialPoolSize
		}
		s.growFreePool(n)
		s.logger.Printf("Strata %q grew pool by %d to %d", s.name, n, s.allocated)
	}
	st := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	return st
}

// Push adds block on top of the stack. Sample is validated before any
// pool slot is taken, invalid samples are logged once and ErrPushFailed
// is returned. Missing chunk errors are passed through as-is.
func (s *Strata) Push(chunk render.ChunkData, block *render.BlockSample, x, y, z int, lightLevel *int) (*Stratum, error) {
	if chunk == nil {
		err := fmt.Errorf("%w: %w", ErrPushFailed, render.ErrChunkMissing)
		return nil, err
	}
	if block == nil {
		s.logOnce("Strata %q: nil block at %d,%d,%d in chunk %s", s.name, x, y, z, chunk.Pos())
		return nil, fmt.Errorf("%w: %w", ErrPushFailed, ErrInvalidSample)
	}
	st := s.allocate()
	if err := st.set(chunk, block, x, y, z, lightLevel); err != nil {
		st.clear()
		s.free = append(s.free, st)
		s.logOnce("Strata %q: failed to set stratum: %s", s.name, err)
		return nil, fmt.Errorf("%w: %w", ErrPushFailed, err)
	}
	s.used = append(s.used, st)

	s.topY.max(y)
	s.bottomY.min(y)
	s.maxLightLevel.max(st.lightLevel)
	s.lightAttenuation += st.lightOpacity
	s.blocksFound = true
	if st.water {
		s.topWaterY.max(y)
		s.bottomWaterY.min(y)
		if !s.waterColor.ok {
			s.waterColor = optColor{block.Color, true}
		}
	}
	return st, nil
}

// NextUp surfaces top stratum with its colors resolved, stratum stays on
// the stack until released. With ignoreMiddleWater water stratums below
// the top water level are dropped.
func (s *Strata) NextUp(resolver ColorResolver, ignoreMiddleWater bool) *Stratum {
	for {
		if len(s.used) == 0 {
			panic(fmt.Sprintf("strata %q: NextUp on empty stack\n%s", s.name, spew.Sdump(s.dump())))
		}
		st := s.used[len(s.used)-1]
		if st.uninitialized {
			panic(fmt.Sprintf("strata %q: uninitialized stratum on stack\n%s", s.name, spew.Sdump(s.dump())))
		}
		s.lightAttenuation = max(0, s.lightAttenuation-st.lightOpacity)
		if ignoreMiddleWater && st.water && s.IsWaterAbove(st) {
			s.Release(st)
			continue
		}
		resolver.SetStratumColors(st, s.lightAttenuation, s.waterColor.c, s.IsWaterAbove(st), s.underground, s.mapCaveLighting)
		return st
	}
}

// Release returns stratum to the pool, only top of the stack can be released
func (s *Strata) Release(st *Stratum) {
	if len(s.used) == 0 {
		return
	}
	top := s.used[len(s.used)-1]
	if st != nil && top != st {
		panic(fmt.Sprintf("strata %q: released stratum %s is not on top (%s)", s.name, st, top))
	}
	top.clear()
	s.used = s.used[:len(s.used)-1]
	s.free = append(s.free, top)
}

// Reset releases everything and rereads settings
func (s *Strata) Reset() {
	s.topY = optInt{}
	s.bottomY = optInt{}
	s.topWaterY = optInt{}
	s.bottomWaterY = optInt{}
	s.maxLightLevel = optInt{}
	s.waterColor = optColor{}
	s.renderDayColor = optColor{}
	s.renderNightColor = optColor{}
	s.renderCaveColor = optColor{}
	s.lightAttenuation = 0
	s.blocksFound = false
	if s.settings != nil {
		s.mapCaveLighting = s.settings.Get().MapCaveLighting
	}
	for len(s.used) > 0 {
		s.Release(nil)
	}
}

func (s *Strata) Depth() int {
	if len(s.used) == 0 || !s.topY.ok {
		return 0
	}
	return s.topY.v - s.bottomY.v + 1
}

func (s *Strata) IsEmpty() bool {
	return len(s.used) == 0
}

func (s *Strata) Len() int {
	return len(s.used)
}

func (s *Strata) HasWater() bool {
	return s.topWaterY.ok
}

func (s *Strata) IsWaterAbove(st *Stratum) bool {
	return s.topWaterY.ok && s.topWaterY.v > st.y
}

// Allocated is total count of stratums ever created by this strata
func (s *Strata) Allocated() int {
	return s.allocated
}

// Free is count of pooled stratums not on the stack
func (s *Strata) Free() int {
	return len(s.free)
}

func (s *Strata) Name() string { return s.name }
func (s *Strata) IsUnderground() bool { return s.underground }
func (s *Strata) MapCaveLighting() bool { return s.mapCaveLighting }
func (s *Strata) TopY() (int, bool) { return s.topY.v, s.topY.ok }
func (s *Strata) BottomY() (int, bool) { return s.bottomY.v, s.bottomY.ok }
func (s *Strata) TopWaterY() (int, bool) { return s.topWaterY.v, s.topWaterY.ok }
func (s *Strata) BottomWaterY() (int, bool) { return s.bottomWaterY.v, s.bottomWaterY.ok }
func (s *Strata) MaxLightLevel() (int, bool) { return s.maxLightLevel.v, s.maxLightLevel.ok }
func (s *Strata) WaterColor() (uint32, bool) { return s.waterColor.c, s.waterColor.ok }
func (s *Strata) LightAttenuation() int { return s.lightAttenuation }
func (s *Strata) BlocksFound() bool { return s.blocksFound }
func (s *Strata) RenderDayColor() (uint32, bool) {
	return s.renderDayColor.c, s.renderDayColor.ok
}
func (s *Strata) RenderNightColor() (uint32, bool) {
	return s.renderNightColor.c, s.renderNightColor.ok
}
func (s *Strata) RenderCaveColor() (uint32, bool) {
	return s.renderCaveColor.c, s.renderCaveColor.ok
}
func (s *Strata) SetRenderDayColor(c uint32) { s.renderDayColor = optColor{c, true} }
func (s *Strata) SetRenderNightColor(c uint32) { s.renderNightColor = optColor{c, true} }
func (s *Strata) SetRenderCaveColor(c uint32) { s.renderCaveColor = optColor{c, true} }
func (s *Strata) SetBlocksFound(v bool) { s.blocksFound = v }

type strataDump struct {
	Name             string
	Used             []string
	Free             int
	Allocated        int
	TopY             optInt
	BottomY          optInt
	TopWaterY        optInt
	LightAttenuation int
}

func (s *Strata) dump() strataDump {
	ret := strataDump{
		Name:             s.name,
		Free:             len(s.free),
		Allocated:        s.allocated,
		TopY:             s.topY,
		BottomY:          s.bottomY,
		TopWaterY:        s.topWaterY,
		LightAttenuation: s.lightAttenuation,
	}
	for _, st := range s.used {
		ret.Used = append(ret.Used, st.String())
	}
	return ret
}

func (s *Strata) String() string {
	return fmt.Sprintf("Strata{name=%q, stack=%d, topY=%v, bottomY=%v, topWaterY=%v, bottomWaterY=%v, maxLightLevel=%v, lightAttenuation=%d, blocksFound=%v}",
		s.name, len(s.used), s.topY, s.bottomY, s.topWaterY, s.bottomWaterY, s.maxLightLevel, s.lightAttenuation, s.blocksFound)
}
