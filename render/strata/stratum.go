package strata

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/rgb"
)

var ErrInvalidSample = errors.New("invalid block sample")

var stratumIDs atomic.Int64

// LavaLightLevel is forced light level of lava blocks
const LavaLightLevel = 14

// Stratum is a single block of a column with colors resolved for
// compositing. Stratums are owned and recycled by Strata.
type Stratum struct {
	id            int64
	chunk         render.ChunkData
	block         *render.BlockSample
	x, y, z       int
	lightLevel    int
	lightOpacity  int
	water         bool
	dayColor      optColor
	nightColor    optColor
	caveColor     optColor
	uninitialized bool
}

type optColor struct {
	c  uint32
	ok bool
}

func newStratum() *Stratum {
	s := &Stratum{id: stratumIDs.Add(1)}
	s.clear()
	return s
}

func (s *Stratum) set(chunk render.ChunkData, block *render.BlockSample, x, y, z int, lightLevel *int) error {
	if chunk == nil || block == nil {
		return fmt.Errorf("%w: chunk %v block %v", ErrInvalidSample, chunk, block)
	}
	s.chunk = chunk
	s.block = block
	s.x, s.y, s.z = x, y, z
	s.water = block.IsWater
	switch {
	case block.IsLava:
		s.lightLevel = LavaLightLevel
	case lightLevel != nil:
		s.lightLevel = *lightLevel
	default:
		s.lightLevel = chunk.LightValueAt(x, y+1, z)
	}
	s.lightOpacity = chunk.LightOpacityAt(block, x, y, z)
	s.dayColor = optColor{}
	s.nightColor = optColor{}
	s.caveColor = optColor{}
	s.uninitialized = false
	return nil
}

func (s *Stratum) clear() {
	s.chunk = nil
	s.block = nil
	s.x, s.y, s.z = 0, -1, 0
	s.lightLevel = -1
	s.lightOpacity = -1
	s.water = false
	s.dayColor = optColor{}
	s.nightColor = optColor{}
	s.caveColor = optColor{}
	s.uninitialized = true
}

func (s *Stratum) IsUninitialized() bool { return s.uninitialized }

func (s *Stratum) Chunk() render.ChunkData { return s.chunk }
func (s *Stratum) Block() *render.BlockSample { return s.block }
func (s *Stratum) X() int { return s.x }
func (s *Stratum) Y() int { return s.y }
func (s *Stratum) Z() int { return s.z }
func (s *Stratum) LightLevel() int { return s.lightLevel }
func (s *Stratum) LightOpacity() int { return s.lightOpacity }
func (s *Stratum) IsWater() bool { return s.water }
func (s *Stratum) DayColor() (uint32, bool) { return s.dayColor.c, s.dayColor.ok }
func (s *Stratum) NightColor() (uint32, bool) { return s.nightColor.c, s.nightColor.ok }
func (s *Stratum) CaveColor() (uint32, bool) { return s.caveColor.c, s.caveColor.ok }
func (s *Stratum) SetDayColor(c uint32) { s.dayColor = optColor{c, true} }
func (s *Stratum) SetNightColor(c uint32) { s.nightColor = optColor{c, true} }
func (s *Stratum) SetCaveColor(c uint32) { s.caveColor = optColor{c, true} }

// Equal compares height and block, other fields are ignored
func (s *Stratum) Equal(o *Stratum) bool {
	if s == o {
		return true
	}
	if o == nil || s.y != o.y {
		return false
	}
	if s.block == nil || o.block == nil {
		return s.block == o.block
	}
	return *s.block == *o.block
}

// Key is a light-weight cache key matching Equal
func (s *Stratum) Key() string {
	name := ""
	if s.block != nil {
		name = s.block.Name
	}
	return strconv.Itoa(s.y) + "@" + name
}

func (s *Stratum) String() string {
	if s.uninitialized {
		return fmt.Sprintf("Stratum{id=%d, uninitialized=true}", s.id)
	}
	col := func(o optColor) string {
		if !o.ok {
			return "nil"
		}
		return rgb.HexString(o.c)
	}
	return fmt.Sprintf("Stratum{id=%d, x=%d, y=%d, z=%d, lightLevel=%d, lightOpacity=%d, isWater=%v, day=%s, night=%s, cave=%s}",
		s.id, s.x, s.y, s.z, s.lightLevel, s.lightOpacity, s.water, col(s.dayColor), col(s.nightColor), col(s.caveColor))
}
