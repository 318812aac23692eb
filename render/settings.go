package render

import (
	"sync/atomic"
)

type RevealShape string

const (
	ShapeSquare = RevealShape("square")
	ShapeCircle = RevealShape("circle")
)

// Settings are mapping options, they can be swapped at runtime
type Settings struct {
	MapCaveLighting      bool `yaml:"mapCaveLighting"`
	MapTransparency      bool `yaml:"mapTransparency"`
	MapBathymetry        bool `yaml:"mapBathymetry"`
	MapAntialiasing      bool `yaml:"mapAntialiasing"`
	MapSurfaceAboveCaves bool `yaml:"mapSurfaceAboveCaves"`
	AlwaysMapCaves       bool `yaml:"alwaysMapCaves"`
	AlwaysMapSurface     bool `yaml:"alwaysMapSurface"`

	RenderDistanceCaveMin    int         `yaml:"renderDistanceCaveMin"`
	RenderDistanceCaveMax    int         `yaml:"renderDistanceCaveMax"`
	RenderDistanceSurfaceMin int         `yaml:"renderDistanceSurfaceMin"`
	RenderDistanceSurfaceMax int         `yaml:"renderDistanceSurfaceMax"`
	RevealShape              RevealShape `yaml:"revealShape"`

	// RenderDelay is minimal amount of seconds between viewer area renders
	RenderDelay int `yaml:"renderDelay"`

	TileHighDisplayQuality bool `yaml:"tileHighDisplayQuality"`
	TileRenderType         int  `yaml:"tileRenderType"`
}

func DefaultSettings() Settings {
	return Settings{
		MapCaveLighting:          true,
		MapTransparency:          true,
		MapBathymetry:            false,
		MapAntialiasing:          true,
		MapSurfaceAboveCaves:     true,
		RenderDistanceCaveMin:    3,
		RenderDistanceCaveMax:    3,
		RenderDistanceSurfaceMin: 4,
		RenderDistanceSurfaceMax: 7,
		RevealShape:              ShapeCircle,
		RenderDelay:              2,
		TileHighDisplayQuality:   true,
		TileRenderType:           1,
	}
}

// SettingsStore hands out consistent snapshots of current settings
type SettingsStore struct {
	p atomic.Pointer[Settings]
}

func NewSettingsStore(s Settings) *SettingsStore {
	ret := &SettingsStore{}
	ret.Set(s)
	return ret
}

func (s *SettingsStore) Get() Settings {
	return *s.p.Load()
}

func (s *SettingsStore) Set(n Settings) {
	s.p.Store(&n)
}
