/*
	LiveMap, continuous renderer for block game maps
	Copyright (C) 2022 Maxim Zhuchkov

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.

	Contact me via mail: q3.max.2011@yandex.ru or Discord: MaX#6717
*/

package chunkStorage

import (
	"errors"
	"strings"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrReadOnly      = errors.New("storage is read-only")
	ErrNoWorld       = errors.New("world not found")
	ErrNoDim         = errors.New("dimension not found")
)

type SWorld struct {
	Name       string // unique
	Alias      string
	CreatedAt  time.Time
	ModifiedAt time.Time
	// Time is world day time in ticks
	Time int64
}

type SDim struct {
	Name       string // unique per world
	World      string // name of the world
	ID         int    // -1 nether, 0 overworld, 1 end
	HasNoSky   bool
	Height     int
	CreatedAt  time.Time
	ModifiedAt time.Time
}

type StorageAbilities struct {
	CanCreateWorldsDimensions bool
	CanAddChunks              bool
	CanGenerateChunks         bool
	CanSaveSnapshots          bool
}

// Everything returns empty slice/nil if specified
// object is not found, error only in case of abnormal things.
type ChunkStorage interface {
	GetAbilities() StorageAbilities
	GetStatus() (string, error)
	GetChunksCount() (uint64, error)

	ListWorlds() ([]SWorld, error)
	ListWorldNames() ([]string, error)
	GetWorld(wname string) (*SWorld, error)
	AddWorld(world SWorld) error
	SetWorldAlias(wname, newalias string) error
	SetWorldTime(wname string, ticks int64) error

	ListWorldDimensions(wname string) ([]SDim, error)
	AddDimension(wname string, dim SDim) error
	GetDimension(wname, dname string) (*SDim, error)
	GetDimensionChunksCount(wname, dname string) (uint64, error)

	// AddChunk copies column data, storage does not retain col
	AddChunk(wname, dname string, col render.ChunkData) error
	GetChunk(wname, dname string, cx, cz int) (render.ChunkData, error)

	Close() error
}

type Storage struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Address string `yaml:"addr"`
}

// GuessDimFromName fills dimension defaults from well-known names
func GuessDimFromName(wname, dname string) SDim {
	now := time.Now()
	d := SDim{
		Name:       dname,
		World:      wname,
		ID:         primitives.DimensionOverworld,
		Height:     256,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	switch strings.TrimPrefix(dname, "minecraft:") {
	case "the_nether", "nether":
		d.ID = primitives.DimensionNether
		d.HasNoSky = true
		d.Height = 128
	case "the_end", "end":
		d.ID = primitives.DimensionEnd
		d.HasNoSky = true
	}
	return d
}
