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

package postgresChunkStorage

import (
	"context"
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/chunkStorage/memoryChunkStorage"
)

const schema = `
CREATE TABLE IF NOT EXISTS worlds (
	name        text PRIMARY KEY,
	alias       text NOT NULL DEFAULT '',
	created_at  timestamptz NOT NULL DEFAULT now(),
	modified_at timestamptz NOT NULL DEFAULT now(),
	time        bigint NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS dimensions (
	id          serial PRIMARY KEY,
	world       text NOT NULL REFERENCES worlds(name) ON DELETE CASCADE,
	name        text NOT NULL,
	dim_id      integer NOT NULL,
	has_no_sky  boolean NOT NULL,
	height      integer NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now(),
	modified_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (world, name)
);
CREATE TABLE IF NOT EXISTS chunks (
	id         bigserial PRIMARY KEY,
	dim        integer NOT NULL REFERENCES dimensions(id) ON DELETE CASCADE,
	x          integer NOT NULL,
	z          integer NOT NULL,
	data       bytea NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chunks_pos ON chunks (dim, x, z, created_at DESC);
`

// PostgresChunkStorage keeps every submitted version of a chunk, readers
// get the latest one
type PostgresChunkStorage struct {
	dbpool  *pgxpool.Pool
	palette *memoryChunkStorage.Palette
	timeout time.Duration
}

func NewPostgresChunkStorage(ctx context.Context, connection string, palette *memoryChunkStorage.Palette) (*PostgresChunkStorage, error) {
	p, err := pgxpool.Connect(ctx, connection)
	if err != nil {
		return nil, err
	}
	if _, err := p.Exec(ctx, schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if palette == nil {
		palette = memoryChunkStorage.DefaultPalette()
	}
	return &PostgresChunkStorage{dbpool: p, palette: palette, timeout: 10 * time.Second}, nil
}

func (s *PostgresChunkStorage) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *PostgresChunkStorage) Close() error {
	s.dbpool.Close()
	return nil
}

func (s *PostgresChunkStorage) GetAbilities() chunkStorage.StorageAbilities {
	return chunkStorage.StorageAbilities{
		CanCreateWorldsDimensions: true,
		CanAddChunks:              true,
	}
}

func (s *PostgresChunkStorage) GetStatus() (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var version string
	var size uint64
	err := s.dbpool.QueryRow(ctx, `SELECT version(), pg_total_relation_size('chunks')`).Scan(&version, &size)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres, chunks %s, %s", humanize.Bytes(size), version), nil
}
