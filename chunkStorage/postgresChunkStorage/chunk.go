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
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/maxsupermanhd/livemap/chunkStorage/memoryChunkStorage"
	"github.com/maxsupermanhd/livemap/render"
)

func (s *PostgresChunkStorage) GetChunk(wname, dname string, cx, cz int) (render.ChunkData, error) {
	id, dim, err := s.dimID(wname, dname)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	var d []byte
	err = s.dbpool.QueryRow(ctx, `
		SELECT data FROM chunks
		WHERE dim = $1 AND x = $2 AND z = $3
		ORDER BY created_at DESC
		LIMIT 1`, id, cx, cz).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c, err := memoryChunkStorage.UnmarshalChunk(d, dim, s.palette)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresChunkStorage) AddChunk(wname, dname string, col render.ChunkData) error {
	c, err := memoryChunkStorage.Copy(col, s.palette)
	if err != nil {
		return err
	}
	raw, err := memoryChunkStorage.MarshalChunk(c)
	if err != nil {
		return err
	}
	id, _, err := s.dimID(wname, dname)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	pos := c.Pos()
	_, err = s.dbpool.Exec(ctx, `INSERT INTO chunks (dim, x, z, data) VALUES ($1, $2, $3, $4)`, id, pos.X, pos.Z, raw)
	return err
}

func (s *PostgresChunkStorage) GetChunksCount() (chunksCount uint64, derr error) {
	ctx, cancel := s.ctx()
	defer cancel()
	derr = s.dbpool.QueryRow(ctx, `SELECT COUNT(DISTINCT (dim, x, z)) FROM chunks`).Scan(&chunksCount)
	return chunksCount, derr
}
