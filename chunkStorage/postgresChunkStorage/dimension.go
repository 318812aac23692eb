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
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/maxsupermanhd/livemap/chunkStorage"
)

const dimColumns = `name, world, dim_id, has_no_sky, height, created_at, modified_at`

func scanDim(row pgx.Row) (chunkStorage.SDim, error) {
	d := chunkStorage.SDim{}
	err := row.Scan(&d.Name, &d.World, &d.ID, &d.HasNoSky, &d.Height, &d.CreatedAt, &d.ModifiedAt)
	return d, err
}

func (s *PostgresChunkStorage) ListWorldDimensions(wname string) ([]chunkStorage.SDim, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	dims := []chunkStorage.SDim{}
	rows, err := s.dbpool.Query(ctx, `SELECT `+dimColumns+` FROM dimensions WHERE world = $1 ORDER BY name`, wname)
	if err != nil {
		return dims, err
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDim(rows)
		if err != nil {
			return dims, err
		}
		dims = append(dims, d)
	}
	return dims, rows.Err()
}

func (s *PostgresChunkStorage) AddDimension(wname string, dim chunkStorage.SDim) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if dim.Height <= 0 {
		dim.Height = 256
	}
	_, err := s.dbpool.Exec(ctx, `INSERT INTO dimensions (world, name, dim_id, has_no_sky, height)
		SELECT name, $2, $3, $4, $5 FROM worlds WHERE name = $1`,
		wname, dim.Name, dim.ID, dim.HasNoSky, dim.Height)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: dimension %s/%s", chunkStorage.ErrAlreadyExists, wname, dim.Name)
	}
	if err != nil {
		return err
	}
	if w, err := s.GetWorld(wname); err == nil && w == nil {
		return fmt.Errorf("%w: %s", chunkStorage.ErrNoWorld, wname)
	}
	return nil
}

func (s *PostgresChunkStorage) GetDimension(wname, dname string) (*chunkStorage.SDim, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	d, err := scanDim(s.dbpool.QueryRow(ctx, `SELECT `+dimColumns+` FROM dimensions WHERE world = $1 AND name = $2`, wname, dname))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// dimID resolves dimension row, missing world and dimension are told apart
func (s *PostgresChunkStorage) dimID(wname, dname string) (int, chunkStorage.SDim, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var id int
	d := chunkStorage.SDim{}
	err := s.dbpool.QueryRow(ctx, `SELECT id, `+dimColumns+` FROM dimensions WHERE world = $1 AND name = $2`, wname, dname).
		Scan(&id, &d.Name, &d.World, &d.ID, &d.HasNoSky, &d.Height, &d.CreatedAt, &d.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if w, werr := s.GetWorld(wname); werr == nil && w == nil {
			return 0, d, fmt.Errorf("%w: %s", chunkStorage.ErrNoWorld, wname)
		}
		return 0, d, fmt.Errorf("%w: %s/%s", chunkStorage.ErrNoDim, wname, dname)
	}
	return id, d, err
}

func (s *PostgresChunkStorage) GetDimensionChunksCount(wname, dname string) (uint64, error) {
	id, _, err := s.dimID(wname, dname)
	if err != nil {
		return 0, err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	var count uint64
	err = s.dbpool.QueryRow(ctx, `SELECT COUNT(DISTINCT (x, z)) FROM chunks WHERE dim = $1`, id).Scan(&count)
	return count, err
}
