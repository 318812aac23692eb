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

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/maxsupermanhd/livemap/chunkStorage"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgerr *pgconn.PgError
	return errors.As(err, &pgerr) && pgerr.Code == pgUniqueViolation
}

func (s *PostgresChunkStorage) ListWorlds() ([]chunkStorage.SWorld, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.dbpool.Query(ctx, `SELECT name, alias, created_at, modified_at, time FROM worlds ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	worlds := []chunkStorage.SWorld{}
	for rows.Next() {
		w := chunkStorage.SWorld{}
		if err := rows.Scan(&w.Name, &w.Alias, &w.CreatedAt, &w.ModifiedAt, &w.Time); err != nil {
			return worlds, err
		}
		worlds = append(worlds, w)
	}
	return worlds, rows.Err()
}

func (s *PostgresChunkStorage) ListWorldNames() ([]string, error) {
	worlds, err := s.ListWorlds()
	if err != nil {
		return nil, err
	}
	ret := make([]string, len(worlds))
	for i := range worlds {
		ret[i] = worlds[i].Name
	}
	return ret, nil
}

func (s *PostgresChunkStorage) GetWorld(wname string) (*chunkStorage.SWorld, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	w := chunkStorage.SWorld{}
	err := s.dbpool.QueryRow(ctx, `SELECT name, alias, created_at, modified_at, time FROM worlds WHERE name = $1`, wname).
		Scan(&w.Name, &w.Alias, &w.CreatedAt, &w.ModifiedAt, &w.Time)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresChunkStorage) AddWorld(world chunkStorage.SWorld) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.dbpool.Exec(ctx, `INSERT INTO worlds (name, alias, time) VALUES ($1, $2, $3)`, world.Name, world.Alias, world.Time)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: world %s", chunkStorage.ErrAlreadyExists, world.Name)
	}
	return err
}

func (s *PostgresChunkStorage) updateWorld(query, wname string, arg any) error {
	ctx, cancel := s.ctx()
	defer cancel()
	tag, err := s.dbpool.Exec(ctx, query, arg, wname)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", chunkStorage.ErrNoWorld, wname)
	}
	return nil
}

func (s *PostgresChunkStorage) SetWorldAlias(wname, newalias string) error {
	return s.updateWorld(`UPDATE worlds SET alias = $1, modified_at = now() WHERE name = $2`, wname, newalias)
}

func (s *PostgresChunkStorage) SetWorldTime(wname string, ticks int64) error {
	return s.updateWorld(`UPDATE worlds SET time = $1 WHERE name = $2`, wname, ticks)
}
