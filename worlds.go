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

package main

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/maxsupermanhd/livemap/chunkStorage"
)

var (
	worldNameRegexp = regexp.MustCompile(`^[\-a-zA-Z0-9._]+$`)
	dimNameRegexp   = regexp.MustCompile(`^[\-a-zA-Z0-9._:]+$`)
)

type dimInfo struct {
	chunkStorage.SDim
	Chunks uint64
}

type worldInfo struct {
	chunkStorage.SWorld
	Dims []dimInfo
}

func (a *app) apiListWorlds(w http.ResponseWriter, r *http.Request) (int, string) {
	worlds, err := a.storage.ListWorlds()
	if err != nil {
		return 500, "Failed to list worlds: " + err.Error()
	}
	ret := make([]worldInfo, 0, len(worlds))
	for _, wrld := range worlds {
		dims, err := a.storage.ListWorldDimensions(wrld.Name)
		if err != nil {
			return 500, "Failed to list dimensions of world " + wrld.Name + ": " + err.Error()
		}
		wi := worldInfo{SWorld: wrld, Dims: make([]dimInfo, 0, len(dims))}
		for _, d := range dims {
			count, err := a.storage.GetDimensionChunksCount(wrld.Name, d.Name)
			if err != nil {
				return 500, "Failed to count chunks of " + wrld.Name + "/" + d.Name + ": " + err.Error()
			}
			wi.Dims = append(wi.Dims, dimInfo{SDim: d, Chunks: count})
		}
		ret = append(ret, wi)
	}
	setContentTypeJson(w)
	return marshalOrFail(200, ret)
}

func (a *app) apiAddWorld(w http.ResponseWriter, r *http.Request) (int, string) {
	name := r.FormValue("name")
	if !worldNameRegexp.MatchString(name) {
		return 400, "Invalid world name"
	}
	world := chunkStorage.SWorld{Name: name, Alias: r.FormValue("alias")}
	if err := a.storage.AddWorld(world); err != nil {
		if errors.Is(err, chunkStorage.ErrAlreadyExists) {
			return 409, err.Error()
		}
		return 500, "Failed to add world: " + err.Error()
	}
	setContentTypeJson(w)
	return marshalOrFail(200, world)
}

func (a *app) apiAddDimension(w http.ResponseWriter, r *http.Request) (int, string) {
	wname := r.FormValue("world")
	name := r.FormValue("name")
	if !dimNameRegexp.MatchString(name) {
		return 400, "Invalid dimension name"
	}
	dim := chunkStorage.GuessDimFromName(wname, name)
	if err := a.storage.AddDimension(wname, dim); err != nil {
		switch {
		case errors.Is(err, chunkStorage.ErrAlreadyExists):
			return 409, err.Error()
		case errors.Is(err, chunkStorage.ErrNoWorld):
			return 404, err.Error()
		}
		return 500, "Failed to add dimension: " + err.Error()
	}
	setContentTypeJson(w)
	return marshalOrFail(200, dim)
}
