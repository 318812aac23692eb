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
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maxsupermanhd/livemap/chunkStorage"
	imagecache "github.com/maxsupermanhd/livemap/imageCache"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/dispatchers"
	"github.com/maxsupermanhd/livemap/tiles"
	"gopkg.in/yaml.v3"
)

type WebConfig struct {
	Listen string `yaml:"listen"`
}

// WorldConfig selects the world being mapped and where the viewer starts
type WorldConfig struct {
	Name        string `yaml:"name"`
	Dimension   string `yaml:"dimension"`
	DimensionID int    `yaml:"dimensionID"`
	Height      int    `yaml:"height"`
	// Storage defaults to memory, postgres takes a connection string as addr
	Storage chunkStorage.Storage `yaml:"storage"`
	// Snapshot is loaded on start and written on shutdown when set
	Snapshot           string `yaml:"snapshot"`
	Palette            string `yaml:"palette"`
	Generate           bool   `yaml:"generate"`
	Seed               int64  `yaml:"seed"`
	Viewer             [3]int `yaml:"viewer"`
	GameRenderDistance int    `yaml:"gameRenderDistance"`
}

type ScreenConfig struct {
	Width  int             `yaml:"width"`
	Height int             `yaml:"height"`
	Zoom   int             `yaml:"zoom"`
	Grid   *tiles.GridSpec `yaml:"grid"`
}

type LivemapConfig struct {
	LogsPath         string                     `yaml:"logsPath"`
	Web              WebConfig                  `yaml:"web"`
	World            WorldConfig                `yaml:"world"`
	Render           render.Settings            `yaml:"render"`
	ImageCache       imagecache.Config          `yaml:"imageCache"`
	Pipeline         dispatchers.PipelineConfig `yaml:"pipeline"`
	Screen           ScreenConfig               `yaml:"screen"`
	FrameInterval    time.Duration              `yaml:"frameInterval"`
	SweepInterval    time.Duration              `yaml:"sweepInterval"`
	DrawStepIdle     time.Duration              `yaml:"drawStepIdle"`
	IODelayThreshold time.Duration              `yaml:"ioDelayThreshold"`
	TextureWorkers   int64                      `yaml:"textureWorkers"`
	SaveDir          string                     `yaml:"saveDir"`
}

func defaultConfig() LivemapConfig {
	return LivemapConfig{
		LogsPath: "./logs/livemap.log",
		Web:      WebConfig{Listen: "127.0.0.1:3002"},
		World: WorldConfig{
			Name:               "world",
			Dimension:          "overworld",
			DimensionID:        primitives.DimensionOverworld,
			Generate:           true,
			Viewer:             [3]int{0, 200, 0},
			GameRenderDistance: 12,
		},
		Render:           render.DefaultSettings(),
		Screen:           ScreenConfig{Width: 1280, Height: 720},
		FrameInterval:    50 * time.Millisecond,
		SweepInterval:    time.Second,
		DrawStepIdle:     tiles.DefaultDrawStepIdle,
		IODelayThreshold: dispatchers.DefaultIODelayThreshold,
		TextureWorkers:   2,
		SaveDir:          "./maps",
	}
}

func configPath() string {
	path := os.Getenv("LIVEMAP_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return path
}

// loadConfig overlays file contents on defaults, missing file is not an error
func loadConfig(path string) (LivemapConfig, error) {
	cfg := defaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config %q not found, using defaults", path)
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.fillZeros()
	return cfg, nil
}

func (c *LivemapConfig) fillZeros() {
	def := defaultConfig()
	if c.FrameInterval <= 0 {
		c.FrameInterval = def.FrameInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.TextureWorkers <= 0 {
		c.TextureWorkers = def.TextureWorkers
	}
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		c.Screen.Width, c.Screen.Height = def.Screen.Width, def.Screen.Height
	}
	if c.World.Name == "" {
		c.World.Name = def.World.Name
	}
	if c.World.Dimension == "" {
		c.World.Dimension = def.World.Dimension
	}
}

func saveConfig(path string, cfg LivemapConfig) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0664); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// watchConfig reloads render settings whenever config file is written
func watchConfig(exitchan <-chan struct{}, path string, settings *render.SettingsStore) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Println("Config watcher failed to start:", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.Println("Config watcher failed to start:", err)
		return
	}
	target := filepath.Clean(path)
	for {
		select {
		case <-exitchan:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := loadConfig(path)
			if err != nil {
				log.Println("Error reloading config:", err)
				continue
			}
			settings.Set(cfg.Render)
			log.Println("Render settings reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Println("Config watcher error:", err)
		}
	}
}
