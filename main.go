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
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/joho/godotenv"
	"github.com/maxsupermanhd/livemap/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BuildTime  = "00000000.000000"
	CommitHash = "0000000"
	GoVersion  = "0.0"
	GitTag     = "0.0"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if buildinfo, ok := debug.ReadBuildInfo(); ok {
		GoVersion = buildinfo.GoVersion
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Println("Error loading .env:", err)
	}
	path := configPath()
	cfg, err := loadConfig(path)
	if err != nil {
		log.Fatal("Error loading config file: " + err.Error())
	}
	logfile := createLogger(cfg.LogsPath)
	defer logfile.Close()
	log.SetOutput(io.MultiWriter(logfile, os.Stdout))
	log.Println()
	log.Println("Livemap is starting up...")
	log.Printf("Built %s, Ver %s (%s), %s\n", BuildTime, GitTag, CommitHash, GoVersion)
	log.Println()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Println("Failed to register metrics:", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a, err := newApp(ctx, cfg, path, log.Default())
	if err != nil {
		log.Fatal("Failed to set up map: " + err.Error())
	}

	stopEvents := startBackgroundRoutine("events", a.events.Run)
	stopFrames := startBackgroundRoutine("frame", a.frameLoop)
	stopSweeper := startBackgroundRoutine("sweeper", a.sweepLoop)
	stopWatcher := startBackgroundRoutine("config watcher", func(c <-chan struct{}) {
		watchConfig(c, path, a.settings)
	})
	router := createRouter(a, cancel)
	stopWeb := startBackgroundRoutine("web", func(c <-chan struct{}) {
		runWeb(c, cfg.Web.Listen, router)
	})

	<-ctx.Done()
	log.Println("Shutting down")
	stopWeb()
	stopEvents()
	stopWatcher()
	stopFrames()
	stopSweeper()
	a.Close()
	log.Println("Bye")
}
