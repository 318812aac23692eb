// Package metrics holds prometheus collectors shared by the map pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livemap"

var (
	BadBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bad_blocks_total",
		Help:      "Block columns that could not be painted.",
	})
	ChunksRendered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_rendered_total",
		Help:      "Chunks rendered into region images by map layer kind.",
	}, []string{"layer"})
	TasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_finished_total",
		Help:      "Map tasks finished by task manager and outcome.",
	}, []string{"manager", "outcome"})
	TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Wall time of map tasks.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"manager"})
	CachedRegions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cached_region_images",
		Help:      "Region images held in memory.",
	})
	UnsavedRegions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "unsaved_region_images",
		Help:      "Region images modified since the last flush.",
	})
	DrawSteps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tile_draw_steps",
		Help:      "Tile draw steps held by the draw step cache.",
	})
	DrawStepEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tile_draw_step_evictions_total",
		Help:      "Tile draw steps released after being idle.",
	})
	TextureJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "texture_jobs_total",
		Help:      "Background texture jobs by kind and outcome.",
	}, []string{"kind", "outcome"})
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "API requests by route template and status code.",
	}, []string{"route", "code"})
	EventClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_clients",
		Help:      "Connected websocket event listeners.",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		BadBlocks,
		ChunksRendered,
		TasksFinished,
		TaskDuration,
		CachedRegions,
		UnsavedRegions,
		DrawSteps,
		DrawStepEvictions,
		TextureJobs,
		APIRequests,
		EventClients,
	}
}

// Register adds all collectors to the registerer, collectors already
// registered there are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
