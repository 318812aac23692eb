package dispatchers

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/renderers"
)

// PipelineConfig sizes queues and workers of the chunk re-render pipeline
type PipelineConfig struct {
	QueueNormalLen   int `yaml:"queueNormalLen"`
	QueuePriorityLen int `yaml:"queuePriorityLen"`
	QueueFetchedLen  int `yaml:"queueFetchedLen"`
	RendererThreads  int `yaml:"rendererThreadCount"`
	FetcherThreads   int `yaml:"fetcherThreadCount"`
}

func orDefault(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}

type renderTask struct {
	chunk   primitives.ChunkPos
	mapType primitives.MapType
	data    render.ChunkData
}

// PriorityPipelineRender re-renders single chunks on request outside of
// the viewer area passes, priority requests are fetched first
type PriorityPipelineRender struct {
	qnormal    chan renderTask
	qpriority  chan renderTask
	qfetched   chan renderTask
	controller *renderers.Controller
	wg         sync.WaitGroup
	l          *slog.Logger
	closeChan  chan struct{}
	closeFn    func()

	rendered atomic.Int64
	missing  atomic.Int64
}

func NewPriorityRenderer(cfg PipelineConfig, controller *renderers.Controller, logger *slog.Logger) *PriorityPipelineRender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	closeChan := make(chan struct{})
	r := &PriorityPipelineRender{
		qnormal:    make(chan renderTask, orDefault(cfg.QueueNormalLen, 64)),
		qpriority:  make(chan renderTask, orDefault(cfg.QueuePriorityLen, 128)),
		qfetched:   make(chan renderTask, orDefault(cfg.QueueFetchedLen, 32)),
		controller: controller,
		l:          logger,
		closeChan:  closeChan,
		closeFn: sync.OnceFunc(func() {
			close(closeChan)
		}),
	}
	rendererThreadCount := orDefault(cfg.RendererThreads, 1)
	r.wg.Add(rendererThreadCount)
	for i := 0; i < rendererThreadCount; i++ {
		go func() {
			r.workerRender(closeChan)
			r.wg.Done()
		}()
	}
	fetcherThreadCount := orDefault(cfg.FetcherThreads, 2)
	r.wg.Add(fetcherThreadCount)
	for i := 0; i < fetcherThreadCount; i++ {
		go func() {
			r.workerFetch(closeChan)
			r.wg.Done()
		}()
	}
	return r
}

func (r *PriorityPipelineRender) workerRender(close <-chan struct{}) {
	for {
		select {
		case <-close:
			return
		case w := <-r.qfetched:
			r.render(w)
		}
	}
}

func (r *PriorityPipelineRender) forward(close <-chan struct{}, w renderTask) bool {
	if !r.fetch(&w) {
		return true
	}
	select {
	case <-close:
		return false
	case r.qfetched <- w:
		return true
	}
}

func (r *PriorityPipelineRender) workerFetch(close <-chan struct{}) {
	for {
		select {
		case <-close:
			return
		case w := <-r.qpriority:
			if !r.forward(close, w) {
				return
			}
			continue
		default:
		}
		select {
		case <-close:
			return
		case w := <-r.qpriority:
			if !r.forward(close, w) {
				return
			}
		case w := <-r.qnormal:
			if !r.forward(close, w) {
				return
			}
		}
	}
}

func (r *PriorityPipelineRender) fetch(work *renderTask) bool {
	if work.data != nil {
		return true
	}
	world := r.controller.World()
	if world == nil {
		return false
	}
	data, err := world.Chunk(work.chunk)
	if err != nil {
		r.missing.Add(1)
		r.l.Debug("Chunk not available for render", "chunk", work.chunk, "err", err)
		return false
	}
	work.data = data
	return true
}

func (r *PriorityPipelineRender) render(work renderTask) {
	world := r.controller.World()
	if work.data == nil || world == nil {
		r.l.Error("render without data", "chunk", work.chunk)
		return
	}
	region := primitives.RegionOf(world.Name(), work.mapType.Dimension, work.chunk)
	if r.controller.RenderChunk(region, work.mapType, work.data) {
		r.rendered.Add(1)
	}
}

// stops and waits
func (r *PriorityPipelineRender) Close() {
	r.closeFn()
	r.wg.Wait()
}

func (r *PriorityPipelineRender) enqueue(q chan renderTask, w renderTask) bool {
	select {
	case <-r.closeChan:
		return false
	default:
	}
	select {
	case <-r.closeChan:
		return false
	case q <- w:
		return true
	}
}

func (r *PriorityPipelineRender) AddToRenderQueue(c primitives.ChunkPos, mapType primitives.MapType) bool {
	return r.enqueue(r.qnormal, renderTask{chunk: c, mapType: mapType})
}

func (r *PriorityPipelineRender) AddToPriorityRenderQueue(c primitives.ChunkPos, mapType primitives.MapType) bool {
	return r.enqueue(r.qpriority, renderTask{chunk: c, mapType: mapType})
}

func (r *PriorityPipelineRender) AddToRenderQueueWithData(mapType primitives.MapType, data render.ChunkData) bool {
	return r.enqueue(r.qfetched, renderTask{chunk: data.Pos(), mapType: mapType, data: data})
}

func (r *PriorityPipelineRender) GetStats() map[string]any {
	return map[string]any{
		"normal queue":   len(r.qnormal),
		"priority queue": len(r.qpriority),
		"fetched queue":  len(r.qfetched),
		"rendered":       r.rendered.Load(),
		"missing":        r.missing.Load(),
	}
}
