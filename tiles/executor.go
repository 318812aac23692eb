package tiles

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/maxsupermanhd/livemap/metrics"
	"golang.org/x/sync/semaphore"
)

// Future is a handle of texture job, it never blocks unless Get is called
type Future struct {
	done   chan struct{}
	cancel context.CancelFunc
	tex    Texture
	err    error
}

func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get waits for the job
func (f *Future) Get() (Texture, error) {
	<-f.done
	return f.tex, f.err
}

// Cancel stops job that did not finish yet, it does nothing on finished ones
func (f *Future) Cancel() {
	if f.Done() {
		return
	}
	f.cancel()
}

// JobRunner starts texture jobs of a kind without blocking the caller
type JobRunner interface {
	Submit(kind string, job func(ctx context.Context) (Texture, error)) *Future
}

// Executor runs texture jobs in background with bounded parallelism
type Executor struct {
	ctx    context.Context
	sem    *semaphore.Weighted
	logger *log.Logger
}

func NewExecutor(ctx context.Context, workers int64, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if workers <= 0 {
		workers = 2
	}
	return &Executor{
		ctx:    ctx,
		sem:    semaphore.NewWeighted(workers),
		logger: logger,
	}
}

func (e *Executor) Submit(kind string, job func(ctx context.Context) (Texture, error)) *Future {
	ctx, cancel := context.WithCancel(e.ctx)
	f := &Future{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(f.done)
		defer cancel()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			f.err = err
			metrics.TextureJobs.WithLabelValues(kind, "cancelled").Inc()
			return
		}
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				e.logger.Printf("Texture job %s panicked: %v", kind, r)
				f.tex = nil
				f.err = errors.New("texture job panicked")
				metrics.TextureJobs.WithLabelValues(kind, "error").Inc()
			}
		}()
		f.tex, f.err = job(ctx)
		switch {
		case ctx.Err() != nil:
			if f.tex != nil && f.err == nil {
				f.tex.Dispose()
			}
			f.tex = nil
			f.err = ctx.Err()
			metrics.TextureJobs.WithLabelValues(kind, "cancelled").Inc()
		case f.err != nil:
			metrics.TextureJobs.WithLabelValues(kind, "error").Inc()
		default:
			metrics.TextureJobs.WithLabelValues(kind, "ok").Inc()
		}
	}()
	return f
}
