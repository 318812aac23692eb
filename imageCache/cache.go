package imagecache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/maxsupermanhd/livemap/metrics"
	"github.com/maxsupermanhd/livemap/primitives"
)

const (
	DefaultTaskQueueLen     = int(256)
	DefaultIOProcessors     = int(4)
	DefaultAutosaveInterval = 15 * time.Second
	DefaultEvictAfter       = 60 * time.Second
)

var (
	ErrClosed      = errors.New("image cache is closed")
	ErrNotInRegion = errors.New("chunk is not in region")
	ErrCleared     = errors.New("image cache was cleared before save")
)

type Config struct {
	Root             string        `yaml:"root"`
	TaskQueueLen     int           `yaml:"taskQueueLen"`
	IOProcessors     int           `yaml:"ioProcessors"`
	AutosaveInterval time.Duration `yaml:"autosaveInterval"`
	EvictAfter       time.Duration `yaml:"evictAfter"`
}

type CachedImage struct {
	Img          *image.RGBA
	Loc          primitives.ImageLocation
	SyncedToDisk bool
	// LastUpdate is when image was last painted in memory
	LastUpdate    time.Time
	ModTime       time.Time
	lastUse       time.Time
	imageUnloaded bool
	savePending   bool
}

type taskKind int

const (
	taskGet taskKind = iota
	taskSet
	taskGetChunk
	taskSetChunk
	taskFlush
	taskLastUpdate
	taskList
	taskClear
)

type cacheTask struct {
	kind  taskKind
	loc   primitives.ImageLocation
	chunk primitives.ChunkPos
	img   *image.RGBA
	ret   chan cacheResult
}

type cacheResult struct {
	img  *image.RGBA
	t    time.Time
	locs []primitives.ImageLocation
	err  error
}

type flushWaiter struct {
	pending map[primitives.ImageLocation]struct{}
	errs    *multierror.Error
	ret     chan cacheResult
}

type ImageCache struct {
	ctx                 context.Context
	logger              *log.Logger
	cfg                 Config
	tasks               chan *cacheTask
	ioTasks             chan *cacheTaskIO
	ioReturn            chan *cacheTaskIO
	cache               map[primitives.ImageLocation]*CachedImage
	cacheReturn         map[primitives.ImageLocation][]*cacheTask
	loading             map[primitives.ImageLocation]struct{}
	waiters             []*flushWaiter
	backlog             *list.List
	inFlight            int
	closing             bool
	wg                  sync.WaitGroup
	done                chan struct{}
	cacheStatLen        atomic.Int64
	cacheStatUncommited atomic.Int64
}

func NewImageCache(logger *log.Logger, cfg Config, ctx context.Context) *ImageCache {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg.TaskQueueLen = gtzero(logger, cfg.TaskQueueLen, DefaultTaskQueueLen, "taskQueueLen")
	cfg.IOProcessors = gtzero(logger, cfg.IOProcessors, DefaultIOProcessors, "ioProcessors")
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = DefaultAutosaveInterval
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = DefaultEvictAfter
	}
	if cfg.Root == "" {
		cfg.Root = "cachedImages"
	}
	c := &ImageCache{
		ctx:         ctx,
		logger:      logger,
		cfg:         cfg,
		tasks:       make(chan *cacheTask, cfg.TaskQueueLen),
		ioTasks:     make(chan *cacheTaskIO, cfg.IOProcessors),
		ioReturn:    make(chan *cacheTaskIO, cfg.IOProcessors),
		cache:       map[primitives.ImageLocation]*CachedImage{},
		cacheReturn: map[primitives.ImageLocation][]*cacheTask{},
		loading:     map[primitives.ImageLocation]struct{}{},
		backlog:     list.New(),
		done:        make(chan struct{}),
	}
	c.wg.Add(cfg.IOProcessors)
	for i := 0; i < cfg.IOProcessors; i++ {
		go func() {
			c.processorIO(c.ioTasks, c.ioReturn)
			c.wg.Done()
		}()
	}
	go c.processor()
	return c
}

// WaitExit blocks until everything is written to disk after context is cancelled
func (c *ImageCache) WaitExit() {
	<-c.done
}

func (c *ImageCache) processor() {
	defer close(c.done)
	autosaveTimer := time.NewTicker(c.cfg.AutosaveInterval)
	defer autosaveTimer.Stop()
	ctxDone := c.ctx.Done()
	tasks := c.tasks

	for {
		var (
			ioOut chan<- *cacheTaskIO
			next  *cacheTaskIO
		)
		if front := c.backlog.Front(); front != nil {
			ioOut = c.ioTasks
			next = front.Value.(*cacheTaskIO)
		}
		if c.closing && next == nil && c.inFlight == 0 {
			break
		}
		select {
		case <-ctxDone:
			ctxDone = nil
			tasks = nil
			c.drainTasks()
			c.closing = true
			c.processFlush(nil)
		case task := <-tasks:
			c.processTask(task)
		case ret := <-c.ioReturn:
			c.inFlight--
			c.processReturn(ret)
		case ioOut <- next:
			c.backlog.Remove(c.backlog.Front())
			c.inFlight++
		case <-autosaveTimer.C:
			if !c.closing {
				c.processFlush(nil)
				c.processEvict()
			}
		}
		c.updateStats()
	}

	for _, w := range c.waiters {
		w.ret <- cacheResult{err: w.errs.ErrorOrNil()}
	}
	c.waiters = nil
	close(c.ioTasks)
	c.wg.Wait()
}

// drainTasks processes tasks that were accepted before shutdown
func (c *ImageCache) drainTasks() {
	for {
		select {
		case task := <-c.tasks:
			c.processTask(task)
		default:
			return
		}
	}
}

func (c *ImageCache) updateStats() {
	uncommited := 0
	for _, v := range c.cache {
		if !v.SyncedToDisk {
			uncommited++
		}
	}
	c.cacheStatLen.Store(int64(len(c.cache)))
	c.cacheStatUncommited.Store(int64(uncommited))
	metrics.CachedRegions.Set(float64(len(c.cache)))
	metrics.UnsavedRegions.Set(float64(uncommited))
}

func (c *ImageCache) processTask(task *cacheTask) {
	switch task.kind {
	case taskGet, taskGetChunk:
		c.processImageGet(task)
	case taskSet:
		c.processImageSet(task)
	case taskSetChunk:
		c.processChunkSet(task)
	case taskFlush:
		c.processFlush(&flushWaiter{
			pending: map[primitives.ImageLocation]struct{}{},
			ret:     task.ret,
		})
	case taskLastUpdate:
		task.ret <- cacheResult{t: c.lastUpdate(task.loc)}
	case taskList:
		c.processList(task)
	case taskClear:
		c.processClear()
		task.ret <- cacheResult{}
	}
}

func (c *ImageCache) processImageGet(task *cacheTask) {
	l, ok := c.cache[task.loc]
	if ok && !l.imageUnloaded {
		l.lastUse = time.Now()
		if task.kind == taskGetChunk {
			task.ret <- cacheResult{img: copyChunkRGBA(l.Img, task.loc.Region, task.chunk), t: l.LastUpdate}
		} else {
			task.ret <- cacheResult{img: copyRGBA(l.Img), t: c.lastUpdate(task.loc)}
		}
		return
	}
	c.logger.Printf("Image get of %s not in cache, scheduling io", task.loc.String())
	c.cacheReturn[task.loc] = append(c.cacheReturn[task.loc], task)
	c.scheduleLoad(task.loc)
}

func chunkRect(region primitives.RegionPos, chunk primitives.ChunkPos) image.Rectangle {
	ox, oz := region.ChunkOffset(chunk)
	return image.Rect(ox*16, oz*16, ox*16+16, oz*16+16)
}

func copyChunkRGBA(from *image.RGBA, region primitives.RegionPos, chunk primitives.ChunkPos) *image.RGBA {
	to := image.NewRGBA(image.Rect(0, 0, 16, 16))
	if from == nil {
		return to
	}
	draw.Draw(to, to.Rect, from, chunkRect(region, chunk).Min, draw.Src)
	return to
}

func copyRGBA(from *image.RGBA) *image.RGBA {
	if from == nil {
		return nil
	}
	dx := from.Rect.Dx()
	dy := from.Rect.Dy()
	to := image.NewRGBA(image.Rect(0, 0, dx, dy))
	draw.Draw(to, to.Rect, from, from.Rect.Min, draw.Src)
	return to
}

func newRegionRGBA() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, primitives.RegionPixels, primitives.RegionPixels))
}

func (c *ImageCache) touch(loc primitives.ImageLocation, load bool) *CachedImage {
	t, ok := c.cache[loc]
	if !ok {
		t = &CachedImage{
			Img:           newRegionRGBA(),
			Loc:           loc,
			imageUnloaded: load,
		}
		c.cache[loc] = t
		if load {
			c.scheduleLoad(loc)
		}
	}
	if t.Img == nil {
		t.Img = newRegionRGBA()
	}
	now := time.Now()
	t.SyncedToDisk = false
	t.LastUpdate = now
	t.lastUse = now
	return t
}

func (c *ImageCache) processImageSet(task *cacheTask) {
	t := c.touch(task.loc, false)
	draw.Draw(t.Img, t.Img.Rect, task.img, task.img.Rect.Min, draw.Src)
	// whole image replaces whatever is on disk
	t.imageUnloaded = false
}

func (c *ImageCache) processChunkSet(task *cacheTask) {
	t := c.touch(task.loc, true)
	draw.Draw(t.Img, chunkRect(task.loc.Region, task.chunk), task.img, task.img.Rect.Min, draw.Src)
}

func (c *ImageCache) lastUpdate(loc primitives.ImageLocation) time.Time {
	if t, ok := c.cache[loc]; ok && !t.LastUpdate.IsZero() {
		return t.LastUpdate
	} else if ok && !t.ModTime.IsZero() {
		return t.ModTime
	}
	return c.getModTimeLoc(loc)
}

func (c *ImageCache) scheduleLoad(loc primitives.ImageLocation) {
	if _, ok := c.loading[loc]; ok {
		return
	}
	c.loading[loc] = struct{}{}
	c.backlog.PushBack(&cacheTaskIO{loc: loc})
}

func (c *ImageCache) scheduleSave(loc primitives.ImageLocation, t *CachedImage) {
	t.savePending = true
	c.backlog.PushBack(&cacheTaskIO{
		loc:     loc,
		img:     &CachedImage{Img: copyRGBA(t.Img), Loc: loc},
		save:    true,
		version: t.LastUpdate,
	})
}

func (c *ImageCache) needsSave(loc primitives.ImageLocation) bool {
	if c.closing {
		return true
	}
	for _, w := range c.waiters {
		if _, ok := w.pending[loc]; ok {
			return true
		}
	}
	return false
}

// processFlush schedules saves of everything modified, w gets result
// once all of them are done
func (c *ImageCache) processFlush(w *flushWaiter) {
	for loc, t := range c.cache {
		if t.SyncedToDisk || t.Img == nil {
			continue
		}
		if w != nil {
			w.pending[loc] = struct{}{}
		}
		if t.imageUnloaded || t.savePending {
			continue
		}
		c.scheduleSave(loc, t)
	}
	if w == nil || w.ret == nil {
		return
	}
	if len(w.pending) == 0 {
		w.ret <- cacheResult{}
		return
	}
	c.waiters = append(c.waiters, w)
}

func (c *ImageCache) resolveWaiters(loc primitives.ImageLocation, err error) {
	left := c.waiters[:0]
	for _, w := range c.waiters {
		if _, ok := w.pending[loc]; ok {
			delete(w.pending, loc)
			if err != nil {
				w.errs = multierror.Append(w.errs, fmt.Errorf("saving %s: %w", loc.String(), err))
			}
		}
		if len(w.pending) == 0 {
			w.ret <- cacheResult{err: w.errs.ErrorOrNil()}
			continue
		}
		left = append(left, w)
	}
	c.waiters = left
}

func (c *ImageCache) processReturn(task *cacheTaskIO) {
	if task.save {
		c.processSaveReturn(task)
		return
	}
	delete(c.loading, task.loc)
	if task.err != nil {
		c.logger.Printf("Error reading image at %s: %v", task.loc.String(), task.err)
		task.img = &CachedImage{Loc: task.loc, SyncedToDisk: true}
	}
	t, ok := c.cache[task.loc]
	if !ok {
		task.img.lastUse = time.Now()
		c.cache[task.loc] = task.img
	} else {
		c.processCacheLoad(t, task)
		if !t.SyncedToDisk && !t.savePending && c.needsSave(task.loc) {
			c.scheduleSave(task.loc, t)
		}
	}

	ret := c.cacheReturn[task.loc]
	delete(c.cacheReturn, task.loc)
	for _, v := range ret {
		c.processTask(v)
	}
}

// processCacheLoad puts chunks painted before load finished over the
// loaded image
func (c *ImageCache) processCacheLoad(t *CachedImage, task *cacheTaskIO) {
	if !t.imageUnloaded {
		c.logger.Printf("IO return at %s but already have loaded image in cache", task.loc.String())
		return
	}
	t.imageUnloaded = false
	if task.img == nil || task.img.Img == nil {
		return
	}
	t.ModTime = task.img.ModTime
	if t.Img == nil {
		t.Img = task.img.Img
		return
	}
	draw.Draw(task.img.Img, task.img.Img.Bounds(), t.Img, image.Point{}, draw.Over)
	t.Img = task.img.Img
}

func (c *ImageCache) processSaveReturn(task *cacheTaskIO) {
	t, ok := c.cache[task.loc]
	if ok {
		t.savePending = false
		if task.err == nil && t.LastUpdate.Equal(task.version) {
			t.SyncedToDisk = true
			t.ModTime = time.Now()
		}
	}
	if task.err != nil {
		c.logger.Printf("Failed to save cache of %s (%s): %v", task.loc.String(), c.cacheGetFilenameLoc(task.loc), task.err)
	} else if ok && !t.SyncedToDisk && c.needsSave(task.loc) {
		c.scheduleSave(task.loc, t)
		return
	}
	c.resolveWaiters(task.loc, task.err)
}

func (c *ImageCache) processEvict() {
	deadline := time.Now().Add(-c.cfg.EvictAfter)
	for loc, t := range c.cache {
		if !t.SyncedToDisk || t.imageUnloaded || t.savePending || t.lastUse.After(deadline) {
			continue
		}
		if _, ok := c.cacheReturn[loc]; ok {
			continue
		}
		delete(c.cache, loc)
	}
}

func (c *ImageCache) processList(task *cacheTask) {
	ret := []primitives.ImageLocation{}
	for loc, t := range c.cache {
		if t.Img == nil || loc.Region.World != task.loc.Region.World || loc.Layer != task.loc.Layer {
			continue
		}
		ret = append(ret, loc)
	}
	task.ret <- cacheResult{locs: ret}
}

func (c *ImageCache) processClear() {
	clear(c.cache)
	for _, w := range c.waiters {
		for loc := range w.pending {
			w.errs = multierror.Append(w.errs, fmt.Errorf("%s: %w", loc.String(), ErrCleared))
		}
		w.ret <- cacheResult{err: w.errs.ErrorOrNil()}
	}
	c.waiters = nil
}

func (c *ImageCache) submit(task *cacheTask) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case c.tasks <- task:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *ImageCache) request(task *cacheTask) (cacheResult, error) {
	task.ret = make(chan cacheResult, 1)
	if err := c.submit(task); err != nil {
		return cacheResult{}, err
	}
	select {
	case r := <-task.ret:
		return r, r.err
	case <-c.done:
		return cacheResult{}, ErrClosed
	}
}

// SetImage replaces whole region image, img must not be modified afterwards
func (c *ImageCache) SetImage(loc primitives.ImageLocation, img *image.RGBA) error {
	return c.submit(&cacheTask{kind: taskSet, loc: loc, img: img})
}

// GetImage returns copy of region image and its last update time,
// image is nil if region was never painted
func (c *ImageCache) GetImage(loc primitives.ImageLocation) (*image.RGBA, time.Time, error) {
	r, err := c.request(&cacheTask{kind: taskGet, loc: loc})
	return r.img, r.t, err
}

func (c *ImageCache) ChunkImage(loc primitives.ImageLocation, chunk primitives.ChunkPos) (*image.RGBA, error) {
	if !loc.Region.Contains(chunk) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotInRegion, chunk, loc.Region)
	}
	r, err := c.request(&cacheTask{kind: taskGetChunk, loc: loc, chunk: chunk})
	return r.img, err
}

// SetChunkImage paints 16x16 img over chunk area of region image, img must
// not be modified afterwards
func (c *ImageCache) SetChunkImage(loc primitives.ImageLocation, chunk primitives.ChunkPos, img *image.RGBA) error {
	if !loc.Region.Contains(chunk) {
		return fmt.Errorf("%w: %s in %s", ErrNotInRegion, chunk, loc.Region)
	}
	return c.submit(&cacheTask{kind: taskSetChunk, loc: loc, chunk: chunk, img: img})
}

// FlushToDisk writes all modified images, synchronous flush waits for
// writes and returns their errors
func (c *ImageCache) FlushToDisk(synchronous bool) error {
	if !synchronous {
		return c.submit(&cacheTask{kind: taskFlush})
	}
	_, err := c.request(&cacheTask{kind: taskFlush})
	return err
}

func (c *ImageCache) LastUpdate(loc primitives.ImageLocation) time.Time {
	r, err := c.request(&cacheTask{kind: taskLastUpdate, loc: loc})
	if err != nil {
		return c.getModTimeLoc(loc)
	}
	return r.t
}

// Regions lists regions of the layer that are either cached or saved
func (c *ImageCache) Regions(world string, layer primitives.MapType) ([]primitives.RegionPos, error) {
	r, err := c.request(&cacheTask{kind: taskList, loc: primitives.ImageLocation{
		Region: primitives.RegionPos{World: world, Dimension: layer.Dimension},
		Layer:  layer,
	}})
	if err != nil {
		return nil, err
	}
	seen := map[primitives.RegionPos]struct{}{}
	ret := []primitives.RegionPos{}
	for _, l := range r.locs {
		seen[l.Region] = struct{}{}
		ret = append(ret, l.Region)
	}
	stored, err := c.listStored(world, layer)
	for _, s := range stored {
		if _, ok := seen[s]; !ok {
			ret = append(ret, s)
		}
	}
	return ret, err
}

// Clear forgets all cached images, unsaved changes are lost
func (c *ImageCache) Clear() error {
	_, err := c.request(&cacheTask{kind: taskClear})
	return err
}

func (c *ImageCache) Root() string {
	return c.cfg.Root
}

func (c *ImageCache) GetStats() map[string]any {
	return map[string]any{
		"root":                c.cfg.Root,
		"io processors":       c.cfg.IOProcessors,
		"task queue capacity": cap(c.tasks),
		"task queue length":   len(c.tasks),
		"cached images":       c.cacheStatLen.Load(),
		"cached images size":  humanize.Bytes(uint64(c.cacheStatLen.Load()) * primitives.RegionPixels * primitives.RegionPixels * 4),
		"unwritten images":    c.cacheStatUncommited.Load(),
	}
}

func gtzero(l *log.Logger, v, d int, name string) int {
	if v > 0 {
		return v
	}
	if v < 0 {
		l.Printf("Negative %s, defaulting to %d!", name, d)
	}
	return d
}
