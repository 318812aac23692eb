package main

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/maxsupermanhd/livemap/render/dispatchers"
	"github.com/maxsupermanhd/livemap/tiles"
)

const ticksPerSecond = 20

var screenBackground = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}

// frameLoop advances world time, runs map tasks and redraws the screen
// every frame interval
func (a *app) frameLoop(exitchan <-chan struct{}) {
	t := time.NewTicker(a.config().FrameInterval)
	defer t.Stop()
	last := time.Now()
	var tickRemainder time.Duration
	for {
		select {
		case <-exitchan:
			return
		case now := <-t.C:
			tickRemainder += now.Sub(last)
			last = now
			if ticks := int64(tickRemainder / (time.Second / ticksPerSecond)); ticks > 0 {
				a.world.Tick(ticks)
				tickRemainder -= time.Duration(ticks) * (time.Second / ticksPerSecond)
			}
			a.tasks.PerformTasks()
			a.drawFrame()
		}
	}
}

// drawFrame paints tiles around the viewer centered on the screen
func (a *app) drawFrame() int {
	start := time.Now()
	b := a.screen.Bounds()
	frame := image.NewRGBA(b)
	draw.Draw(frame, b, image.NewUniform(screenBackground), image.Point{}, draw.Src)

	drawn := 0
	mapType, err := dispatchers.ViewerMapType(a.world)
	if err == nil {
		settings := a.settings.Get()
		cfg := a.config()
		zoom := int(a.zoom.Load())
		renderType := tiles.RenderType(settings.TileRenderType)
		x, _, z := a.world.ViewerBlockPos()
		tx, tz := tiles.BlockPosToTile(x, zoom), tiles.BlockPosToTile(z, zoom)
		center := a.tileCache.Get(tx, tz, zoom, a.world.Name(), mapType, settings.TileHighDisplayQuality, renderType)
		px, pz, err := center.BlockPixelOffsetInTile(float64(x), float64(z))
		if err != nil {
			a.logger.Println("Viewer is outside of the center tile:", err)
			return 0
		}
		offX := float64(b.Dx())/2 + px - tiles.TileSize/2
		offZ := float64(b.Dy())/2 + pz - tiles.TileSize/2
		for _, pos := range tiles.Visible(b.Dx(), b.Dy()) {
			tile := a.tileCache.Get(tx+pos.DeltaX, tz+pos.DeltaZ, zoom, a.world.Name(), mapType, settings.TileHighDisplayQuality, renderType)
			if tile.Draw(frame, pos, offX, offZ, 1, cfg.Screen.Grid) {
				drawn++
			}
		}
	}

	a.screenLock.Lock()
	a.screen = frame
	a.screenLock.Unlock()
	frameNum := a.frames.Add(1)
	a.frameTime.Store(int64(time.Since(start)))
	a.drawnTiles.Store(int64(drawn))
	a.events.Broadcast("frame", map[string]int64{"frame": frameNum, "tiles": int64(drawn)})
	return drawn
}

// sweepLoop releases idle draw steps and tiles
func (a *app) sweepLoop(exitchan <-chan struct{}) {
	interval := a.config().SweepInterval
	go a.steps.RunSweeper(a.ctx, interval)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-exitchan:
			return
		case <-a.ctx.Done():
			return
		case <-t.C:
			if n := a.tileCache.Sweep(); n > 0 {
				a.logger.Printf("Dropped %d idle tiles", n)
			}
		}
	}
}
