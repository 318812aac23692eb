package dispatchers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

const saveMapMaxRuntime = 2 * time.Minute

// MaxSavedMapRegions limits size of stitched map images
var MaxSavedMapRegions = 256

var ErrNothingToSave = errors.New("no region images found")

// SaveMapParams describes map image to stitch, file is written to Dir
type SaveMapParams struct {
	World   string
	MapType primitives.MapType
	Dir     string
}

// SaveMapTask stitches all region images of a map type into one PNG
type SaveMapTask struct {
	env    *MapEnv
	params SaveMapParams
	now    func() time.Time

	lock  sync.Mutex
	saved string
}

func (t *SaveMapTask) MaxRuntime() time.Duration {
	return saveMapMaxRuntime
}

func (t *SaveMapTask) filename() string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(t.params.World)
	layer := string(t.params.MapType.Kind)
	if t.params.MapType.IsUnderground() {
		layer = fmt.Sprintf("slice%d", t.params.MapType.VSlice)
	}
	return fmt.Sprintf("%s_%s_%d_%s.png", t.now().Format("2006-01-02_15.04.05"), name, t.params.MapType.Dimension, layer)
}

func (t *SaveMapTask) Perform(ctx context.Context) error {
	l := t.env.logger()
	if err := t.env.Images.FlushToDisk(true); err != nil {
		l.Warn("Flush before map save failed", "err", err)
	}
	regions, err := t.env.Images.Regions(t.params.World, t.params.MapType)
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		return fmt.Errorf("%w: %s %s", ErrNothingToSave, t.params.World, t.params.MapType)
	}
	if len(regions) > MaxSavedMapRegions {
		return fmt.Errorf("map has %d regions, only %d can be saved", len(regions), MaxSavedMapRegions)
	}
	minX, minZ := regions[0].X, regions[0].Z
	maxX, maxZ := minX, minZ
	for _, r := range regions {
		minX, maxX = min(minX, r.X), max(maxX, r.X)
		minZ, maxZ = min(minZ, r.Z), max(maxZ, r.Z)
	}
	cols, rows := maxX-minX+1, maxZ-minZ+1
	if cols*rows > MaxSavedMapRegions*4 {
		return fmt.Errorf("map spans %dx%d regions, too sparse to save", cols, rows)
	}
	out := image.NewRGBA(image.Rect(0, 0, cols*primitives.RegionPixels, rows*primitives.RegionPixels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, r := range regions {
		r := r
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			reportProgress(ctx)
			img, _, err := t.env.Images.GetImage(primitives.ImageLocation{Region: r, Layer: t.params.MapType})
			if err != nil {
				return fmt.Errorf("loading %s: %w", r, err)
			}
			if img == nil {
				return nil
			}
			at := image.Pt((r.X-minX)*primitives.RegionPixels, (r.Z-minZ)*primitives.RegionPixels)
			// regions do not overlap
			draw.Draw(out, image.Rectangle{Min: at, Max: at.Add(img.Rect.Size())}, img, img.Rect.Min, draw.Src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return err
	}

	if err := os.MkdirAll(t.params.Dir, 0755); err != nil {
		return err
	}
	fp := filepath.Join(t.params.Dir, t.filename())
	if err := writePNG(fp, out); err != nil {
		return err
	}
	t.lock.Lock()
	t.saved = fp
	t.lock.Unlock()
	l.Info("Map saved", "path", fp, "regions", len(regions))
	return nil
}

// Saved is path of the written file, empty until task finished
func (t *SaveMapTask) Saved() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.saved
}

func (t *SaveMapTask) String() string {
	return fmt.Sprintf("SaveMapTask{%s %s}", t.params.World, t.params.MapType)
}

func writePNG(fp string, img image.Image) error {
	tmp := fp + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, fp)
}

// SaveMapManager runs one save for every Enable call
type SaveMapManager struct {
	env *MapEnv

	lock    sync.Mutex
	pending *SaveMapParams
	last    *SaveMapTask
}

func NewSaveMapManager(env *MapEnv) *SaveMapManager {
	return &SaveMapManager{env: env}
}

func (m *SaveMapManager) Name() string {
	return "SaveMapTask"
}

func (m *SaveMapManager) Enable(params any) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	switch p := params.(type) {
	case SaveMapParams:
		m.pending = &p
	case *SaveMapParams:
		if p != nil {
			c := *p
			m.pending = &c
		}
	}
	return m.pending != nil
}

func (m *SaveMapManager) IsEnabled() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.pending != nil
}

func (m *SaveMapManager) Disable() {
	m.lock.Lock()
	m.pending = nil
	m.lock.Unlock()
}

func (m *SaveMapManager) GetTask() Task {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.pending == nil {
		return nil
	}
	return &SaveMapTask{env: m.env, params: *m.pending, now: time.Now}
}

func (m *SaveMapManager) TaskAccepted(t Task, accepted bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.pending = nil
	if st, ok := t.(*SaveMapTask); ok && accepted {
		m.last = st
	}
}

// LastSaved is path of the last written map, empty if none was written yet
func (m *SaveMapManager) LastSaved() string {
	m.lock.Lock()
	last := m.last
	m.lock.Unlock()
	if last == nil {
		return ""
	}
	return last.Saved()
}
