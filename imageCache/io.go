package imagecache

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maxsupermanhd/livemap/primitives"
)

type cacheTaskIO struct {
	loc     primitives.ImageLocation
	img     *CachedImage
	save    bool
	version time.Time
	err     error
}

func (c *ImageCache) processorIO(in <-chan *cacheTaskIO, out chan<- *cacheTaskIO) {
	for task := range in {
		if task.save {
			task.err = c.cacheSave(task.img.Img, task.loc)
		} else {
			task.img, task.err = c.cacheLoad(task.loc)
		}
		out <- task
	}
}

func (c *ImageCache) layerDir(world string, layer primitives.MapType) string {
	return filepath.Join(c.cfg.Root, world, strconv.Itoa(layer.Dimension), filepath.FromSlash(layer.Dir()))
}

func (c *ImageCache) cacheGetFilename(world string, layer primitives.MapType, x, z int) string {
	return filepath.Join(c.layerDir(world, layer), strconv.Itoa(x)+"x"+strconv.Itoa(z)+".png")
}

func (c *ImageCache) cacheGetFilenameLoc(loc primitives.ImageLocation) string {
	return c.cacheGetFilename(loc.Region.World, loc.Layer, loc.Region.X, loc.Region.Z)
}

func (c *ImageCache) cacheSave(img *image.RGBA, loc primitives.ImageLocation) error {
	storePath := c.cacheGetFilenameLoc(loc)
	err := os.MkdirAll(filepath.Dir(storePath), 0764)
	if err != nil {
		return err
	}
	file, err := os.CreateTemp(filepath.Dir(storePath), filepath.Base(storePath)+".*.tmp")
	if err != nil {
		return err
	}
	err = png.Encode(file, img)
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return err
	}
	if err = file.Close(); err != nil {
		os.Remove(file.Name())
		return err
	}
	return os.Rename(file.Name(), storePath)
}

func (c *ImageCache) cacheLoad(loc primitives.ImageLocation) (*CachedImage, error) {
	fp := c.cacheGetFilenameLoc(loc)
	f, err := os.Open(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return &CachedImage{
				Img:          nil,
				Loc:          loc,
				SyncedToDisk: true,
				lastUse:      time.Now(),
			}, nil
		}
		return nil, err
	}
	defer f.Close()
	ii, err := png.Decode(f)
	if err != nil {
		os.Remove(fp)
		return nil, err
	}
	b := ii.Bounds()
	if b.Dx() != primitives.RegionPixels || b.Dy() != primitives.RegionPixels {
		return nil, fmt.Errorf("image %s is %dx%d", fp, b.Dx(), b.Dy())
	}
	dst, ok := ii.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		dst = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), ii, b.Min, draw.Src)
	}
	return &CachedImage{
		Img:          dst,
		Loc:          loc,
		SyncedToDisk: true,
		lastUse:      time.Now(),
		ModTime:      c.getModTimeFp(fp),
	}, nil
}

// listStored parses region positions from saved file names of the layer
func (c *ImageCache) listStored(world string, layer primitives.MapType) ([]primitives.RegionPos, error) {
	entries, err := os.ReadDir(c.layerDir(world, layer))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ret := []primitives.RegionPos{}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".png")
		if e.IsDir() || !ok {
			continue
		}
		xs, zs, ok := strings.Cut(name, "x")
		if !ok {
			continue
		}
		x, err1 := strconv.Atoi(xs)
		z, err2 := strconv.Atoi(zs)
		if err1 != nil || err2 != nil {
			continue
		}
		ret = append(ret, primitives.RegionPos{World: world, Dimension: layer.Dimension, X: x, Z: z})
	}
	return ret, nil
}

func (c *ImageCache) getModTimeLoc(loc primitives.ImageLocation) time.Time {
	return c.getModTimeFp(c.cacheGetFilenameLoc(loc))
}

func (c *ImageCache) getModTimeFp(fp string) time.Time {
	info, err := os.Stat(fp)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
