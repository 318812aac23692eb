package memoryChunkStorage

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/rgb"
	"gopkg.in/yaml.v3"
)

//go:embed palette.yaml
var defaultPaletteYAML []byte

var ErrUnknownBlock = errors.New("unknown block")

type paletteEntry struct {
	render.BlockSample `yaml:",inline"`
	Color              string `yaml:"color"`
}

// Palette maps block names to shared samples, index 0 is always air
type Palette struct {
	samples []*render.BlockSample
	byName  map[string]uint16
}

// DefaultPalette is parsed once and shared, palettes are read-only
var DefaultPalette = sync.OnceValue(func() *Palette {
	p, err := ParsePalette(defaultPaletteYAML)
	if err != nil {
		panic(err)
	}
	return p
})

func LoadPalette(path string) (*Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return ParsePalette(b)
}

func ParsePalette(b []byte) (*Palette, error) {
	entries := []paletteEntry{}
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	p := &Palette{byName: map[string]uint16{}}
	if len(entries) == 0 || !entries[0].IsAir {
		p.add(render.BlockSample{Name: "air", IsAir: true, NoShadow: true})
	}
	for i, e := range entries {
		c, err := rgb.ParseHex(e.Color)
		if err != nil {
			return nil, fmt.Errorf("palette entry %d (%s): %w", i, e.Name, err)
		}
		e.BlockSample.Color = c
		if e.Name == "" {
			return nil, fmt.Errorf("palette entry %d has no name", i)
		}
		if _, ok := p.byName[e.Name]; ok {
			return nil, fmt.Errorf("palette entry %d: duplicate block %s", i, e.Name)
		}
		p.add(e.BlockSample)
	}
	if len(p.samples) > 1<<16 {
		return nil, fmt.Errorf("palette too big: %d", len(p.samples))
	}
	return p, nil
}

func (p *Palette) add(b render.BlockSample) {
	p.byName[b.Name] = uint16(len(p.samples))
	p.samples = append(p.samples, &b)
}

func (p *Palette) Index(name string) (uint16, error) {
	i, ok := p.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBlock, name)
	}
	return i, nil
}

func (p *Palette) Sample(i uint16) *render.BlockSample {
	if int(i) >= len(p.samples) {
		return nil
	}
	return p.samples[i]
}

func (p *Palette) Air() *render.BlockSample {
	return p.samples[0]
}

func (p *Palette) Names() []string {
	ret := make([]string, len(p.samples))
	for i, s := range p.samples {
		ret[i] = s.Name
	}
	return ret
}

func (p *Palette) Len() int {
	return len(p.samples)
}
