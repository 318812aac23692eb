package renderers

import (
	"log"

	"github.com/maxsupermanhd/livemap/render"
)

// NewEnd is a surface renderer with brighter moonlight and no night layer
func NewEnd(settings *render.SettingsStore, world render.World, logger *log.Logger) *Surface {
	r := newSurface("End", settings, world, logger)
	r.moonlight = endMoonlightLevel
	r.dayOnly = true
	return r
}
