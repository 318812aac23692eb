package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"image/png"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
	"github.com/maxsupermanhd/livemap/render/dispatchers"
	"github.com/maxsupermanhd/livemap/tiles"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
)

var indexTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"bytes": humanize.Bytes,
}).Parse(`<!DOCTYPE html>
<html><head><title>Livemap</title></head>
<body>
<img id="view" src="/view.png" alt="map">
<p>{{.World}} at {{.Viewer}}, {{.MapType}}</p>
<p>{{.Player}}</p>
<p>Frames drawn: {{.Frames}}, last frame {{.FrameTime}} ({{.Tiles}} tiles)</p>
<p>Memory: {{bytes .MemUsed}} of {{bytes .MemTotal}}, load {{.Load}}, uptime {{.Uptime}}</p>
<script>
const view = document.getElementById("view");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
let loading = false;
ws.onmessage = (m) => {
	const e = JSON.parse(m.data);
	if (e.action !== "frame" || loading) {
		return;
	}
	loading = true;
	const next = new Image();
	next.onload = () => { view.src = next.src; loading = false; };
	next.onerror = () => { loading = false; };
	next.src = "/view.png?frame=" + e.data.frame;
};
</script>
</body></html>
`))

func robotsHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "User-agent: *\nDisallow: /\n\n\n")
}

func (a *app) indexHandler(w http.ResponseWriter, r *http.Request) {
	virtmem, _ := mem.VirtualMemory()
	avg, _ := load.Avg()
	uptime, _ := host.Uptime()
	x, y, z := a.world.ViewerBlockPos()
	data := map[string]any{
		"World":     a.world.Name() + "/" + a.world.DimensionName(),
		"Viewer":    fmt.Sprintf("%d %d %d", x, y, z),
		"MapType":   "no layer",
		"Player":    a.player.SimpleStats(),
		"Frames":    a.frames.Load(),
		"FrameTime": time.Duration(a.frameTime.Load()),
		"Tiles":     a.drawnTiles.Load(),
		"Uptime":    time.Duration(uptime) * time.Second,
	}
	if mt, err := dispatchers.ViewerMapType(a.world); err == nil {
		data["MapType"] = mt.String()
	}
	if virtmem != nil {
		data["MemUsed"], data["MemTotal"] = virtmem.Used, virtmem.Total
	} else {
		data["MemUsed"], data["MemTotal"] = uint64(0), uint64(0)
	}
	if avg != nil {
		data["Load"] = fmt.Sprintf("%.2f %.2f %.2f", avg.Load1, avg.Load5, avg.Load15)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		log.Println("Error executing index template:", err)
	}
}

func (a *app) apiStats(w http.ResponseWriter, r *http.Request) (int, string) {
	setContentTypeJson(w)
	chunks, _ := a.storage.GetChunksCount()
	ret := map[string]any{
		"tasks":      a.tasks.GetStats(),
		"imageCache": a.cache.GetStats(),
		"pipeline":   a.pipeline.GetStats(),
		"tiles": map[string]any{
			"tiles":      a.tileCache.Len(),
			"draw steps": a.steps.Len(),
			"drawn":      a.drawnTiles.Load(),
			"frame time": time.Duration(a.frameTime.Load()).String(),
			"frames":     a.frames.Load(),
		},
		"player":     a.player.SimpleStats(),
		"specs":      a.player.DebugStats(),
		"regions":    a.regions.Remaining(),
		"badBlocks":  render.BadBlockCount(),
		"chunks":     chunks,
		"lastSaved":  a.saver.LastSaved(),
		"worldTicks": a.world.WorldTime(),
	}
	if virtmem, err := mem.VirtualMemory(); err == nil {
		ret["memory"] = humanize.Bytes(virtmem.Used) + " / " + humanize.Bytes(virtmem.Total)
	}
	if avg, err := load.Avg(); err == nil {
		ret["load"] = avg
	}
	return marshalOrFail(200, ret)
}

func (a *app) viewHandler(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, a.snapshotScreen()); err != nil {
		w.WriteHeader(500)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(buf.Bytes())
}

type viewerBody struct {
	X                  int `json:"x"`
	Y                  int `json:"y"`
	Z                  int `json:"z"`
	GameRenderDistance int `json:"gameRenderDistance,omitempty"`
}

func (a *app) apiViewerGET(w http.ResponseWriter, r *http.Request) (int, string) {
	setContentTypeJson(w)
	x, y, z := a.world.ViewerBlockPos()
	return marshalOrFail(200, viewerBody{X: x, Y: y, Z: z, GameRenderDistance: a.world.GameRenderDistance()})
}

func (a *app) apiViewerPOST(w http.ResponseWriter, r *http.Request) (int, string) {
	var b viewerBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		return 400, "Failed to decode viewer: " + err.Error()
	}
	a.world.SetViewer(b.X, b.Y, b.Z)
	if b.GameRenderDistance > 0 {
		a.world.SetGameRenderDistance(b.GameRenderDistance)
	}
	return a.apiViewerGET(w, r)
}

func (a *app) apiTime(w http.ResponseWriter, r *http.Request) (int, string) {
	if r.Method == http.MethodPost {
		ticks, err := strconv.ParseInt(r.FormValue("ticks"), 10, 64)
		if err != nil {
			return 400, "Bad ticks: " + err.Error()
		}
		a.world.SetWorldTime(ticks)
	}
	setContentTypeJson(w)
	return marshalOrFail(200, map[string]int64{"ticks": a.world.WorldTime()})
}

func (a *app) apiRenderChunk(w http.ResponseWriter, r *http.Request) (int, string) {
	params := mux.Vars(r)
	cx, err := strconv.Atoi(params["cx"])
	if err != nil {
		return 400, "Bad cx"
	}
	cz, err := strconv.Atoi(params["cz"])
	if err != nil {
		return 400, "Bad cz"
	}
	mt, err := dispatchers.ViewerMapType(a.world)
	if err != nil {
		return 409, "Viewer layer unknown: " + err.Error()
	}
	if !a.pipeline.AddToPriorityRenderQueue(primitives.ChunkPos{X: cx, Z: cz}, mt) {
		return 503, "Render queue is closed"
	}
	return 202, "Queued"
}

func (a *app) apiTaskToggle(w http.ResponseWriter, r *http.Request) (int, string) {
	name := mux.Vars(r)["name"]
	enable := r.FormValue("enable") != "false"
	var params any
	switch name {
	case a.regions.Name():
		radius, _ := strconv.Atoi(r.FormValue("radius"))
		params = dispatchers.MapRegionParams{Radius: radius}
	case a.saver.Name():
		mt, err := dispatchers.ViewerMapType(a.world)
		if err != nil {
			return 409, "Viewer layer unknown: " + err.Error()
		}
		params = dispatchers.SaveMapParams{World: a.world.Name(), MapType: mt, Dir: a.config().SaveDir}
	case a.player.Name():
	default:
		return 404, "No such task"
	}
	setContentTypeJson(w)
	return marshalOrFail(200, map[string]bool{"enabled": a.tasks.ToggleTask(name, enable, params)})
}

func (a *app) apiMapping(w http.ResponseWriter, r *http.Request) (int, string) {
	switch r.FormValue("enable") {
	case "true":
		a.tasks.EnableTasks()
	case "false":
		a.tasks.StopMapping()
	case "pause":
		a.tasks.DisableTasks()
	}
	setContentTypeJson(w)
	return marshalOrFail(200, map[string]bool{"mapping": a.tasks.IsMapping()})
}

func (a *app) apiSettingsGET(w http.ResponseWriter, r *http.Request) (int, string) {
	setContentTypeJson(w)
	return marshalOrFail(200, a.settings.Get())
}

func (a *app) apiSettingsPUT(w http.ResponseWriter, r *http.Request) (int, string) {
	s := a.settings.Get()
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		return 400, "Failed to decode settings: " + err.Error()
	}
	if err := a.updateSettings(s); err != nil {
		return 500, "Failed to save config: " + err.Error()
	}
	return a.apiSettingsGET(w, r)
}

func (a *app) apiZoom(w http.ResponseWriter, r *http.Request) (int, string) {
	if v := r.FormValue("zoom"); v != "" {
		zoom, err := strconv.Atoi(v)
		if err != nil || zoom < 0 || zoom > tiles.MaxZoom {
			return 400, "Zoom must be between 0 and " + strconv.Itoa(tiles.MaxZoom)
		}
		a.zoom.Store(int32(zoom))
	}
	setContentTypeJson(w)
	return marshalOrFail(200, map[string]int32{"zoom": a.zoom.Load()})
}

func (a *app) apiRenderType(w http.ResponseWriter, r *http.Request) (int, string) {
	s := a.settings.Get()
	if r.Method == http.MethodPost {
		s.TileRenderType = int(tiles.RenderType(s.TileRenderType).Next())
		if err := a.updateSettings(s); err != nil {
			return 500, "Failed to save config: " + err.Error()
		}
	}
	filter, wrap := tiles.RenderType(s.TileRenderType).Params()
	setContentTypeJson(w)
	return marshalOrFail(200, map[string]any{
		"renderType": tiles.RenderType(s.TileRenderType).Valid(),
		"filter":     filter.String(),
		"wrap":       wrap.String(),
	})
}

func (a *app) apiSaved(w http.ResponseWriter, r *http.Request) (int, string) {
	setContentTypeJson(w)
	return marshalOrFail(200, map[string]string{"saved": a.saver.LastSaved()})
}

func (a *app) apiFlush(w http.ResponseWriter, r *http.Request) (int, string) {
	if err := a.cache.FlushToDisk(true); err != nil {
		return 500, err.Error()
	}
	return 200, "Flushed"
}

func createRouter(a *app, stop func()) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/robots.txt", robotsHandler).Methods("GET")

	router.HandleFunc("/", a.indexHandler).Methods("GET")
	router.HandleFunc("/view.png", a.viewHandler).Methods("GET")
	router.HandleFunc("/ws", a.wsEventsHandler)
	router.HandleFunc("/stop", func(w http.ResponseWriter, _ *http.Request) {
		stop()
		w.WriteHeader(200)
		w.Write([]byte("Success"))
	}).Methods("GET")

	router.HandleFunc("/api/v1/stats", apiHandle(a.apiStats)).Methods("GET")
	router.HandleFunc("/api/v1/viewer", apiHandle(a.apiViewerGET)).Methods("GET")
	router.HandleFunc("/api/v1/viewer", apiHandle(a.apiViewerPOST)).Methods("POST")
	router.HandleFunc("/api/v1/time", apiHandle(a.apiTime)).Methods("GET", "POST")
	router.HandleFunc("/api/v1/render/{cx:-?[0-9]+}/{cz:-?[0-9]+}", apiHandle(a.apiRenderChunk)).Methods("POST")
	router.HandleFunc("/api/v1/tasks/{name}", apiHandle(a.apiTaskToggle)).Methods("POST")
	router.HandleFunc("/api/v1/mapping", apiHandle(a.apiMapping)).Methods("POST")
	router.HandleFunc("/api/v1/settings", apiHandle(a.apiSettingsGET)).Methods("GET")
	router.HandleFunc("/api/v1/settings", apiHandle(a.apiSettingsPUT)).Methods("PUT")
	router.HandleFunc("/api/v1/zoom", apiHandle(a.apiZoom)).Methods("GET", "POST")
	router.HandleFunc("/api/v1/rendertype", apiHandle(a.apiRenderType)).Methods("GET", "POST")
	router.HandleFunc("/api/v1/saved", apiHandle(a.apiSaved)).Methods("GET")
	router.HandleFunc("/api/v1/flush", apiHandle(a.apiFlush)).Methods("POST")

	router.HandleFunc("/api/v1/worlds", apiHandle(a.apiListWorlds)).Methods("GET")
	router.HandleFunc("/api/v1/worlds", apiHandle(a.apiAddWorld)).Methods("POST")
	router.HandleFunc("/api/v1/dims", apiHandle(a.apiAddDimension)).Methods("POST")

	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	router.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	router.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	router.HandleFunc("/debug/gc", func(w http.ResponseWriter, r *http.Request) {
		runtime.GC()
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	router1 := handlers.ProxyHeaders(router)
	router2 := handlers.CompressHandler(router1)
	router3 := handlers.CustomLoggingHandler(os.Stdout, router2, customLogger)
	router4 := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router3)
	return router4
}

func runWeb(exitchan <-chan struct{}, addr string, handler http.Handler) {
	if addr == "" {
		log.Println("Not starting web server because listen address is empty")
		return
	}
	websrv := http.Server{
		Addr:    addr,
		Handler: handler,
	}
	log.Println("Web server listens on " + addr)
	go func() {
		if err := websrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Web server returned an error: %s\n", err)
		}
	}()
	<-exitchan
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := websrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server Shutdown Failed:%+v", err)
	}
}
