package main

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maxsupermanhd/livemap/metrics"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newTestRouter(t *testing.T) (*app, http.Handler, *atomic.Bool) {
	a := newTestApp(t, testConfig(t))
	stopped := &atomic.Bool{}
	return a, createRouter(a, func() { stopped.Store(true) }), stopped
}

func TestStatsEndpoint(t *testing.T) {
	_, h, _ := newTestRouter(t)
	rec := serve(t, h, "GET", "/api/v1/stats", "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Server"), "Livemap "))
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	for _, k := range []string{"tasks", "imageCache", "pipeline", "tiles", "badBlocks"} {
		assert.Contains(t, stats, k)
	}
}

func TestViewerEndpoint(t *testing.T) {
	a, h, _ := newTestRouter(t)
	rec := serve(t, h, "POST", "/api/v1/viewer", `{"x":100,"y":64,"z":-20,"gameRenderDistance":6}`)
	require.Equal(t, 200, rec.Code)
	x, y, z := a.world.ViewerBlockPos()
	assert.Equal(t, [3]int{100, 64, -20}, [3]int{x, y, z})
	assert.Equal(t, 6, a.world.GameRenderDistance())

	rec = serve(t, h, "GET", "/api/v1/viewer", "")
	var v viewerBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, viewerBody{X: 100, Y: 64, Z: -20, GameRenderDistance: 6}, v)

	rec = serve(t, h, "POST", "/api/v1/viewer", `{"x":`)
	assert.Equal(t, 400, rec.Code)
}

func TestZoomEndpoint(t *testing.T) {
	a, h, _ := newTestRouter(t)
	assert.Equal(t, 200, serve(t, h, "POST", "/api/v1/zoom?zoom=2", "").Code)
	assert.EqualValues(t, 2, a.zoom.Load())
	assert.Equal(t, 400, serve(t, h, "POST", "/api/v1/zoom?zoom=9", "").Code)
	assert.Equal(t, 400, serve(t, h, "POST", "/api/v1/zoom?zoom=abc", "").Code)
	assert.EqualValues(t, 2, a.zoom.Load())
}

func TestRenderTypeCycles(t *testing.T) {
	a, h, _ := newTestRouter(t)
	before := a.settings.Get().TileRenderType
	rec := serve(t, h, "POST", "/api/v1/rendertype", "")
	require.Equal(t, 200, rec.Code)
	assert.NotEqual(t, before, a.settings.Get().TileRenderType)
}

func TestSettingsEndpoint(t *testing.T) {
	a, h, _ := newTestRouter(t)
	rec := serve(t, h, "PUT", "/api/v1/settings", `{"RenderDelay":7,"AlwaysMapCaves":true}`)
	require.Equal(t, 200, rec.Code)
	s := a.settings.Get()
	assert.Equal(t, 7, s.RenderDelay)
	assert.True(t, s.AlwaysMapCaves)
	assert.Equal(t, 1, s.RenderDistanceSurfaceMin)

	cfg, err := loadConfig(a.configPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Render.RenderDelay)
}

func TestTaskEndpoint(t *testing.T) {
	a, h, _ := newTestRouter(t)
	assert.Equal(t, 404, serve(t, h, "POST", "/api/v1/tasks/nope", "").Code)

	rec := serve(t, h, "POST", "/api/v1/tasks/MapRegionTask?radius=1", "")
	require.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"enabled":true}`, rec.Body.String())
	assert.Equal(t, 9, a.regions.Remaining())

	rec = serve(t, h, "POST", "/api/v1/tasks/MapRegionTask?enable=false", "")
	require.Equal(t, 200, rec.Code)
	assert.False(t, a.tasks.IsTaskManagerEnabled("MapRegionTask"))
}

func TestMappingEndpoint(t *testing.T) {
	a, h, _ := newTestRouter(t)
	rec := serve(t, h, "POST", "/api/v1/mapping?enable=false", "")
	require.Equal(t, 200, rec.Code)
	assert.False(t, a.tasks.IsMapping())
	serve(t, h, "POST", "/api/v1/mapping?enable=true", "")
	assert.True(t, a.tasks.IsMapping())
}

func TestRenderChunkEndpoint(t *testing.T) {
	_, h, _ := newTestRouter(t)
	assert.Equal(t, 202, serve(t, h, "POST", "/api/v1/render/-3/4", "").Code)
	assert.Equal(t, 405, serve(t, h, "GET", "/api/v1/render/-3/4", "").Code)
}

func TestViewImage(t *testing.T) {
	a, h, _ := newTestRouter(t)
	a.drawFrame()
	rec := serve(t, h, "GET", "/view.png", "")
	require.Equal(t, 200, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())
}

func TestStopEndpoint(t *testing.T) {
	_, h, stopped := newTestRouter(t)
	assert.Equal(t, 200, serve(t, h, "GET", "/stop", "").Code)
	assert.True(t, stopped.Load())
}

func TestMetricsEndpoint(t *testing.T) {
	_, h, _ := newTestRouter(t)
	assert.Equal(t, 200, serve(t, h, "GET", "/metrics", "").Code)
}

func TestWorldsEndpoint(t *testing.T) {
	_, h, _ := newTestRouter(t)
	assert.Equal(t, 400, serve(t, h, "POST", "/api/v1/worlds?name=bad/name", "").Code)
	assert.Equal(t, 200, serve(t, h, "POST", "/api/v1/worlds?name=other", "").Code)
	assert.Equal(t, 409, serve(t, h, "POST", "/api/v1/worlds?name=other", "").Code)
	assert.Equal(t, 200, serve(t, h, "POST", "/api/v1/dims?world=other&name=the_nether", "").Code)
	assert.Equal(t, 404, serve(t, h, "POST", "/api/v1/dims?world=missing&name=end", "").Code)

	rec := serve(t, h, "GET", "/api/v1/worlds", "")
	require.Equal(t, 200, rec.Code)
	var worlds []worldInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &worlds))
	require.Len(t, worlds, 2)
	assert.Equal(t, "other", worlds[0].Name)
	require.Len(t, worlds[0].Dims, 1)
	assert.True(t, worlds[0].Dims[0].HasNoSky)
	assert.Equal(t, "world", worlds[1].Name)
}

func TestEventsWebsocket(t *testing.T) {
	a, h, _ := newTestRouter(t)
	t.Cleanup(startBackgroundRoutine("events", a.events.Run))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	got := make(chan mapEvent, 16)
	go func() {
		defer close(got)
		for {
			var e mapEvent
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			got <- e
		}
	}()
	var e mapEvent
	require.Eventually(t, func() bool {
		a.drawFrame()
		select {
		case e = <-got:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "frame", e.Action)
	data, ok := e.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "frame")
	assert.Contains(t, data, "tiles")
}

func counterValue(t *testing.T, route, code string) float64 {
	m := &dto.Metric{}
	require.NoError(t, metrics.APIRequests.WithLabelValues(route, code).Write(m))
	return m.GetCounter().GetValue()
}

func TestAPIRequestMetrics(t *testing.T) {
	_, h, _ := newTestRouter(t)
	route := "/api/v1/render/{cx:-?[0-9]+}/{cz:-?[0-9]+}"
	before := counterValue(t, route, "202")
	serve(t, h, "POST", "/api/v1/render/1/2", "")
	serve(t, h, "POST", "/api/v1/render/-5/7", "")
	assert.Equal(t, before+2, counterValue(t, route, "202"))

	rec := serve(t, h, "POST", "/api/v1/flush", "")
	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}
