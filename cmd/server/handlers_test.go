package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"globalwarming.dev/internal/protocol"
	"globalwarming.dev/internal/sim/climate"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}

func newTestRuntime(t *testing.T) *serverRuntime {
	t.Helper()
	root := findRepoRoot(t)
	rt, err := buildRuntime(runtimeOptions{
		ConfigDir: filepath.Join(root, "configs"),
		SchemaDir: filepath.Join(root, "schemas"),
		DataDir:   t.TempDir(),
		ServerID:  "test",
		Seed:      7,
	}, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func do(t *testing.T, h http.Handler, method, target, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndMetrics(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.mux(httpOptions{}, log.New(io.Discard, "", 0))

	rec := do(t, mux, http.MethodGet, "/healthz", "")
	if rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodGet, "/metrics", "")
	body := rec.Body.String()
	for _, want := range []string{
		`globalwarming_region_temperature{region="overworld"} 14.0000`,
		`globalwarming_region_score{region="overworld"} 0`,
		`globalwarming_region_enabled{region="nether"} 0`,
		`globalwarming_region_enabled{region="tundra"} 1`,
		`globalwarming_ws_sessions 0`,
		`globalwarming_index_dropped_total{row="record"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "globalwarming_mirror_pending") {
		t.Fatalf("mirror metrics without a mirror:\n%s", body)
	}
}

func TestAdminEndpoints_LoopbackOnly(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.mux(httpOptions{EnableAdmin: true}, log.New(io.Discard, "", 0))

	if rec := do(t, mux, http.MethodGet, "/admin/v1/regions", "203.0.113.9:4000"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin: %d", rec.Code)
	}

	rec := do(t, mux, http.MethodGet, "/admin/v1/regions", "127.0.0.1:4000")
	if rec.Code != 200 {
		t.Fatalf("regions: %d %s", rec.Code, rec.Body.String())
	}
	var got struct {
		DefaultRegion string        `json:"default_region"`
		Regions       []regionState `json:"regions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DefaultRegion != "overworld" || len(got.Regions) != 3 {
		t.Fatalf("regions=%+v", got)
	}
	if got.Regions[1].RegionID != "overworld" || got.Regions[1].Band != "AVERAGE" || !got.Regions[1].Enabled {
		t.Fatalf("overworld=%+v", got.Regions[1])
	}
}

func TestAdminEndpoints_Toggles(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.mux(httpOptions{EnableAdmin: true}, log.New(io.Discard, "", 0))
	const local = "[::1]:4000"

	if !rt.regions.IsEffectEnabled("overworld", climate.KindWeather) {
		t.Fatalf("WEATHER should start enabled")
	}
	rec := do(t, mux, http.MethodPost, "/admin/v1/effects?region=overworld&kind=WEATHER&enabled=false", local)
	if rec.Code != 200 {
		t.Fatalf("effects: %d %s", rec.Code, rec.Body.String())
	}
	if rt.regions.IsEffectEnabled("overworld", climate.KindWeather) {
		t.Fatalf("WEATHER still enabled")
	}

	rec = do(t, mux, http.MethodPost, "/admin/v1/regions/engine?region=nether&enabled=true", local)
	if rec.Code != 200 {
		t.Fatalf("engine: %d %s", rec.Code, rec.Body.String())
	}
	if r, _ := rt.regions.Lookup("nether"); !r.Enabled() {
		t.Fatalf("nether still disabled")
	}

	cases := []struct {
		method, target string
		code           int
	}{
		{http.MethodGet, "/admin/v1/regions/engine?region=nether&enabled=true", http.StatusMethodNotAllowed},
		{http.MethodPost, "/admin/v1/regions/engine?region=mars&enabled=true", http.StatusNotFound},
		{http.MethodPost, "/admin/v1/regions/engine?region=nether&enabled=maybe", http.StatusBadRequest},
		{http.MethodPost, "/admin/v1/effects?region=overworld&kind=TORNADO&enabled=true", http.StatusBadRequest},
		{http.MethodPost, "/admin/v1/effects?region=mars&kind=WEATHER&enabled=true", http.StatusNotFound},
	}
	for _, tc := range cases {
		if rec := do(t, mux, tc.method, tc.target, local); rec.Code != tc.code {
			t.Fatalf("%s %s: got %d want %d", tc.method, tc.target, rec.Code, tc.code)
		}
	}
}

func TestAdminEndpoints_Disabled(t *testing.T) {
	rt := newTestRuntime(t)
	mux := rt.mux(httpOptions{}, log.New(io.Discard, "", 0))
	if rec := do(t, mux, http.MethodGet, "/admin/v1/regions", "127.0.0.1:4000"); rec.Code != http.StatusNotFound {
		t.Fatalf("admin should be unmounted, got %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodGet, "/debug/pprof/", "127.0.0.1:4000"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be unmounted, got %d", rec.Code)
	}
}

func TestWebsocketMounted(t *testing.T) {
	rt := newTestRuntime(t)
	srv := httptest.NewServer(rt.mux(httpOptions{}, log.New(io.Discard, "", 0)))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "t"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil {
		t.Fatalf("read: %v", err)
	}
	if w.Type != protocol.TypeWelcome || w.Region != "overworld" || len(w.Regions) != 3 {
		t.Fatalf("welcome=%+v", w)
	}
	if w.Catalogs["contributions"] == "" {
		t.Fatalf("welcome without catalog digests")
	}
}

func TestBuildRuntime_DefaultsWhenConfigsMissing(t *testing.T) {
	root := findRepoRoot(t)
	empty := t.TempDir()
	rt, err := buildRuntime(runtimeOptions{
		ConfigDir:   filepath.Join(root, "configs"),
		SchemaDir:   filepath.Join(root, "schemas"),
		TuningPath:  filepath.Join(empty, "tuning.yaml"),
		RegionsPath: filepath.Join(empty, "regions.yaml"),
		DataDir:     t.TempDir(),
		Seed:        1,
	}, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer rt.Close()
	if ids := rt.regions.IDs(); len(ids) != 1 || ids[0] != "overworld" {
		t.Fatalf("ids=%v", ids)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"::1":          true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
