package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"

	"globalwarming.dev/internal/sim/climate"
)

type httpOptions struct {
	EnableAdmin bool
	EnablePprof bool
}

func (rt *serverRuntime) mux(opts httpOptions, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)

	if opts.EnableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/regions", loopbackOnly(rt.handleRegions))
		mux.HandleFunc("/admin/v1/regions/engine", loopbackOnly(rt.handleEngineToggle))
		mux.HandleFunc("/admin/v1/effects", loopbackOnly(rt.handleEffectToggle))
	} else {
		logger.Printf("admin endpoints disabled (GW_ENABLE_ADMIN_HTTP=false)")
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (GW_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", rt.ws.Handler())
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

type regionState struct {
	RegionID    string   `json:"region_id"`
	State       string   `json:"state"`
	Enabled     bool     `json:"enabled"`
	Score       int64    `json:"score"`
	Temperature float64  `json:"temperature"`
	Baseline    float64  `json:"baseline"`
	Band        string   `json:"band"`
	Effects     []string `json:"effects"`
}

func (rt *serverRuntime) regionStates() []regionState {
	ids := rt.regions.IDs()
	out := make([]regionState, 0, len(ids))
	for _, id := range ids {
		r, ok := rt.regions.Lookup(id)
		if !ok {
			continue
		}
		t := r.Temperature()
		st := regionState{
			RegionID:    string(id),
			State:       r.State().String(),
			Enabled:     r.Enabled(),
			Score:       r.Score(),
			Temperature: t,
			Baseline:    r.DefaultTemperature(),
			Band:        rt.tuning.Bands.Of(t).String(),
			Effects:     []string{},
		}
		for _, k := range r.EnabledEffects() {
			st.Effects = append(st.Effects, k.String())
		}
		out = append(out, st)
	}
	return out
}

func (rt *serverRuntime) handleRegions(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"default_region": rt.cfg.DefaultRegionID,
		"regions":        rt.regionStates(),
		"index":          rt.store.Stats(),
		"mirror":         rt.mirror.Stats(),
		"archive":        rt.archive.Stats(),
		"ws":             rt.ws.Stats(),
	})
}

// handleEngineToggle: POST ?region=<id>&enabled=<bool>
func (rt *serverRuntime) handleEngineToggle(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := climate.RegionID(strings.TrimSpace(r.URL.Query().Get("region")))
	on, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, "enabled must be a boolean")
		return
	}
	reg, ok := rt.regions.Lookup(id)
	if !ok {
		writeJSONError(rw, http.StatusNotFound, fmt.Sprintf("%s: %v", id, climate.ErrRegionNotRegistered))
		return
	}
	reg.SetEnabled(on)
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "region": id, "enabled": reg.Enabled()})
}

// handleEffectToggle: POST ?region=<id>&kind=<KIND>&enabled=<bool>
func (rt *serverRuntime) handleEffectToggle(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	id := climate.RegionID(strings.TrimSpace(q.Get("region")))
	kind, err := climate.ParseKind(q.Get("kind"))
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, err.Error())
		return
	}
	on, err := strconv.ParseBool(q.Get("enabled"))
	if err != nil {
		writeJSONError(rw, http.StatusBadRequest, "enabled must be a boolean")
		return
	}
	if !rt.regions.SetEffectEnabled(id, kind, on) {
		writeJSONError(rw, http.StatusNotFound, fmt.Sprintf("%s: %v", id, climate.ErrRegionNotRegistered))
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"ok":      true,
		"region":  id,
		"kind":    kind.String(),
		"enabled": rt.regions.IsEffectEnabled(id, kind),
	})
}

func writeJSONError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": msg})
}

func (rt *serverRuntime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	states := rt.regionStates()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP globalwarming_region_temperature Current region temperature in degrees Celsius.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_region_temperature gauge\n")
	for _, s := range states {
		fmt.Fprintf(rw, "globalwarming_region_temperature{region=%q} %.4f\n", s.RegionID, s.Temperature)
	}

	fmt.Fprintf(rw, "# HELP globalwarming_region_score Current region carbon score.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_region_score gauge\n")
	for _, s := range states {
		fmt.Fprintf(rw, "globalwarming_region_score{region=%q} %d\n", s.RegionID, s.Score)
	}

	fmt.Fprintf(rw, "# HELP globalwarming_region_enabled Whether the climate engine is on for the region.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_region_enabled gauge\n")
	for _, s := range states {
		fmt.Fprintf(rw, "globalwarming_region_enabled{region=%q} %d\n", s.RegionID, boolGauge(s.Enabled))
	}

	wsStats := rt.ws.Stats()
	fmt.Fprintf(rw, "# HELP globalwarming_decisions_total Gameplay decisions by effect and action.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_decisions_total counter\n")
	for _, d := range wsStats.Decisions {
		fmt.Fprintf(rw, "globalwarming_decisions_total{kind=%q,action=%q} %d\n", d.Kind, d.Action, d.Count)
	}

	fmt.Fprintf(rw, "# HELP globalwarming_ws_sessions Connected websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_ws_sessions gauge\n")
	fmt.Fprintf(rw, "globalwarming_ws_sessions %d\n", wsStats.Sessions)

	fmt.Fprintf(rw, "# HELP globalwarming_records_total Score records accepted.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_records_total counter\n")
	fmt.Fprintf(rw, "globalwarming_records_total %d\n", wsStats.RecordsTotal)

	fmt.Fprintf(rw, "# HELP globalwarming_rate_limited_total Client messages refused by rate limits.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_rate_limited_total counter\n")
	fmt.Fprintf(rw, "globalwarming_rate_limited_total %d\n", wsStats.RateLimited)

	fmt.Fprintf(rw, "# HELP globalwarming_notify_total Notices delivered or dropped.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_notify_total counter\n")
	fmt.Fprintf(rw, "globalwarming_notify_total{result=%q} %d\n", "sent", wsStats.NotifySent)
	fmt.Fprintf(rw, "globalwarming_notify_total{result=%q} %d\n", "dropped", wsStats.NotifyDropped)

	st := rt.store.Stats()
	fmt.Fprintf(rw, "# HELP globalwarming_index_queue_depth Score store write queue depth.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "globalwarming_index_queue_depth %d\n", st.QueueDepth)
	fmt.Fprintf(rw, "# HELP globalwarming_index_dropped_total Rows dropped because the write queue was full.\n")
	fmt.Fprintf(rw, "# TYPE globalwarming_index_dropped_total counter\n")
	fmt.Fprintf(rw, "globalwarming_index_dropped_total{row=%q} %d\n", "record", st.DropRecordTotal)
	fmt.Fprintf(rw, "globalwarming_index_dropped_total{row=%q} %d\n", "decision", st.DropDecisionTotal)

	if rt.mirror != nil {
		ms := rt.mirror.Stats()
		fmt.Fprintf(rw, "# HELP globalwarming_mirror_pending Events awaiting delivery to the remote index.\n")
		fmt.Fprintf(rw, "# TYPE globalwarming_mirror_pending gauge\n")
		fmt.Fprintf(rw, "globalwarming_mirror_pending %d\n", ms.Pending)
		fmt.Fprintf(rw, "# HELP globalwarming_mirror_flush_fail_total Failed remote index flushes.\n")
		fmt.Fprintf(rw, "# TYPE globalwarming_mirror_flush_fail_total counter\n")
		fmt.Fprintf(rw, "globalwarming_mirror_flush_fail_total %d\n", ms.FlushFailTotal)
		fmt.Fprintf(rw, "# HELP globalwarming_mirror_dropped_total Events dropped before reaching the remote index.\n")
		fmt.Fprintf(rw, "# TYPE globalwarming_mirror_dropped_total counter\n")
		fmt.Fprintf(rw, "globalwarming_mirror_dropped_total{stage=%q} %d\n", "queue", ms.QueueDroppedTotal)
		fmt.Fprintf(rw, "globalwarming_mirror_dropped_total{stage=%q} %d\n", "pending", ms.PendingDroppedTotal)
	}

	if rt.archive != nil {
		as := rt.archive.Stats()
		fmt.Fprintf(rw, "# HELP globalwarming_archive_queue_depth Journal segments waiting for upload.\n")
		fmt.Fprintf(rw, "# TYPE globalwarming_archive_queue_depth gauge\n")
		fmt.Fprintf(rw, "globalwarming_archive_queue_depth %d\n", as.QueueDepth)
		fmt.Fprintf(rw, "# HELP globalwarming_archive_uploads_total Journal segment uploads by result.\n")
		fmt.Fprintf(rw, "# TYPE globalwarming_archive_uploads_total counter\n")
		fmt.Fprintf(rw, "globalwarming_archive_uploads_total{result=%q} %d\n", "success", as.UploadSuccessTotal)
		fmt.Fprintf(rw, "globalwarming_archive_uploads_total{result=%q} %d\n", "fail", as.UploadFailTotal)
		fmt.Fprintf(rw, "globalwarming_archive_uploads_total{result=%q} %d\n", "dropped", as.DroppedTotal)
	}
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
