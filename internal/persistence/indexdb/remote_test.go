package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/tuning"
)

func TestRemoteIndex_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	applied := 0
	var kinds []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("x-gw-index-token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Events []struct {
				Kind     string `json:"kind"`
				ServerID string `json:"server_id"`
			} `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		applied += len(body.Events)
		for _, ev := range body.Events {
			kinds = append(kinds, ev.Kind)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx, err := OpenRemote(RemoteConfig{
		Endpoint:      srv.URL,
		Token:         "secret",
		ServerID:      "srv_1",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.WriteRecord(rec("overworld", "alex", climate.RecordContribution, 8, time.Now())); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := applied >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	finalApplied := applied
	finalReqCount := reqCount
	firstKind := ""
	if len(kinds) > 0 {
		firstKind = kinds[0]
	}
	mu.Unlock()

	if finalApplied < 1 {
		t.Fatalf("expected retained batch to be eventually delivered; applied=%d reqCount=%d", finalApplied, finalReqCount)
	}
	if firstKind != "record" {
		t.Fatalf("first delivered kind=%q", firstKind)
	}

	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 || st.PendingDroppedTotal != 0 {
		t.Fatalf("unexpected drops: %+v", st)
	}
}

func TestOpenRemote_Validation(t *testing.T) {
	if _, err := OpenRemote(RemoteConfig{ServerID: "x"}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := OpenRemote(RemoteConfig{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected error for empty server id")
	}
}

func TestFanout_SkipsNilAndClosed(t *testing.T) {
	var remote *RemoteIndex
	f := Fanout{nil, remote}
	if err := f.WriteRecord(climate.Record{}); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := f.UpsertCatalogs(nil, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
