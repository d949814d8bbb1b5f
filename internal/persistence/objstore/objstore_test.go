package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClient_PutFileSignsPathStyle(t *testing.T) {
	var (
		gotPath, gotAuth, gotHash, gotDate string
		gotBody                            []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotDate = r.Header.Get("x-amz-date")
		gotBody, _ = io.ReadAll(r.Body)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, Bucket: "journal", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	p := filepath.Join(t.TempDir(), "records-2024-05-01-10.jsonl.zst")
	payload := []byte("segment bytes")
	if err := os.WriteFile(p, payload, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "gw/records/records 1.jsonl.zst", p); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	sum := sha256.Sum256(payload)
	if gotPath != "/journal/gw/records/records%201.jsonl.zst" {
		t.Fatalf("path=%s", gotPath)
	}
	if gotHash != hex.EncodeToString(sum[:]) || string(gotBody) != string(payload) {
		t.Fatalf("hash=%s body=%q", gotHash, gotBody)
	}
	if gotDate != "20240501T100000Z" {
		t.Fatalf("x-amz-date=%s", gotDate)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20240501/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%s", gotAuth)
	}
}

func TestClient_PutFileErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := NewClient(ClientConfig{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	p := filepath.Join(t.TempDir(), "x.jsonl.zst")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	if err := c.PutFile(context.Background(), "x", p); err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err=%v", err)
	}
	if err := c.PutFile(context.Background(), "../..", p); err == nil {
		t.Fatalf("expected error for escaping key")
	}

	if _, err := NewClient(ClientConfig{Endpoint: "r2.example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	keys  []string
}

func (f *fakeUploader) PutFile(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestArchiver_UploadsRelativeKeysWithRetry(t *testing.T) {
	dataDir := t.TempDir()
	segDir := filepath.Join(dataDir, "records")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"records-2024-05-01-10.jsonl.zst", "records-2024-05-01-11.jsonl.zst", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(segDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	up := &fakeUploader{fails: 1}
	a := newArchiver(up, ArchiverConfig{DataDir: dataDir, Prefix: "/server_1/"})
	a.backoff = time.Millisecond
	if n := a.Sweep(segDir); n != 2 {
		t.Fatalf("swept %d", n)
	}
	a.Enqueue(filepath.Join(t.TempDir(), "elsewhere.jsonl.zst"))
	a.Close()

	if len(up.keys) != 2 || up.keys[0] != "server_1/records/records-2024-05-01-10.jsonl.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	st := a.Stats()
	if st.EnqueuedTotal != 3 || st.UploadSuccessTotal != 2 || st.UploadFailTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
	a.Close()
}

func TestArchiver_NilIsInert(t *testing.T) {
	var a *Archiver
	a.Enqueue("x")
	a.Close()
	if a.Sweep(t.TempDir()) != 0 || a.Stats() != (Stats{}) {
		t.Fatalf("nil archiver should be inert")
	}
}
