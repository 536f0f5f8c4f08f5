package storage_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"spesebook/internal/log"
	"spesebook/internal/offline"
	"spesebook/internal/storage"
)

func newCacheStorage(t *testing.T, path string) *storage.SQLiteCacheStorage {
	t.Helper()
	s, err := storage.NewSQLiteCacheStorage(path)
	if err != nil {
		t.Fatalf("open cache storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteCacheStorageBuckets(t *testing.T) {
	ctx := context.Background()
	s := newCacheStorage(t, filepath.Join(t.TempDir(), "cache.db"))

	for _, name := range []string{"spese-cache-v2", "spese-cache-v1", "spese-cache-v2"} {
		if _, err := s.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}
	names, err := s.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 || names[0] != "spese-cache-v1" || names[1] != "spese-cache-v2" {
		t.Fatalf("unexpected bucket names %v", names)
	}

	b, _ := s.Open(ctx, "spese-cache-v1")
	if err := b.Put(ctx, "GET http://x/a", offline.CachedResponse{Status: 200, Body: []byte("a")}); err != nil {
		t.Fatalf("put: %v", err)
	}

	ok, err := s.Delete(ctx, "spese-cache-v1")
	if err != nil || !ok {
		t.Fatalf("delete existing: ok=%v err=%v", ok, err)
	}
	ok, err = s.Delete(ctx, "spese-cache-v1")
	if err != nil || ok {
		t.Fatalf("delete absent: ok=%v err=%v", ok, err)
	}

	// Responses go with their bucket.
	b, _ = s.Open(ctx, "spese-cache-v1")
	if keys, _ := b.Keys(ctx); len(keys) != 0 {
		t.Fatalf("expected empty bucket after delete, got %v", keys)
	}
}

func TestSQLiteCacheWriteAfterDeleteStaysListed(t *testing.T) {
	ctx := context.Background()
	s := newCacheStorage(t, filepath.Join(t.TempDir(), "cache.db"))

	stale, err := s.Open(ctx, "spese-cache-v1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Delete(ctx, "spese-cache-v1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// A fetch that was in flight on the old version finishes after the delete.
	if err := stale.Put(ctx, "GET http://x/late", offline.CachedResponse{Status: 200, Body: []byte("late")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := stale.PutAll(ctx, map[string]offline.CachedResponse{
		"GET http://x/later": {Status: 200, Body: []byte("later")},
	}); err != nil {
		t.Fatalf("put all: %v", err)
	}

	names, err := s.Names(ctx)
	if err != nil || len(names) != 1 || names[0] != "spese-cache-v1" {
		t.Fatalf("expected the written bucket to be listed, got %v (err %v)", names, err)
	}
	ok, err := s.Delete(ctx, "spese-cache-v1")
	if err != nil || !ok {
		t.Fatalf("delete after late write: ok=%v err=%v", ok, err)
	}
	if keys, _ := stale.Keys(ctx); len(keys) != 0 {
		t.Fatalf("expected late rows purged, got %v", keys)
	}
}

func TestSQLiteCacheBucketRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newCacheStorage(t, filepath.Join(t.TempDir(), "cache.db"))
	b, _ := s.Open(ctx, "spese-cache-v1")

	stored := time.UnixMilli(1710500000000)
	want := offline.CachedResponse{
		Status:   200,
		Header:   http.Header{"Content-Type": {"text/css"}, "Vary": {"Accept", "Origin"}},
		Body:     []byte("body{}"),
		StoredAt: stored,
	}
	if err := b.Put(ctx, "GET http://x/css", want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := b.Match(ctx, "GET http://x/css")
	if err != nil || !ok {
		t.Fatalf("match: ok=%v err=%v", ok, err)
	}
	if got.Status != 200 || string(got.Body) != "body{}" || !got.StoredAt.Equal(stored) {
		t.Fatalf("unexpected response %+v", got)
	}
	if got.Header.Get("Content-Type") != "text/css" || len(got.Header.Values("Vary")) != 2 {
		t.Fatalf("headers not preserved: %v", got.Header)
	}

	if _, ok, err := b.Match(ctx, "GET http://x/none"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}

	// Buckets do not see each other's keys.
	other, _ := s.Open(ctx, "spese-cache-v2")
	if _, ok, _ := other.Match(ctx, "GET http://x/css"); ok {
		t.Fatal("key leaked across buckets")
	}
}

func TestSQLiteCachePutAll(t *testing.T) {
	ctx := context.Background()
	s := newCacheStorage(t, filepath.Join(t.TempDir(), "cache.db"))
	b, _ := s.Open(ctx, "spese-cache-v1")

	batch := map[string]offline.CachedResponse{
		"GET http://x/":         {Status: 200, Body: []byte("index")},
		"GET http://x/js/ui.js": {Status: 200, Body: []byte("ui")},
		"GET http://x/empty":    {Status: 200},
	}
	if err := b.PutAll(ctx, batch); err != nil {
		t.Fatalf("put all: %v", err)
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 3 || keys[0] != "GET http://x/" {
		t.Fatalf("unexpected keys %v", keys)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := b.PutAll(cancelled, map[string]offline.CachedResponse{"GET http://x/late": {Status: 200}}); err == nil {
		t.Fatal("expected cancelled batch to fail")
	}
	if _, ok, _ := b.Match(ctx, "GET http://x/late"); ok {
		t.Fatal("cancelled batch must not store anything")
	}
}

func TestSQLiteCacheServesShellAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "shell "+r.URL.Path)
	}))

	fetcher, err := offline.NewNetworkFetcher(offline.FetcherConfig{Origin: origin.URL})
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}

	first, err := storage.NewSQLiteCacheStorage(path)
	if err != nil {
		t.Fatalf("open cache storage: %v", err)
	}
	w := offline.NewWorker(offline.WorkerConfig{
		Version: "v1", Manifest: offline.Manifest(""), Storage: first, Fetcher: fetcher, Logger: log.Discard(),
	})
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}
	first.Close()
	origin.Close()

	second := newCacheStorage(t, path)
	w = offline.NewWorker(offline.WorkerConfig{
		Version: "v1", Manifest: offline.Manifest(""), Storage: second, Fetcher: fetcher, Logger: log.Discard(),
	})
	resp, err := w.Fetch(ctx, httptest.NewRequest("GET", "/js/app.js", nil))
	if err != nil {
		t.Fatalf("fetch after restart: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "shell /js/app.js" {
		t.Fatalf("unexpected body %q", body)
	}
}
