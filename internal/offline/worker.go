package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"spesebook/internal/log"
)

// Recorder receives offline cache metrics. *metrics.Metrics implements it.
type Recorder interface {
	IncrOfflineFetch(source string)
	IncrOfflineInstall(outcome string)
}

// Fetch sources reported to the Recorder.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
	SourceError   = "error"
)

// Worker owns one cache version: it precaches the manifest, prunes older
// versions, and answers fetches cache first.
type Worker struct {
	version  string
	name     string
	manifest []string
	storage  CacheStorage
	fetcher  Fetcher
	logger   *log.Logger
	now      func() time.Time

	installed atomic.Bool

	mu     sync.Mutex
	bucket Bucket
}

type WorkerConfig struct {
	Version  string
	Manifest []string
	Storage  CacheStorage
	Fetcher  Fetcher
	Logger   *log.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &Worker{
		version:  cfg.Version,
		name:     CacheName(cfg.Version),
		manifest: append([]string(nil), cfg.Manifest...),
		storage:  cfg.Storage,
		fetcher:  cfg.Fetcher,
		logger:   logger.WithComponent(log.ComponentOffline),
		now:      time.Now,
	}
}

// CacheName is the bucket this worker reads and writes.
func (w *Worker) CacheName() string {
	return w.name
}

// Installed reports whether Install completed.
func (w *Worker) Installed() bool {
	return w.installed.Load()
}

func (w *Worker) openBucket(ctx context.Context) (Bucket, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bucket != nil {
		return w.bucket, nil
	}
	b, err := w.storage.Open(ctx, w.name)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", w.name, err)
	}
	w.bucket = b
	return b, nil
}

// Install downloads every manifest resource concurrently and stores them
// in the worker's bucket. A transport error or non-2xx status on any
// resource fails the install and nothing is stored.
func (w *Worker) Install(ctx context.Context) error {
	start := w.now()

	type fetched struct {
		key  string
		resp CachedResponse
	}
	results := make([]fetched, len(w.manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range w.manifest {
		g.Go(func() error {
			u, err := w.fetcher.Resolve(ref)
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return fmt.Errorf("build request for %s: %w", ref, err)
			}
			resp, err := w.fetcher.Do(req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", ref, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("precache %s: unexpected status %d", ref, resp.StatusCode)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read %s: %w", ref, err)
			}
			results[i] = fetched{
				key:  RequestKey(http.MethodGet, u.String()),
				resp: CachedResponse{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body, StoredAt: w.now()},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.logger.ErrorContext(ctx, "Offline cache install failed", log.FieldCacheName, w.name, log.FieldError, err)
		return fmt.Errorf("install %s: %w", w.name, err)
	}

	bucket, err := w.openBucket(ctx)
	if err != nil {
		return fmt.Errorf("install %s: %w", w.name, err)
	}
	batch := make(map[string]CachedResponse, len(results))
	for _, r := range results {
		batch[r.key] = r.resp
	}
	if err := bucket.PutAll(ctx, batch); err != nil {
		return fmt.Errorf("install %s: store responses: %w", w.name, err)
	}

	w.installed.Store(true)
	w.logger.InfoContext(ctx, "Offline cache installed",
		log.FieldCacheName, w.name,
		"resources", len(batch),
		log.FieldDuration, w.now().Sub(start).Milliseconds())
	return nil
}

// Activate deletes every bucket other than this worker's and returns the
// removed names.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	names, err := w.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	var removed []string
	for _, name := range names {
		if name == w.name {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			return removed, fmt.Errorf("delete cache %s: %w", name, err)
		}
		removed = append(removed, name)
	}

	w.logger.InfoContext(ctx, "Offline cache activated", log.FieldCacheName, w.name, "removed", removed)
	return removed, nil
}

// Fetch answers req from the bucket when possible, otherwise from the
// network. Successful GET responses are stored for next time. When the
// network fails and nothing is cached the error is returned.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, _, err := w.fetch(ctx, req)
	return resp, err
}

func (w *Worker) fetch(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	out, err := outboundRequest(ctx, w.fetcher, req)
	if err != nil {
		return nil, SourceError, err
	}
	if out.Method != http.MethodGet {
		resp, err := w.fetcher.Do(out)
		if err != nil {
			return nil, SourceError, err
		}
		return resp, SourceNetwork, nil
	}

	key := RequestKey(out.Method, out.URL.String())
	bucket, err := w.openBucket(ctx)
	if err != nil {
		return nil, SourceError, err
	}
	if cached, ok, err := bucket.Match(ctx, key); err != nil {
		w.logger.WarnContext(ctx, "Offline cache lookup failed", log.FieldURL, out.URL.String(), log.FieldError, err)
	} else if ok {
		return cached.Response(out), SourceCache, nil
	}

	resp, err := w.fetcher.Do(out)
	if err != nil {
		return nil, SourceError, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, SourceNetwork, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, SourceError, fmt.Errorf("read %s: %w", out.URL, err)
	}
	copied := CachedResponse{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body, StoredAt: w.now()}
	if err := bucket.Put(ctx, key, copied); err != nil {
		w.logger.WarnContext(ctx, "Failed to store response in offline cache", log.FieldURL, out.URL.String(), log.FieldError, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, SourceNetwork, nil
}

// outboundRequest turns an incoming or relative request into an absolute
// request the fetcher can send.
func outboundRequest(ctx context.Context, f Fetcher, req *http.Request) (*http.Request, error) {
	ref := req.URL.String()
	if !req.URL.IsAbs() {
		ref = req.URL.RequestURI()
	}
	u, err := f.Resolve(ref)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil && req.Body != http.NoBody {
		body = req.Body
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", u, err)
	}
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return out, nil
}
