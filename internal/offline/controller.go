package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"spesebook/internal/log"
)

// Controller holds the active worker. Register installs and activates a
// new worker, then claims all subsequent requests for it.
type Controller struct {
	active  atomic.Pointer[Worker]
	network Fetcher
	metrics Recorder
	logger  *log.Logger
}

func NewController(network Fetcher, metrics Recorder, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &Controller{
		network: network,
		metrics: metrics,
		logger:  logger.WithComponent(log.ComponentOffline),
	}
}

// Active returns the worker serving requests, or nil before the first
// successful registration.
func (c *Controller) Active() *Worker {
	return c.active.Load()
}

// Register runs install, activate and claim for w. When install fails the
// previously active worker keeps serving and the error is returned.
func (c *Controller) Register(ctx context.Context, w *Worker) error {
	if err := w.Install(ctx); err != nil {
		c.recordInstall("error")
		return fmt.Errorf("register offline worker: %w", err)
	}
	c.recordInstall("success")

	// Skip waiting: activate right away instead of waiting for the old
	// worker to go idle.
	if _, err := w.Activate(ctx); err != nil {
		c.logger.WarnContext(ctx, "Offline cache activation incomplete", log.FieldCacheName, w.CacheName(), log.FieldError, err)
	}

	prev := c.active.Swap(w)
	if prev != nil {
		c.logger.InfoContext(ctx, "Offline worker replaced", "previous", prev.CacheName(), log.FieldCacheName, w.CacheName())
	} else {
		c.logger.InfoContext(ctx, "Offline worker claimed requests", log.FieldCacheName, w.CacheName())
	}
	return nil
}

func (c *Controller) recordInstall(outcome string) {
	if c.metrics != nil {
		c.metrics.IncrOfflineInstall(outcome)
	}
}

func (c *Controller) recordFetch(source string) {
	if c.metrics != nil {
		c.metrics.IncrOfflineFetch(source)
	}
}

// ServeHTTP answers r through the active worker, or straight from the
// network when none is active. Network failures become 502 Bad Gateway.
func (c *Controller) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		resp   *http.Response
		source string
		err    error
	)
	if w := c.active.Load(); w != nil {
		resp, source, err = w.fetch(ctx, r)
	} else {
		resp, source, err = c.passThrough(ctx, r)
	}
	c.recordFetch(source)

	if err != nil {
		c.logger.WarnContext(ctx, "Offline fetch failed", log.FieldPath, r.URL.Path, log.FieldError, err)
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			rw.Header().Add(k, v)
		}
	}
	rw.Header().Set("X-Cache", source)
	rw.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		io.Copy(rw, resp.Body)
	}
}

func (c *Controller) passThrough(ctx context.Context, r *http.Request) (*http.Response, string, error) {
	out, err := outboundRequest(ctx, c.network, r)
	if err != nil {
		return nil, SourceError, err
	}
	resp, err := c.network.Do(out)
	if err != nil {
		return nil, SourceError, err
	}
	return resp, SourceNetwork, nil
}
