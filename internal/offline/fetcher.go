package offline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// LocalOrigin is the origin used when the shell is served from an embedded
// filesystem instead of a remote host.
const LocalOrigin = "http://spese.local"

// Fetcher performs network requests on behalf of the offline cache.
type Fetcher interface {
	// Resolve turns a manifest entry or request URI into an absolute URL.
	Resolve(ref string) (*url.URL, error)
	Do(req *http.Request) (*http.Response, error)
}

// NetworkFetcher sends requests through an http.Client guarded by a
// circuit breaker. Relative references resolve against the origin.
type NetworkFetcher struct {
	base    *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

var _ Fetcher = (*NetworkFetcher)(nil)

// FetcherConfig configures NewNetworkFetcher.
type FetcherConfig struct {
	// Origin is the base URL of the app shell. Empty means Local.
	Origin string
	// Local serves origin requests in process when Origin is empty.
	Local   fs.FS
	Timeout time.Duration
	// Transport for remote requests; http.DefaultTransport when nil.
	Transport http.RoundTripper
}

func NewNetworkFetcher(cfg FetcherConfig) (*NetworkFetcher, error) {
	remote := cfg.Transport
	if remote == nil {
		remote = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	origin := cfg.Origin
	transport := remote
	if origin == "" {
		if cfg.Local == nil {
			return nil, errors.New("offline fetcher needs an origin URL or a local filesystem")
		}
		origin = LocalOrigin
		transport = &localTransport{host: hostOf(LocalOrigin), files: cfg.Local, next: remote}
	}

	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin URL %q must be absolute", origin)
	}

	return &NetworkFetcher{
		base:   base,
		client: &http.Client{Transport: transport, Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "offline-network",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.6
			},
		}),
	}, nil
}

func hostOf(raw string) string {
	u, _ := url.Parse(raw)
	return u.Host
}

// Origin returns the base URL relative references resolve against.
func (f *NetworkFetcher) Origin() *url.URL {
	u := *f.base
	return &u
}

func (f *NetworkFetcher) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", ref, err)
	}
	return f.base.ResolveReference(u), nil
}

// serverError marks a 5xx answer so the breaker counts it as a failure
// while the caller still receives the response.
type serverError struct {
	resp *http.Response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server returned %d", e.resp.StatusCode)
}

func (f *NetworkFetcher) Do(req *http.Request) (*http.Response, error) {
	result, err := f.breaker.Execute(func() (any, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &serverError{resp: resp}
		}
		return resp, nil
	})

	var se *serverError
	if errors.As(err, &se) {
		return se.resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	return result.(*http.Response), nil
}

// localTransport answers requests for host from files and forwards the
// rest to next.
type localTransport struct {
	host  string
	files fs.FS
	next  http.RoundTripper
}

func (t *localTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != t.host {
		return t.next.RoundTrip(req)
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.respond(req, http.StatusMethodNotAllowed, "text/plain; charset=utf-8", []byte("method not allowed\n")), nil
	}

	name := strings.TrimPrefix(path.Clean("/"+req.URL.Path), "/")
	if name == "" {
		name = "index.html"
	}
	data, err := fs.ReadFile(t.files, name)
	if errors.Is(err, fs.ErrNotExist) {
		return t.respond(req, http.StatusNotFound, "text/plain; charset=utf-8", []byte("404 page not found\n")), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	if req.Method == http.MethodHead {
		data = nil
	}
	return t.respond(req, http.StatusOK, ctype, data), nil
}

func (t *localTransport) respond(req *http.Request, status int, ctype string, body []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {ctype}},
		Body:          io.NopCloser(strings.NewReader(string(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
