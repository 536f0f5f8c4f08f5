package offline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// CachedResponse is a stored copy of a network response.
type CachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone returns a deep copy so callers never share header maps or bodies.
func (c CachedResponse) Clone() CachedResponse {
	return CachedResponse{
		Status:   c.Status,
		Header:   c.Header.Clone(),
		Body:     bytes.Clone(c.Body),
		StoredAt: c.StoredAt,
	}
}

// Response rebuilds an *http.Response for req from the stored copy.
func (c CachedResponse) Response(req *http.Request) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        strconv.Itoa(c.Status) + " " + http.StatusText(c.Status),
		StatusCode:    c.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// Bucket is one named cache: request keys mapped to stored responses.
// Implementations are safe for concurrent use.
type Bucket interface {
	Match(ctx context.Context, key string) (CachedResponse, bool, error)
	Put(ctx context.Context, key string, resp CachedResponse) error
	// PutAll stores every response or none of them.
	PutAll(ctx context.Context, resps map[string]CachedResponse) error
	Keys(ctx context.Context) ([]string, error)
}

// CacheStorage holds the named buckets.
type CacheStorage interface {
	// Open returns the bucket called name, creating it when missing.
	Open(ctx context.Context, name string) (Bucket, error)
	// Names lists existing buckets in sorted order.
	Names(ctx context.Context) ([]string, error)
	// Delete removes a bucket and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// RequestKey identifies a cached request by method and absolute URL.
func RequestKey(method, absURL string) string {
	return method + " " + absURL
}
