package offline

import (
	"context"

	"spesebook/internal/cache"
)

// MemoryStorage keeps buckets in process memory.
type MemoryStorage struct {
	buckets *cache.MapCache[*memoryBucket]
}

var _ CacheStorage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: cache.NewMapCache[*memoryBucket]()}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Bucket, error) {
	b, _ := s.buckets.GetOrSet(name, &memoryBucket{entries: cache.NewMapCache[CachedResponse]()})
	return b, nil
}

func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	return s.buckets.Keys(), nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	_, ok := s.buckets.Get(name)
	s.buckets.Delete(name)
	return ok, nil
}

type memoryBucket struct {
	entries *cache.MapCache[CachedResponse]
}

func (b *memoryBucket) Match(_ context.Context, key string) (CachedResponse, bool, error) {
	r, ok := b.entries.Get(key)
	if !ok {
		return CachedResponse{}, false, nil
	}
	return r.Clone(), true, nil
}

func (b *memoryBucket) Put(_ context.Context, key string, resp CachedResponse) error {
	b.entries.Set(key, resp.Clone())
	return nil
}

func (b *memoryBucket) PutAll(_ context.Context, resps map[string]CachedResponse) error {
	for k, r := range resps {
		b.entries.Set(k, r.Clone())
	}
	return nil
}

func (b *memoryBucket) Keys(_ context.Context) ([]string, error) {
	return b.entries.Keys(), nil
}
