package clientdata

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/cyberinferno/go-sockets/message"
)

// MemoryStore keeps client data in process, on top of go-cache.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates a MemoryStore. Entries expire after ttl; pass
// cache.NoExpiration to keep them until deleted. cleanupInterval is how often
// expired entries are purged.
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key string, data message.ClientData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Set(key, cloneData(data), s.ttl)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (message.ClientData, bool, error) {
	if err := ctx.Err(); err != nil {
		return message.ClientData{}, false, err
	}

	v, found := s.cache.Get(key)
	if !found {
		return message.ClientData{}, false, nil
	}

	data, ok := v.(message.ClientData)
	if !ok {
		return message.ClientData{}, false, nil
	}

	return cloneData(data), true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Delete(key)
	return nil
}

// DeletePrefix implements Store.
func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	for key := range s.cache.Items() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
			deleted++
		}
	}

	return deleted, nil
}

// Count implements Store. Expired entries not yet evicted are skipped.
func (s *MemoryStore) Count(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}

	return n, nil
}

func cloneData(d message.ClientData) message.ClientData {
	if d.Meta == nil {
		return d
	}

	meta := make(map[string]string, len(d.Meta))
	for k, v := range d.Meta {
		meta[k] = v
	}

	d.Meta = meta
	return d
}
