package kvbackend

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

type memoryStore struct {
	cache *gocache.Cache
	// mu serializes read-modify-write counters.
	mu sync.Mutex
}

func newMemoryStore() Store {
	return &memoryStore{cache: gocache.New(gocache.NoExpiration, 0)}
}

func (s *memoryStore) Driver() Driver {
	return DriverMemory
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(body), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte) error {
	s.cache.Set(key, cloneBytes(value), gocache.NoExpiration)
	return nil
}

func (s *memoryStore) Add(_ context.Context, key string, value []byte) (bool, error) {
	if err := s.cache.Add(key, cloneBytes(value), gocache.NoExpiration); err != nil {
		// go-cache reports an existing key as its only Add error.
		return false, nil
	}
	return true, nil
}

func (s *memoryStore) Increment(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if item, ok := s.cache.Get(key); ok {
		body, _ := item.([]byte)
		n, err := parseCounter(key, body)
		if err != nil {
			return 0, err
		}
		current = n
	}
	next := current + delta
	s.cache.Set(key, []byte(strconv.FormatInt(next, 10)), gocache.NoExpiration)
	return next, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *memoryStore) Flush(_ context.Context) error {
	s.cache.Flush()
	return nil
}

func parseCounter(key string, body []byte) (int64, error) {
	if len(body) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("key %q does not contain a numeric value", key)
	}
	return n, nil
}
