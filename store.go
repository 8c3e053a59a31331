package optimistic

import (
	gocache "github.com/patrickmn/go-cache"
)

// listMerger is implemented by List.
type listMerger interface {
	mergeFrom(src any)
}

// keyedStore maps cache keys to reference-stable entries. Expiry is handled
// by the expiry manager, so the underlying cache never expires items and
// runs no janitor. All methods are called with the service lock held.
type keyedStore struct {
	items *gocache.Cache
}

func newKeyedStore() *keyedStore {
	return &keyedStore{items: gocache.New(gocache.NoExpiration, 0)}
}

func (s *keyedStore) get(key string) (any, bool) {
	return s.items.Get(key)
}

// put stores data under key, or merges it into the entry already there, and
// returns the stored entry. A nil data leaves the store unchanged.
func (s *keyedStore) put(key string, data any) any {
	current, ok := s.items.Get(key)
	if data == nil {
		return current
	}
	if !ok || current == nil {
		if e := entityOf(data); e != nil {
			e.present = nil
		}
		s.items.Set(key, data, gocache.NoExpiration)
		return data
	}
	mergeEntry(current, data)
	return current
}

func mergeEntry(dst, src any) {
	if l, ok := dst.(listMerger); ok {
		l.mergeFrom(src)
		return
	}
	mergeFields(dst, src)
}

func (s *keyedStore) delete(key string) {
	s.items.Delete(key)
}

func (s *keyedStore) clear() {
	s.items.Flush()
}

func (s *keyedStore) keys() []string {
	items := s.items.Items()
	out := make([]string, 0, len(items))
	for k := range items {
		out = append(out, k)
	}
	return out
}

func (s *keyedStore) count() int {
	return s.items.ItemCount()
}
