package optimistic

import (
	"context"
	"sync"
)

// Scope is a named-slot container standing in for a view's data context.
// Slots bound through ToScope are filled from the cache right away and
// reconciled in place when the backend answers.
type Scope struct {
	mu     sync.RWMutex
	fields map[string]any
	unsubs []func()
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{fields: make(map[string]any)}
}

// Get returns the value in slot field.
func (s *Scope) Get(field string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields[field]
}

// Set replaces the value in slot field.
func (s *Scope) Set(field string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[field] = v
}

// Close drops the cache subscriptions held by filtered bindings.
func (s *Scope) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (s *Scope) onClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs, fn)
}

// ScopeItem returns slot field as *T, or nil.
func ScopeItem[T any](s *Scope, field string) *T {
	v, _ := s.Get(field).(*T)
	return v
}

// ScopeList returns slot field as *List[T], or nil.
func ScopeList[T any](s *Scope, field string) *List[T] {
	v, _ := s.Get(field).(*List[T])
	return v
}

// updateScopeItem merges data into the slot unless the slot holds a different
// identity, in which case it is replaced. The service lock is held.
func updateScopeItem[T any](s *Scope, field string, data *T, idField string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.fields[field].(*T)
	if current != nil {
		currentID, _ := fieldValue(current, idField)
		dataID, _ := fieldValue(data, idField)
		if !isZeroID(currentID) && idString(currentID) != idString(dataID) {
			current = nil
		}
	}
	if current == nil {
		s.fields[field] = data
		return
	}
	mergeFields(current, data)
}

// updateScopeList merges data into the slot's list element by element.
// The service lock is held.
func updateScopeList[T any](s *Scope, field string, data *List[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := s.fields[field].(*List[T])
	if current == nil {
		s.fields[field] = data
		return
	}
	current.mergeFrom(data)
}

// ToScope fills slot field from the cache now and merges the call's result
// into it when the call succeeds. A cloned call binds a clone.
func (c *ItemCall[T]) ToScope(scope *Scope, field string) *Pending[*T] {
	m := c.model
	svc := m.svc

	svc.mu.Lock()
	if v, ok := svc.lookupLocked(c.key); ok {
		if obj, ok := v.(*T); ok {
			if c.cloned {
				var err error
				if obj, err = cloneEntity(obj); err != nil {
					svc.logger.Warn("scope prefill clone failed", "key", c.key, "err", err)
				}
			}
			if obj != nil {
				updateScopeItem(scope, field, obj, c.idField)
			}
		}
	}
	svc.mu.Unlock()

	out := newPending[*T]()
	c.Then(func(v *T, err error) {
		if err != nil {
			out.settle(nil, err)
			return
		}
		if v != nil {
			svc.mu.Lock()
			updateScopeItem(scope, field, v, c.idField)
			svc.mu.Unlock()
		}
		out.settle(ScopeItem[T](scope, field), nil)
	})
	return out
}

// ToScope fills slot field from the cached collection now and merges the
// call's result into it when the call succeeds. With a filter the slot holds
// only matching elements; a filtered, non-cloned binding also re-filters
// whenever the namespace changes in the cache, until scope is closed.
func (c *ListCall[T]) ToScope(scope *Scope, field string, filter ...func(*T) bool) *Pending[*List[T]] {
	m := c.model
	svc := m.svc
	var keep func(*T) bool
	if len(filter) > 0 {
		keep = filter[0]
	}
	view := func(l *List[T]) *List[T] {
		if keep == nil {
			return l
		}
		return l.filtered(keep)
	}

	svc.mu.Lock()
	if v, ok := svc.lookupLocked(c.key); ok {
		if list, ok := v.(*List[T]); ok {
			if c.cloned {
				var err error
				if list, err = m.cloneListLocked(list); err != nil {
					svc.logger.Warn("scope prefill clone failed", "key", c.key, "err", err)
				}
			}
			if list != nil {
				updateScopeList(scope, field, view(list))
			}
		}
	}
	svc.mu.Unlock()

	if keep != nil && !c.cloned {
		unsub := svc.Subscribe(TopicAll, ListenerFunc(func(_ context.Context, ev Event) {
			if ev.Kind != EventCached && ev.Kind != EventRemoved {
				return
			}
			if !inNamespace(ev.Key, c.namespace) {
				return
			}
			svc.mu.Lock()
			defer svc.mu.Unlock()
			if cached, ok := svc.store.get(c.key); ok {
				if list, ok := cached.(*List[T]); ok {
					updateScopeList(scope, field, list.filtered(keep))
				}
			}
		}))
		scope.onClose(unsub)
	}

	out := newPending[*List[T]]()
	c.Then(func(v *List[T], err error) {
		if err != nil {
			out.settle(nil, err)
			return
		}
		if v != nil {
			svc.mu.Lock()
			updateScopeList(scope, field, view(v))
			svc.mu.Unlock()
		}
		out.settle(ScopeList[T](scope, field), nil)
	})
	return out
}
