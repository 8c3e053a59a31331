package optimistic

import (
	"reflect"
)

// Entity is embedded by every cached model type. It carries the clone origin
// and the change-tracking snapshot; neither is ever serialised.
//
//	type Person struct {
//		optimistic.Entity
//		ID        int    `json:"id,omitempty"`
//		FirstName string `json:"first_name,omitempty"`
//	}
type Entity struct {
	origin   any
	snapshot any
	// present lists the payload fields of an instance that has not reached
	// the cache yet; nil means every field is authoritative.
	present fieldSet
}

func (e *Entity) trackedEntity() *Entity { return e }

type tracked interface {
	trackedEntity() *Entity
}

func entityOf(v any) *Entity {
	if t, ok := v.(tracked); ok {
		return t.trackedEntity()
	}
	return nil
}

// cloneEntity builds an independent copy of x whose origin points back at x.
// Callers hold the service lock when x may be shared.
func cloneEntity[T any](x *T) (*T, error) {
	if x == nil {
		return nil, nil
	}
	c, err := newInstance[T](x)
	if err != nil {
		return nil, err
	}
	if e := entityOf(c); e != nil {
		e.origin = x
		e.present = nil
	}
	return c, nil
}

func (m *Model[T]) cloneListLocked(l *List[T]) (*List[T], error) {
	if l == nil {
		return nil, nil
	}
	items := make([]*T, 0, len(l.items))
	for _, item := range l.items {
		c, err := cloneEntity(item)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return newList(&m.svc.mu, items), nil
}

// Clone returns an independent copy of x linked back to it.
func (m *Model[T]) Clone(x *T) (*T, error) {
	m.svc.mu.RLock()
	defer m.svc.mu.RUnlock()
	return cloneEntity(x)
}

// CloneList clones every element of l into a new list.
func (m *Model[T]) CloneList(l *List[T]) (*List[T], error) {
	m.svc.mu.RLock()
	defer m.svc.mu.RUnlock()
	return m.cloneListLocked(l)
}

// Origin returns the entity x was cloned from, or nil.
func (m *Model[T]) Origin(x *T) *T {
	if x == nil {
		return nil
	}
	m.svc.mu.RLock()
	defer m.svc.mu.RUnlock()
	origin, _ := entityOf(x).origin.(*T)
	return origin
}

// trackable reports whether x may be snapshotted: unsaved, or a clone.
func (m *Model[T]) trackable(x *T) bool {
	id, _ := fieldValue(x, m.cfg.IDField)
	return isZeroID(id) || entityOf(x).origin != nil
}

// Snapshot stores a frozen copy of x for later change detection.
func (m *Model[T]) Snapshot(x *T) error {
	if x == nil {
		return stateError("snapshot of nil %s", m.name)
	}
	m.svc.mu.Lock()
	defer m.svc.mu.Unlock()
	return m.snapshotLocked(x)
}

func (m *Model[T]) snapshotLocked(x *T) error {
	if !m.trackable(x) {
		return stateError("snapshot requires an unsaved %s or a clone", m.name)
	}
	snap, err := cloneEntity(x)
	if err != nil {
		return err
	}
	entityOf(x).snapshot = snap
	return nil
}

// HasChanges compares x against its snapshot, else its origin, else a blank
// instance. Private fields are ignored.
func (m *Model[T]) HasChanges(x *T) (bool, error) {
	if x == nil {
		return false, stateError("change check of nil %s", m.name)
	}
	m.svc.mu.RLock()
	defer m.svc.mu.RUnlock()

	e := entityOf(x)
	if e.snapshot == nil && !m.trackable(x) {
		return false, stateError("change tracking requires an unsaved %s or a clone", m.name)
	}
	current, err := cloneEntity(x)
	if err != nil {
		return false, err
	}
	currentRaw, err := rawObject(current)
	if err != nil {
		return false, err
	}

	var base any = new(T)
	switch {
	case e.snapshot != nil:
		base = e.snapshot
	case e.origin != nil:
		base = e.origin
	}
	baseRaw, err := rawObject(base)
	if err != nil {
		return false, err
	}
	return !reflect.DeepEqual(currentRaw, baseRaw), nil
}
