package optimistic

import (
	"context"
	"reflect"
)

// Model is the CRUD surface of one entity type. It shares its Service's cache
// with every other model registered there.
type Model[T any] struct {
	svc  *Service
	cfg  ModelConfig
	name string
}

// ItemCall is the pending result of a single-entity operation.
type ItemCall[T any] struct {
	*Pending[*T]
	model   *Model[T]
	key     string
	idField string
	cloned  bool
}

// Key returns the cache key the call reads or writes.
func (c *ItemCall[T]) Key() string { return c.key }

// ListCall is the pending result of a collection read.
type ListCall[T any] struct {
	*Pending[*List[T]]
	model     *Model[T]
	key       string
	namespace string
	cloned    bool
}

// Key returns the collection key the call reads.
func (c *ListCall[T]) Key() string { return c.key }

// Register binds T to namespace on svc. T must be a struct embedding Entity
// and may be registered once per Service.
func Register[T any](svc *Service, namespace string, opts ...ModelOption) (*Model[T], error) {
	if svc == nil {
		return nil, configError("register with nil service")
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, configError("%s is not a struct", t)
	}
	if entityOf(new(T)) == nil {
		return nil, configError("%s does not embed optimistic.Entity", t)
	}

	cfg := svc.modelDefaults()
	cfg.Namespace = namespace
	for _, opt := range opts {
		if opt != nil {
			cfg = opt(cfg)
		}
	}
	cfg = cfg.withDefaults()
	if cfg.Namespace == "" {
		return nil, configError("%s registered without a namespace", t)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if ns, ok := svc.registered[t]; ok {
		return nil, configError("%s already registered at %s", t, ns)
	}
	svc.registered[t] = cfg.Namespace
	svc.logger.Debug("model registered", "type", t.String(), "namespace", cfg.Namespace)
	return &Model[T]{svc: svc, cfg: cfg, name: t.Name()}, nil
}

// Config returns the model's effective configuration.
func (m *Model[T]) Config() ModelConfig { return m.cfg }

// Service returns the service the model is registered on.
func (m *Model[T]) Service() *Service { return m.svc }

func (m *Model[T]) options(opts []ModelOption) ModelConfig {
	cfg := m.cfg
	for _, opt := range opts {
		if opt != nil {
			cfg = opt(cfg)
		}
	}
	return cfg.withDefaults()
}

func settled[V any](v V, err error) *Pending[V] {
	p := newPending[V]()
	p.settle(v, err)
	return p
}

func (m *Model[T]) call(ctx context.Context, cfg ModelConfig, req Request) (any, error) {
	if cfg.Backend == nil {
		return nil, configError("model %s has no backend", m.name)
	}
	m.svc.logger.Debug("backend call", "op", req.Operation, "method", req.Method, "url", req.URL)
	resp, err := cfg.Backend.Do(ctx, req)
	if err != nil {
		m.svc.logger.Warn("backend call failed", "op", req.Operation, "method", req.Method, "url", req.URL, "err", err)
		return nil, &BackendError{Operation: req.Operation, Method: req.Method, URL: req.URL, Err: err}
	}
	return resp, nil
}

// GetAll fetches the collection. With UseCached a cached collection resolves
// immediately; otherwise the response is merged into the cached list.
func (m *Model[T]) GetAll(ctx context.Context, opts ...ModelOption) *ListCall[T] {
	cfg := m.options(opts)
	key := CollectionKey(cfg.Namespace, cfg.Query)
	call := &ListCall[T]{model: m, key: key, namespace: cfg.Namespace, cloned: cfg.Cloned}
	if cfg.UseCached {
		if list, ok, err := m.cachedList(key, cfg.Cloned); ok || err != nil {
			call.Pending = settled(list, err)
			return call
		}
	}
	call.Pending = newPending[*List[T]]()
	go func() {
		call.settle(m.fetchAll(ctx, cfg, key))
	}()
	return call
}

// Get fetches one entity by identity.
func (m *Model[T]) Get(ctx context.Context, id any, opts ...ModelOption) *ItemCall[T] {
	cfg := m.options(opts)
	key := ItemKey(cfg.Namespace, id)
	call := &ItemCall[T]{model: m, key: key, idField: cfg.IDField, cloned: cfg.Cloned}
	if cfg.UseCached && cfg.UseCachedChildren {
		if obj, ok, err := m.cachedItem(key, cfg.Cloned); ok || err != nil {
			call.Pending = settled(obj, err)
			return call
		}
	}
	call.Pending = newPending[*T]()
	go func() {
		call.settle(m.fetch(ctx, cfg, key))
	}()
	return call
}

// GetCached is Get with UseCached.
func (m *Model[T]) GetCached(ctx context.Context, id any, opts ...ModelOption) *ItemCall[T] {
	return m.Get(ctx, id, append(opts, UseCached())...)
}

// GetClone is Get resolving with a clone of the cached entity.
func (m *Model[T]) GetClone(ctx context.Context, id any, opts ...ModelOption) *ItemCall[T] {
	return m.Get(ctx, id, append(opts, Cloned())...)
}

// GetSync returns the cached entity without a backend call. The model must
// be registered with UseCached.
func (m *Model[T]) GetSync(id any) (*T, error) {
	if !m.cfg.UseCached {
		return nil, configError("GetSync on %s requires UseCached", m.name)
	}
	v, _ := m.svc.Lookup(ItemKey(m.cfg.Namespace, id))
	obj, _ := v.(*T)
	return obj, nil
}

// GetAllSync returns the cached collection without a backend call. The model
// must be registered with UseCached.
func (m *Model[T]) GetAllSync() (*List[T], error) {
	if !m.cfg.UseCached {
		return nil, configError("GetAllSync on %s requires UseCached", m.name)
	}
	v, _ := m.svc.Lookup(m.cfg.Namespace)
	list, _ := v.(*List[T])
	return list, nil
}

func (m *Model[T]) cachedList(key string, cloned bool) (*List[T], bool, error) {
	m.svc.mu.Lock()
	defer m.svc.mu.Unlock()
	v, ok := m.svc.lookupLocked(key)
	list, isList := v.(*List[T])
	if !ok || !isList {
		return nil, false, nil
	}
	if cloned {
		c, err := m.cloneListLocked(list)
		return c, true, err
	}
	return list, true, nil
}

func (m *Model[T]) cachedItem(key string, cloned bool) (*T, bool, error) {
	m.svc.mu.Lock()
	defer m.svc.mu.Unlock()
	v, ok := m.svc.lookupLocked(key)
	obj, isItem := v.(*T)
	if !ok || !isItem {
		return nil, false, nil
	}
	if cloned {
		c, err := cloneEntity(obj)
		return c, true, err
	}
	return obj, true, nil
}

func (m *Model[T]) fetchAll(ctx context.Context, cfg ModelConfig, key string) (*List[T], error) {
	resp, err := m.call(ctx, cfg, Request{Method: MethodGet, URL: key, Operation: OpGetAll})
	if err != nil {
		return nil, err
	}
	items, err := newInstances[T](resp)
	if err != nil {
		return nil, err
	}
	var out *List[T]
	err = m.svc.commit(ctx, func(tx *txn) error {
		list := m.fillLocked(tx, cfg, key, items)
		if !cfg.Cloned {
			out = list
			return nil
		}
		var err error
		out, err = m.cloneListLocked(list)
		return err
	})
	return out, err
}

func (m *Model[T]) fetch(ctx context.Context, cfg ModelConfig, key string) (*T, error) {
	resp, err := m.call(ctx, cfg, Request{Method: MethodGet, URL: key, Operation: OpGet})
	if err != nil {
		return nil, err
	}
	obj, err := newInstance[T](resp)
	if err != nil {
		return nil, err
	}
	var out *T
	err = m.svc.commit(ctx, func(tx *txn) error {
		cached, ok := tx.put(key, obj, cfg.CacheLife).(*T)
		if !ok {
			cached = obj
		}
		if !cfg.Cloned {
			out = cached
			return nil
		}
		var err error
		out, err = cloneEntity(cached)
		return err
	})
	return out, err
}

// fillLocked stores items as the collection under key. With PopulateChildren
// each element is merged into its item key first and the list holds the
// cached item references.
func (m *Model[T]) fillLocked(tx *txn, cfg ModelConfig, key string, items []*T) *List[T] {
	stored := make([]*T, 0, len(items))
	for _, obj := range items {
		if cfg.PopulateChildren {
			if id, ok := fieldValue(obj, cfg.IDField); ok && !isZeroID(id) {
				if cached, ok := tx.put(ItemKey(cfg.Namespace, id), obj, cfg.CacheLife).(*T); ok {
					obj = cached
				}
			}
		}
		stored = append(stored, obj)
	}
	fresh := newList(&m.svc.mu, stored)
	if list, ok := tx.put(key, fresh, cfg.CacheLife).(*List[T]); ok {
		return list
	}
	return fresh
}

// Cache pre-fills the cache. A list goes under the namespace key, an entity
// under its item key.
func (m *Model[T]) Cache(data any) error {
	return m.CacheAt("", data)
}

// CacheAt pre-fills key with data. An empty key is derived as in Cache.
func (m *Model[T]) CacheAt(key string, data any) error {
	cfg := m.cfg
	n, err := normalize(data)
	if err != nil {
		return err
	}
	ctx := context.Background()
	switch v := n.(type) {
	case nil:
		return nil
	case []any:
		items, err := newInstances[T](v)
		if err != nil {
			return err
		}
		if key == "" {
			key = cfg.Namespace
		}
		return m.svc.commit(ctx, func(tx *txn) error {
			m.fillLocked(tx, cfg, key, items)
			return nil
		})
	case map[string]any:
		obj, err := newInstance[T](v)
		if err != nil {
			return err
		}
		if key == "" {
			id, _ := fieldValue(obj, cfg.IDField)
			if isZeroID(id) {
				return configError("cannot derive a cache key for %s without %q", m.name, cfg.IDField)
			}
			key = ItemKey(cfg.Namespace, id)
		}
		return m.svc.commit(ctx, func(tx *txn) error {
			tx.put(key, obj, cfg.CacheLife)
			return nil
		})
	default:
		return configError("cannot cache %T as %s", data, m.name)
	}
}

// Update sends obj (or only the named fields) to the backend and merges the
// response into the cache and back onto obj. obj's snapshot is cleared.
func (m *Model[T]) Update(ctx context.Context, obj *T, fields ...string) *ItemCall[T] {
	cfg := m.cfg
	call := &ItemCall[T]{model: m, idField: cfg.IDField}
	if obj == nil {
		call.Pending = rejected[*T](stateError("update of nil %s", m.name))
		return call
	}
	m.svc.mu.RLock()
	id, _ := fieldValue(obj, cfg.IDField)
	full, err := rawObject(obj)
	m.svc.mu.RUnlock()
	if err != nil {
		call.Pending = rejected[*T](err)
		return call
	}
	if isZeroID(id) {
		call.Pending = rejected[*T](stateError("update of %s without %q", m.name, cfg.IDField))
		return call
	}

	key := ItemKey(cfg.Namespace, id)
	call.key = key
	body := full
	if len(fields) > 0 {
		body = project(full, fields)
	}
	req := Request{Method: MethodPut, URL: key, Body: body, Operation: OpUpdate, Instance: obj}

	m.svc.emit(ctx, EventUpdateStarted, key, obj, nil)
	call.Pending = newPending[*T]()
	go func() {
		out, err := m.write(ctx, cfg, req, obj, full, id)
		m.svc.emit(ctx, EventUpdateEnded, key, obj, err)
		call.settle(out, err)
	}()
	return call
}

// Create posts a new entity. data is a *T or any raw payload. On success the
// created entity is cached, appended to the cached collection and merged back
// onto the caller's *T, whose origin becomes the cached entity.
func (m *Model[T]) Create(ctx context.Context, data any) *ItemCall[T] {
	cfg := m.cfg
	call := &ItemCall[T]{model: m, key: cfg.Namespace, idField: cfg.IDField}
	obj, ok := data.(*T)
	if !ok || obj == nil {
		built, err := newInstance[T](data)
		if err != nil {
			call.Pending = rejected[*T](err)
			return call
		}
		obj = built
	}
	m.svc.mu.RLock()
	body, err := rawObject(obj)
	m.svc.mu.RUnlock()
	if err != nil {
		call.Pending = rejected[*T](err)
		return call
	}
	req := Request{Method: MethodPost, URL: cfg.Namespace, Body: body, Operation: OpCreate, Instance: obj}

	m.svc.emit(ctx, EventCreateStarted, cfg.Namespace, obj, nil)
	call.Pending = newPending[*T]()
	go func() {
		out, err := m.write(ctx, cfg, req, obj, body, nil)
		m.svc.emit(ctx, EventCreateEnded, cfg.Namespace, obj, err)
		call.settle(out, err)
	}()
	return call
}

// write performs a create or update and reconciles the echoed entity.
// fallback stands in for an empty response body; knownID fills in an
// identity the echo leaves out.
func (m *Model[T]) write(ctx context.Context, cfg ModelConfig, req Request, obj *T, fallback Raw, knownID any) (*T, error) {
	resp, err := m.call(ctx, cfg, req)
	if err != nil {
		return nil, err
	}
	echoed, err := normalize(resp)
	if err != nil {
		return nil, err
	}
	if echoed == nil {
		echoed = fallback
	}
	if raw, ok := echoed.(map[string]any); ok && !isZeroID(knownID) {
		if _, has := raw[cfg.IDField]; !has {
			withID := make(Raw, len(raw)+1)
			for k, v := range raw {
				withID[k] = v
			}
			withID[cfg.IDField] = knownID
			echoed = withID
		}
	}
	fresh, err := newInstance[T](echoed)
	if err != nil {
		return nil, err
	}
	echo, err := newInstance[T](echoed)
	if err != nil {
		return nil, err
	}
	id, _ := fieldValue(fresh, cfg.IDField)

	var out *T
	err = m.svc.commit(ctx, func(tx *txn) error {
		e := entityOf(obj)
		if isZeroID(id) {
			mergeFields(obj, echo)
			e.snapshot = nil
			out = obj
			return nil
		}
		key := ItemKey(cfg.Namespace, id)
		cached, ok := tx.put(key, fresh, cfg.CacheLife).(*T)
		if !ok {
			cached = fresh
		}
		if obj != cached {
			mergeFields(obj, echo)
			if req.Operation == OpCreate {
				e.origin = cached
			}
		}
		e.snapshot = nil
		if req.Operation == OpCreate {
			m.appendToParentLocked(tx, cfg, id, cached)
		}
		out = cached
		return nil
	})
	return out, err
}

func (m *Model[T]) appendToParentLocked(tx *txn, cfg ModelConfig, id any, item *T) {
	v, ok := tx.get(cfg.Namespace)
	list, isList := v.(*List[T])
	if !ok || !isList || list.indexOf(cfg.IDField, id) >= 0 {
		return
	}
	list.appendItem(item)
	tx.notify(cfg.Namespace, list)
}

// Delete destroys an entity given as *T, raw object or bare identity. On
// success the item key is removed and the entity is spliced out of every
// cached collection of the namespace.
func (m *Model[T]) Delete(ctx context.Context, objOrID any) *Pending[struct{}] {
	cfg := m.cfg
	id := objOrID
	m.svc.mu.RLock()
	if v, ok := fieldValue(objOrID, cfg.IDField); ok {
		id = v
	}
	m.svc.mu.RUnlock()
	if isZeroID(id) {
		return rejected[struct{}](stateError("delete of %s without %q", m.name, cfg.IDField))
	}

	key := ItemKey(cfg.Namespace, id)
	m.svc.emit(ctx, EventDeleteStarted, key, objOrID, nil)
	p := newPending[struct{}]()
	go func() {
		_, err := m.call(ctx, cfg, Request{Method: MethodDelete, URL: key, Operation: OpDestroy, Instance: objOrID})
		if err == nil {
			err = m.svc.commit(ctx, func(tx *txn) error {
				if _, ok := tx.s.store.get(key); ok {
					tx.remove(key)
				}
				for _, ck := range tx.collectionKeys(cfg.Namespace) {
					v, _ := tx.get(ck)
					if list, ok := v.(*List[T]); ok && list.removeID(cfg.IDField, id) {
						tx.notify(ck, list)
					}
				}
				return nil
			})
		}
		m.svc.emit(ctx, EventDeleteEnded, key, objOrID, err)
		p.settle(struct{}{}, err)
	}()
	return p
}

// Save creates obj when it has no identity and updates it otherwise. A
// snapshot held before the call is retaken after success.
func (m *Model[T]) Save(ctx context.Context, obj *T) *ItemCall[T] {
	if obj == nil {
		return &ItemCall[T]{model: m, idField: m.cfg.IDField, Pending: rejected[*T](stateError("save of nil %s", m.name))}
	}
	m.svc.mu.RLock()
	id, _ := fieldValue(obj, m.cfg.IDField)
	hadSnapshot := entityOf(obj).snapshot != nil
	m.svc.mu.RUnlock()

	key := m.cfg.Namespace
	if !isZeroID(id) {
		key = ItemKey(m.cfg.Namespace, id)
	}
	m.svc.emit(ctx, EventSaveStarted, key, obj, nil)

	var inner *ItemCall[T]
	if isZeroID(id) {
		inner = m.Create(ctx, obj)
	} else {
		inner = m.Update(ctx, obj)
	}
	call := &ItemCall[T]{model: m, key: inner.key, idField: inner.idField, Pending: newPending[*T]()}
	inner.Then(func(v *T, err error) {
		if err == nil && hadSnapshot {
			if serr := m.Snapshot(obj); serr != nil {
				m.svc.logger.Warn("snapshot after save failed", "type", m.name, "err", serr)
			}
		}
		m.svc.emit(ctx, EventSaveEnded, key, obj, err)
		call.settle(v, err)
	})
	return call
}
