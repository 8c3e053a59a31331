// Package kvbackend serves optimistic model requests from a key/value Store,
// for offline use, local development and tests.
//
// Records live at their item URL ("/api/people/1"), each collection keeps a
// JSON array of member identities at its own URL ("/api/people") and new
// identities are drawn from a counter at "<collection>#seq".
package kvbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/goforj/optimistic"
)

const (
	defaultIDField = "id"
	seqSuffix      = "#seq"
)

// Option configures a Backend.
type Option func(*Backend)

// WithIDField sets the identity property of stored records. Defaults to "id".
func WithIDField(field string) Option {
	return func(b *Backend) {
		if field != "" {
			b.idField = field
		}
	}
}

// WithLogger sets the backend logger. Defaults to discarding.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Backend implements optimistic.Backend over a Store.
type Backend struct {
	store   Store
	idField string
	logger  *slog.Logger
	// mu serializes collection index rewrites.
	mu sync.Mutex
}

// New builds a Backend persisting through store.
func New(store Store, opts ...Option) *Backend {
	b := &Backend{
		store:   store,
		idField: defaultIDField,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Store returns the underlying store.
func (b *Backend) Store() Store { return b.store }

// Do implements optimistic.Backend. Responses are raw JSON; a destroy
// answers with nil.
func (b *Backend) Do(ctx context.Context, req optimistic.Request) (any, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, b.status(req, http.StatusBadRequest, err.Error())
	}
	path := strings.TrimRight(u.Path, "/")
	b.logger.Debug("kv request", "op", req.Operation, "method", req.Method, "path", path, "driver", b.store.Driver())

	switch b.route(ctx, req, path) {
	case optimistic.OpGetAll:
		return b.list(ctx, req, path, u.Query())
	case optimistic.OpGet:
		return b.get(ctx, req, path)
	case optimistic.OpCreate:
		return b.create(ctx, req, path)
	case optimistic.OpUpdate:
		return b.update(ctx, req, path)
	case optimistic.OpDestroy:
		return nil, b.destroy(ctx, req, path)
	}
	return nil, b.status(req, http.StatusBadRequest, "unsupported method "+req.Method)
}

// route picks the operation, falling back to the method when the request
// carries none. A GET is a collection read when an index exists at path.
func (b *Backend) route(ctx context.Context, req optimistic.Request, path string) optimistic.Operation {
	if req.Operation != "" {
		return req.Operation
	}
	switch req.Method {
	case optimistic.MethodGet:
		raw, ok, err := b.store.Get(ctx, path)
		if err == nil && ok && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			return optimistic.OpGetAll
		}
		return optimistic.OpGet
	case optimistic.MethodPost:
		return optimistic.OpCreate
	case optimistic.MethodPut:
		return optimistic.OpUpdate
	case optimistic.MethodDelete:
		return optimistic.OpDestroy
	}
	return ""
}

func (b *Backend) list(ctx context.Context, req optimistic.Request, ns string, query url.Values) (any, error) {
	ids, err := b.index(ctx, ns)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		body, ok, err := b.store.Get(ctx, ns+"/"+id)
		if err != nil {
			return nil, err
		}
		if !ok {
			b.logger.Warn("kv index references missing record", "collection", ns, "id", id)
			continue
		}
		if len(query) > 0 {
			rec, err := decodeRecord(body)
			if err != nil {
				return nil, err
			}
			if !matches(rec, query) {
				continue
			}
		}
		out = append(out, body)
	}
	return marshalRaw(out)
}

func (b *Backend) get(ctx context.Context, req optimistic.Request, key string) (any, error) {
	body, ok, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, b.status(req, http.StatusNotFound, "")
	}
	return json.RawMessage(body), nil
}

func (b *Backend) create(ctx context.Context, req optimistic.Request, ns string) (any, error) {
	rec, err := requestRecord(req)
	if err != nil {
		return nil, b.status(req, http.StatusBadRequest, err.Error())
	}
	id, ok := recordID(rec, b.idField)
	if !ok {
		n, err := b.store.Increment(ctx, ns+seqSuffix, 1)
		if err != nil {
			return nil, err
		}
		id = strconv.FormatInt(n, 10)
		rec[b.idField] = n
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	added, err := b.store.Add(ctx, ns+"/"+id, body)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, b.status(req, http.StatusConflict, fmt.Sprintf("%s %q exists", b.idField, id))
	}
	if err := b.editIndex(ctx, ns, func(ids []string) []string {
		if slices.Contains(ids, id) {
			return ids
		}
		return append(ids, id)
	}); err != nil {
		return nil, err
	}
	b.logger.Debug("kv record created", "collection", ns, "id", id)
	return json.RawMessage(body), nil
}

// update overlays the request fields on the stored record.
func (b *Backend) update(ctx context.Context, req optimistic.Request, key string) (any, error) {
	body, ok, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, b.status(req, http.StatusNotFound, "")
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return nil, err
	}
	patch, err := requestRecord(req)
	if err != nil {
		return nil, b.status(req, http.StatusBadRequest, err.Error())
	}
	id := rec[b.idField]
	for k, v := range patch {
		rec[k] = v
	}
	rec[b.idField] = id

	body, err = json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := b.store.Set(ctx, key, body); err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (b *Backend) destroy(ctx context.Context, req optimistic.Request, key string) error {
	ns, id, ok := splitItemKey(key)
	if !ok {
		return b.status(req, http.StatusBadRequest, "not an item url")
	}
	if _, found, err := b.store.Get(ctx, key); err != nil {
		return err
	} else if !found {
		return b.status(req, http.StatusNotFound, "")
	}
	if err := b.store.Delete(ctx, key); err != nil {
		return err
	}
	return b.editIndex(ctx, ns, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(s string) bool { return s == id })
	})
}

func (b *Backend) index(ctx context.Context, ns string) ([]string, error) {
	raw, ok, err := b.store.Get(ctx, ns)
	if err != nil || !ok {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("kvbackend: index %s: %w", ns, err)
	}
	return ids, nil
}

func (b *Backend) editIndex(ctx context.Context, ns string, edit func([]string) []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids, err := b.index(ctx, ns)
	if err != nil {
		return err
	}
	ids = edit(ids)
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return b.store.Set(ctx, ns, raw)
}

func (b *Backend) status(req optimistic.Request, code int, reason string) error {
	return &StatusError{Method: req.Method, URL: req.URL, Code: code, Reason: reason}
}

func requestRecord(req optimistic.Request) (map[string]any, error) {
	if req.Body == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(req.Body)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("body is not an object")
	}
	return rec, nil
}

func decodeRecord(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func marshalRaw(items []json.RawMessage) (any, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// recordID returns the record's identity as a key segment; zero values
// count as absent.
func recordID(rec map[string]any, field string) (string, bool) {
	switch v := rec[field].(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case json.Number:
		s := v.String()
		return s, s != "0"
	case bool:
		return "", false
	default:
		s := fmt.Sprint(v)
		return s, s != "0" && s != ""
	}
}

func splitItemKey(key string) (ns, id string, ok bool) {
	i := strings.LastIndex(key, "/")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// matches applies equality filters; a record matches when every queried
// field renders to one of the query's values.
func matches(rec map[string]any, query url.Values) bool {
	for field, want := range query {
		got, ok := rec[field]
		if !ok || !slices.Contains(want, render(got)) {
			return false
		}
	}
	return true
}

func render(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(x)
		return string(raw)
	}
}
