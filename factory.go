package optimistic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Raw is the decoded, serialisable form of an entity.
type Raw = map[string]any

// RawDecoder lets an entity populate itself from a raw payload instead of the
// generic field assignment.
type RawDecoder interface {
	FromRaw(raw Raw) error
}

// RawEncoder lets an entity define its own serialised form. Its output is used
// for request bodies, clones and change detection.
type RawEncoder interface {
	ToRaw() (Raw, error)
}

// rawLister is implemented by List so collections normalise element-wise.
type rawLister interface {
	rawItems() []any
}

// normalize converts v into decoded JSON form (map[string]any, []any,
// json.Number, string, bool or nil). The result never aliases v.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if enc, ok := v.(RawEncoder); ok {
		raw, err := enc.ToRaw()
		if err != nil {
			return nil, fmt.Errorf("optimistic: encode %T: %w", v, err)
		}
		return decodeJSON(raw)
	}
	switch val := v.(type) {
	case json.RawMessage:
		return decodeBytes(val)
	case []byte:
		return decodeBytes(val)
	case rawLister:
		return normalizeSlice(val.rawItems())
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return normalizeSlice(items)
	}
	return decodeJSON(v)
}

func normalizeSlice(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		n, err := normalize(item)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func decodeJSON(v any) (any, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("optimistic: encode %T: %w", v, err)
	}
	return decodeBytes(body)
}

func decodeBytes(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("optimistic: decode payload: %w", err)
	}
	return out, nil
}

// filterPrivate returns a copy of raw without private top-level keys.
func filterPrivate(raw Raw) Raw {
	out := make(Raw, len(raw))
	for k, v := range raw {
		if isPrivateName(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// rawObject returns the filtered serialised form of a single entity.
func rawObject(v any) (Raw, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return Raw{}, nil
	}
	obj, ok := n.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("optimistic: %T does not encode to an object", v)
	}
	return filterPrivate(obj), nil
}

// project keeps only the named fields of raw. Missing fields are left out.
func project(raw Raw, fields []string) Raw {
	out := make(Raw, len(fields))
	for _, f := range fields {
		if v, ok := raw[f]; ok {
			out[f] = v
		}
	}
	return out
}

// newInstance builds a *T from any payload. Empty payloads yield a zero
// instance. The instance remembers which fields the payload carried, so
// merging it leaves the others alone.
func newInstance[T any](data any) (*T, error) {
	obj := new(T)
	raw, err := rawObject(data)
	if err != nil {
		return nil, err
	}
	if e := entityOf(obj); e != nil {
		defer func() { e.present = fieldSetOf(raw) }()
	}
	if dec, ok := any(obj).(RawDecoder); ok {
		if err := dec.FromRaw(raw); err != nil {
			return nil, fmt.Errorf("optimistic: decode %T: %w", obj, err)
		}
		return obj, nil
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, obj); err != nil {
		return nil, fmt.Errorf("optimistic: decode %T: %w", obj, err)
	}
	return obj, nil
}

// newInstances builds one *T per element of a list payload.
func newInstances[T any](data any) ([]*T, error) {
	n, err := normalize(data)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	items, ok := n.([]any)
	if !ok {
		return nil, fmt.Errorf("optimistic: expected a list payload, got %T", n)
	}
	out := make([]*T, 0, len(items))
	for _, item := range items {
		obj, err := newInstance[T](item)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}
