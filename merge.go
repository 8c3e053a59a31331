package optimistic

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// fieldInfo describes one JSON-visible field of an entity struct.
type fieldInfo struct {
	name    string
	index   []int
	private bool
}

var (
	fieldCache sync.Map // reflect.Type -> []fieldInfo
	entityType = reflect.TypeOf(Entity{})
)

// isPrivateName reports whether a JSON name follows the private-field convention.
func isPrivateName(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, "$")
}

func structFields(t reflect.Type) []fieldInfo {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]fieldInfo)
	}
	var out []fieldInfo
	collectFields(t, nil, &out)
	fieldCache.Store(t, out)
	return out
}

func collectFields(t reflect.Type, prefix []int, out *[]fieldInfo) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type == entityType {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		index := append(append([]int(nil), prefix...), i)
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			collectFields(f.Type, index, out)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		*out = append(*out, fieldInfo{name: name, index: index, private: isPrivateName(name)})
	}
}

// fieldSet holds the JSON names a decoded payload carried.
type fieldSet map[string]struct{}

func fieldSetOf(raw Raw) fieldSet {
	out := make(fieldSet, len(raw))
	for k := range raw {
		out[k] = struct{}{}
	}
	return out
}

// presentFields returns the fields src was decoded from, or nil when src
// carries all of them.
func presentFields(src any) fieldSet {
	if e := entityOf(src); e != nil {
		return e.present
	}
	return nil
}

// mergeFields copies the exported, non-private fields of src onto dst. When
// src was decoded from a payload only the fields that payload carried are
// copied. Both must be non-nil pointers to the same struct type; the same
// pointer is a no-op.
func mergeFields(dst, src any) {
	dv := reflect.ValueOf(dst)
	sv := reflect.ValueOf(src)
	if dv.Kind() != reflect.Pointer || sv.Kind() != reflect.Pointer || dv.IsNil() || sv.IsNil() {
		return
	}
	if dv.Pointer() == sv.Pointer() {
		return
	}
	dv, sv = dv.Elem(), sv.Elem()
	if dv.Type() != sv.Type() || dv.Kind() != reflect.Struct {
		return
	}
	present := presentFields(src)
	for _, f := range structFields(dv.Type()) {
		if f.private {
			continue
		}
		if present != nil {
			if _, ok := present[f.name]; !ok {
				continue
			}
		}
		df := dv.FieldByIndex(f.index)
		if !df.CanSet() {
			continue
		}
		df.Set(sv.FieldByIndex(f.index))
	}
}

// fieldValue returns the value of the field whose JSON name is name.
func fieldValue(obj any, name string) (any, bool) {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		for _, f := range structFields(v.Type()) {
			if f.name == name {
				return v.FieldByIndex(f.index).Interface(), true
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if mv.IsValid() {
			return mv.Interface(), true
		}
	}
	return nil, false
}

// isZeroID reports whether id carries no identity (nil, zero number, empty string).
func isZeroID(id any) bool {
	if id == nil {
		return true
	}
	return reflect.ValueOf(id).IsZero()
}

// idString renders an identity for use in keys and identity comparison.
func idString(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

// sameID compares identities by their key rendering, so 123, "123" and
// json.Number("123") match.
func sameID(a, b any) bool {
	if isZeroID(a) || isZeroID(b) {
		return false
	}
	return idString(a) == idString(b)
}
