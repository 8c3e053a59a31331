package optimistic

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestMergeFieldsCopiesPublicFieldsOnly(t *testing.T) {
	dst := &widget{ID: 1, Name: "old", Cursor: "keep", hidden: "keep", Ignored: "keep"}
	src := &widget{ID: 1, Name: "new", Cursor: "drop", hidden: "drop", Ignored: "drop"}
	mergeFields(dst, src)
	if dst.Name != "new" {
		t.Fatalf("expected name merged, got %q", dst.Name)
	}
	if dst.Cursor != "keep" || dst.hidden != "keep" || dst.Ignored != "keep" {
		t.Fatalf("expected private fields untouched: %+v", dst)
	}
}

func TestMergeFieldsKeepsTrackingState(t *testing.T) {
	origin := &widget{ID: 9}
	dst := &widget{Entity: Entity{origin: origin}}
	mergeFields(dst, &widget{ID: 1})
	if dst.origin != origin {
		t.Fatalf("expected origin preserved")
	}
}

func TestMergeFieldsIgnoresMismatchedOrSame(t *testing.T) {
	w := &widget{Name: "same"}
	mergeFields(w, w)
	mergeFields(w, &note{Text: "other"})
	mergeFields(w, nil)
	if w.Name != "same" {
		t.Fatalf("expected no change, got %q", w.Name)
	}
}

func TestFieldValue(t *testing.T) {
	if v, ok := fieldValue(&widget{ID: 4}, "id"); !ok || v != 4 {
		t.Fatalf("unexpected struct id %v %v", v, ok)
	}
	if v, ok := fieldValue(map[string]any{"id": "x"}, "id"); !ok || v != "x" {
		t.Fatalf("unexpected map id %v %v", v, ok)
	}
	if _, ok := fieldValue(42, "id"); ok {
		t.Fatalf("expected scalar to have no fields")
	}
	if _, ok := fieldValue((*widget)(nil), "id"); ok {
		t.Fatalf("expected nil pointer to have no fields")
	}
}

func TestIdentityHelpers(t *testing.T) {
	for _, id := range []any{nil, 0, "", json.Number("")} {
		if !isZeroID(id) {
			t.Fatalf("expected %#v to be a zero identity", id)
		}
	}
	if !sameID(123, "123") || !sameID(json.Number("5"), 5) {
		t.Fatalf("expected identities to match across representations")
	}
	if sameID(0, 0) || sameID(1, 2) {
		t.Fatalf("unexpected identity match")
	}
}

func TestListMergeReplacesByReference(t *testing.T) {
	var mu sync.RWMutex
	a, b, c := &widget{ID: 1}, &widget{ID: 2}, &widget{ID: 3}
	list := newList(&mu, []*widget{a, b, c})
	list.mergeFrom(newList(&mu, []*widget{c}))
	if list.Len() != 1 || list.At(0) != c {
		t.Fatalf("expected list shrunk to [c], got %v", list.Items())
	}
	list.mergeFrom(newList(&mu, []*widget{a, b, c}))
	if list.Len() != 3 || list.At(2) != c || list.At(5) != nil {
		t.Fatalf("expected list grown to [a b c], got %v", list.Items())
	}
	if !list.removeID("id", 2) || list.Len() != 2 || list.indexOf("id", 3) != 1 {
		t.Fatalf("unexpected list after remove: %v", list.Items())
	}
	if list.removeID("id", 99) {
		t.Fatalf("expected no removal for unknown id")
	}
}

func TestKeyedStorePutMergesIntoExistingEntry(t *testing.T) {
	s := newKeyedStore()
	first := &widget{ID: 1, Name: "a"}
	if got := s.put("k", first); got != first {
		t.Fatalf("expected first put to store the value")
	}
	if got := s.put("k", &widget{ID: 1, Name: "b"}); got != first || first.Name != "b" {
		t.Fatalf("expected merge into the stored reference, got %+v", got)
	}
	if got := s.put("k", nil); got != first {
		t.Fatalf("expected nil put to leave the entry")
	}
	s.delete("k")
	if _, ok := s.get("k"); ok {
		t.Fatalf("expected key deleted")
	}
	s.put("x", first)
	s.clear()
	if s.count() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestMergeFieldsCopiesOnlyPayloadFields(t *testing.T) {
	dst := &widget{ID: 1, Name: "kept", Tags: []string{"a"}}
	src, err := newInstance[widget](map[string]any{"id": 1, "tags": []any{"b"}})
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	mergeFields(dst, src)
	if dst.Name != "kept" {
		t.Fatalf("expected absent field kept, got %q", dst.Name)
	}
	if len(dst.Tags) != 1 || dst.Tags[0] != "b" {
		t.Fatalf("expected present field merged, got %v", dst.Tags)
	}

	empty, err := newInstance[widget](map[string]any{})
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	mergeFields(dst, empty)
	if dst.ID != 1 || dst.Name != "kept" {
		t.Fatalf("expected empty payload to merge nothing, got %+v", dst)
	}
}

func TestKeyedStoreEntryMergesAsWhole(t *testing.T) {
	s := newKeyedStore()
	partial, err := newInstance[widget](map[string]any{"id": 1})
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	stored := s.put("k", partial).(*widget)
	stored.Name = "set later"

	dst := &widget{ID: 1}
	mergeFields(dst, stored)
	if dst.Name != "set later" {
		t.Fatalf("expected a cached entry to merge every field, got %+v", dst)
	}
}

func TestCloneMergesEveryField(t *testing.T) {
	src, err := newInstance[widget](map[string]any{"id": 1})
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	src.Name = "edited"
	c, err := cloneEntity(src)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	dst := &widget{ID: 1, Name: "stale", Tags: []string{"x"}}
	c.Tags = nil
	mergeFields(dst, c)
	if dst.Name != "edited" || dst.Tags != nil {
		t.Fatalf("expected clone to overwrite all fields, got %+v", dst)
	}
}
