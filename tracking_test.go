package optimistic_test

import (
	"errors"
	"testing"

	"github.com/goforj/optimistic"
)

func TestCloneIsIndependentAndLinked(t *testing.T) {
	_, fake, people := newPeople(t)
	list := fillPeople(t, fake, people, map[string]any{"id": 1, "first_name": "Ann"})
	cached := list.At(0)

	clone, err := people.Clone(cached)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if clone == cached || people.Origin(clone) != cached {
		t.Fatalf("expected a distinct clone linked to its origin")
	}
	clone.FirstName = "Changed"
	if cached.FirstName != "Ann" {
		t.Fatalf("expected origin untouched, got %q", cached.FirstName)
	}

	changed, err := people.HasChanges(clone)
	if err != nil || !changed {
		t.Fatalf("expected changes against origin, got %v %v", changed, err)
	}
	clone.FirstName = "Ann"
	if changed, _ := people.HasChanges(clone); changed {
		t.Fatalf("expected no changes once reverted")
	}
}

func TestCloneListClonesEveryElement(t *testing.T) {
	_, fake, people := newPeople(t)
	list := fillPeople(t, fake, people,
		map[string]any{"id": 1, "first_name": "Ann"},
		map[string]any{"id": 2, "first_name": "Bob"},
	)
	clones, err := people.CloneList(list)
	if err != nil {
		t.Fatalf("clone list: %v", err)
	}
	if clones == list || clones.Len() != 2 {
		t.Fatalf("expected a new list of two")
	}
	for i := 0; i < 2; i++ {
		if clones.At(i) == list.At(i) || people.Origin(clones.At(i)) != list.At(i) {
			t.Fatalf("element %d not cloned from the cached element", i)
		}
	}
}

func TestSnapshotRequiresUnsavedOrClone(t *testing.T) {
	_, fake, people := newPeople(t)
	list := fillPeople(t, fake, people, map[string]any{"id": 1, "first_name": "Ann"})

	if err := people.Snapshot(list.At(0)); !errors.Is(err, optimistic.ErrState) {
		t.Fatalf("expected state error for a saved cached entity, got %v", err)
	}
	if _, err := people.HasChanges(list.At(0)); !errors.Is(err, optimistic.ErrState) {
		t.Fatalf("expected state error for change check, got %v", err)
	}

	draft := &Person{}
	if err := people.Snapshot(draft); err != nil {
		t.Fatalf("snapshot of unsaved entity: %v", err)
	}
}

func TestHasChangesAgainstSnapshot(t *testing.T) {
	_, fake, people := newPeople(t)
	list := fillPeople(t, fake, people, map[string]any{"id": 1, "first_name": "Ann"})

	edit, err := people.Clone(list.At(0))
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	edit.LastName = "Smith"
	if err := people.Snapshot(edit); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if changed, _ := people.HasChanges(edit); changed {
		t.Fatalf("expected clean right after snapshot")
	}
	edit.FirstName = "Anna"
	if changed, _ := people.HasChanges(edit); !changed {
		t.Fatalf("expected changes after edit")
	}
	edit.Selected = true
	edit.FirstName = "Ann"
	if changed, _ := people.HasChanges(edit); changed {
		t.Fatalf("expected private fields to be ignored")
	}
}

func TestHasChangesOnUnsavedEntityComparesBlank(t *testing.T) {
	_, _, people := newPeople(t)
	draft := &Person{}
	if changed, err := people.HasChanges(draft); err != nil || changed {
		t.Fatalf("expected blank draft to be clean, got %v %v", changed, err)
	}
	draft.FirstName = "New"
	if changed, _ := people.HasChanges(draft); !changed {
		t.Fatalf("expected edited draft to have changes")
	}
}

func TestSaveRetakesSnapshot(t *testing.T) {
	_, fake, people := newPeople(t)
	draft := &Person{FirstName: "Zed"}
	if err := people.Snapshot(draft); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if changed, _ := people.HasChanges(draft); changed {
		t.Fatalf("expected clean draft")
	}

	call := people.Save(testContext(t), draft)
	fake.Respond(t, optimistic.MethodPost, "/api/people", map[string]any{"id": 9, "first_name": "Zed"})
	waitFor(t, call.Pending)

	if draft.ID != 9 {
		t.Fatalf("expected identity merged back, got %d", draft.ID)
	}
	if changed, err := people.HasChanges(draft); err != nil || changed {
		t.Fatalf("expected clean after save, got %v %v", changed, err)
	}
	draft.LastName = "Later"
	if changed, _ := people.HasChanges(draft); !changed {
		t.Fatalf("expected changes against the new snapshot")
	}
}
