package optimistic_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goforj/optimistic"
	"github.com/goforj/optimistic/modelfake"
)

type Person struct {
	optimistic.Entity
	ID        int    `json:"id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Selected  bool   `json:"_selected,omitempty"`
}

func (p *Person) FullName() string { return p.FirstName + " " + p.LastName }

type Document struct {
	optimistic.Entity
	ID      int    `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Content any    `json:"content,omitempty"`
}

// BogusDocument always serialises to a fixed body.
type BogusDocument struct {
	optimistic.Entity
	ID   int    `json:"id,omitempty"`
	Body string `json:"body,omitempty"`
}

func (d *BogusDocument) ToRaw() (optimistic.Raw, error) {
	return optimistic.Raw{"body": "bogus"}, nil
}

// ShoutingDocument upper-cases its body when built from a payload.
type ShoutingDocument struct {
	optimistic.Entity
	ID   int    `json:"id,omitempty"`
	Body string `json:"body,omitempty"`
}

func (d *ShoutingDocument) FromRaw(raw optimistic.Raw) error {
	body, _ := raw["body"].(string)
	d.Body = strings.ToUpper(body)
	return nil
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newPeople(t *testing.T, opts ...optimistic.ModelOption) (*optimistic.Service, *modelfake.Fake, *optimistic.Model[Person]) {
	t.Helper()
	fake := modelfake.New()
	svc := optimistic.New(optimistic.WithBackend(fake))
	t.Cleanup(func() { _ = svc.Close() })
	people, err := optimistic.Register[Person](svc, "/api/people", opts...)
	if err != nil {
		t.Fatalf("register people: %v", err)
	}
	t.Cleanup(func() { fake.AssertNoOutstanding(t) })
	return svc, fake, people
}

func mustRegister[T any](t *testing.T, svc *optimistic.Service, ns string, opts ...optimistic.ModelOption) *optimistic.Model[T] {
	t.Helper()
	m, err := optimistic.Register[T](svc, ns, opts...)
	if err != nil {
		t.Fatalf("register %s: %v", ns, err)
	}
	return m
}

func waitFor[V any](t *testing.T, p *optimistic.Pending[V]) V {
	t.Helper()
	v, err := p.Wait(testContext(t))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return v
}

func fillPeople(t *testing.T, fake *modelfake.Fake, people *optimistic.Model[Person], rows ...map[string]any) *optimistic.List[Person] {
	t.Helper()
	call := people.GetAll(testContext(t))
	body := make([]any, 0, len(rows))
	for _, r := range rows {
		body = append(body, r)
	}
	fake.Respond(t, optimistic.MethodGet, "/api/people", body)
	return waitFor(t, call.Pending)
}

type eventLog struct {
	mu    sync.Mutex
	kinds []optimistic.EventKind
	keys  []string
}

func (l *eventLog) OnModelEvent(_ context.Context, ev optimistic.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, ev.Kind)
	l.keys = append(l.keys, ev.Key)
}

func (l *eventLog) snapshot() []optimistic.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]optimistic.EventKind(nil), l.kinds...)
}

var errBackendDown = errors.New("backend down")
