// Package modelfake provides a scripted optimistic.Backend for tests.
//
// Requests block until the test answers them, so a test can observe the
// cache-first state of a view before the backend responds:
//
//	fake := modelfake.New()
//	svc := optimistic.New(optimistic.WithBackend(fake))
//	people, _ := optimistic.Register[Person](svc, "/api/people")
//
//	call := people.Get(ctx, 123)
//	pending := call.ToScope(scope, "person")
//	// assert on the pre-filled scope here
//	fake.Respond(t, optimistic.MethodGet, "/api/people/123", map[string]any{"id": 123})
//	person, err := pending.Wait(ctx)
package modelfake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goforj/optimistic"
)

// DefaultTimeout bounds how long Expect waits for a matching request.
const DefaultTimeout = 2 * time.Second

type result struct {
	body any
	err  error
}

// Call is one outstanding backend request.
type Call struct {
	Request optimistic.Request
	reply   chan result
}

// Respond answers the call with body.
func (c *Call) Respond(body any) {
	c.reply <- result{body: body}
}

// Fail answers the call with err.
func (c *Call) Fail(err error) {
	c.reply <- result{err: err}
}

type stub struct {
	method string
	url    string
	body   any
	err    error
}

// Fake records requests and lets tests answer them.
type Fake struct {
	mu      sync.Mutex
	pending []*Call
	stubs   []stub
	counts  map[string]map[string]int
	arrived chan struct{}
	timeout time.Duration
}

// New creates a Fake with DefaultTimeout.
func New() *Fake {
	return &Fake{
		counts:  make(map[string]map[string]int),
		arrived: make(chan struct{}),
		timeout: DefaultTimeout,
	}
}

// WithTimeout changes how long Expect waits.
func (f *Fake) WithTimeout(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = d
	return f
}

// Stub answers every future request for method and url immediately with body.
func (f *Fake) Stub(method, url string, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs = append(f.stubs, stub{method: method, url: url, body: body})
}

// StubError answers every future request for method and url immediately with err.
func (f *Fake) StubError(method, url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs = append(f.stubs, stub{method: method, url: url, err: err})
}

// Do implements optimistic.Backend.
func (f *Fake) Do(ctx context.Context, req optimistic.Request) (any, error) {
	f.mu.Lock()
	if f.counts[req.Method] == nil {
		f.counts[req.Method] = make(map[string]int)
	}
	f.counts[req.Method][req.URL]++
	for _, s := range f.stubs {
		if s.method == req.Method && s.url == req.URL {
			f.mu.Unlock()
			return s.body, s.err
		}
	}
	call := &Call{Request: req, reply: make(chan result, 1)}
	f.pending = append(f.pending, call)
	close(f.arrived)
	f.arrived = make(chan struct{})
	f.mu.Unlock()

	select {
	case r := <-call.reply:
		return r.body, r.err
	case <-ctx.Done():
		f.drop(call)
		return nil, ctx.Err()
	}
}

func (f *Fake) drop(call *Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.pending {
		if c == call {
			f.pending = append(f.pending[:i:i], f.pending[i+1:]...)
			return
		}
	}
}

// Expect waits for the oldest outstanding request matching method and url,
// removes it from the queue and returns it.
func (f *Fake) Expect(t testing.TB, method, url string) *Call {
	t.Helper()
	f.mu.Lock()
	timeout := f.timeout
	f.mu.Unlock()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		f.mu.Lock()
		for i, c := range f.pending {
			if c.Request.Method == method && c.Request.URL == url {
				f.pending = append(f.pending[:i:i], f.pending[i+1:]...)
				f.mu.Unlock()
				return c
			}
		}
		arrived := f.arrived
		f.mu.Unlock()
		select {
		case <-arrived:
		case <-deadline.C:
			t.Fatalf("expected %s %s request within %s, outstanding: %v", method, url, timeout, f.Outstanding())
			return nil
		}
	}
}

// Respond waits for a matching request, answers it with body and returns it.
func (f *Fake) Respond(t testing.TB, method, url string, body any) optimistic.Request {
	t.Helper()
	c := f.Expect(t, method, url)
	c.Respond(body)
	return c.Request
}

// Fail waits for a matching request and answers it with err.
func (f *Fake) Fail(t testing.TB, method, url string, err error) optimistic.Request {
	t.Helper()
	c := f.Expect(t, method, url)
	c.Fail(err)
	return c.Request
}

// Outstanding lists the unanswered requests as "METHOD URL".
func (f *Fake) Outstanding() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pending))
	for _, c := range f.pending {
		out = append(out, c.Request.Method+" "+c.Request.URL)
	}
	return out
}

// AssertNoOutstanding fails when any request is still unanswered.
func (f *Fake) AssertNoOutstanding(t testing.TB) {
	t.Helper()
	if out := f.Outstanding(); len(out) > 0 {
		t.Fatalf("expected no outstanding requests, got %v", out)
	}
}

// Reset clears recorded counts and stubs.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[string]map[string]int)
	f.stubs = nil
}

// AssertCalled verifies method+url was requested the expected number of times.
func (f *Fake) AssertCalled(t testing.TB, method, url string, times int) {
	t.Helper()
	if got := f.Count(method, url); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", method, url, times, got)
	}
}

// AssertNotCalled ensures method+url was never requested.
func (f *Fake) AssertNotCalled(t testing.TB, method, url string) {
	t.Helper()
	if got := f.Count(method, url); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", method, url, got)
	}
}

// AssertTotal ensures the total request count for method matches times.
func (f *Fake) AssertTotal(t testing.TB, method string, times int) {
	t.Helper()
	if got := f.Total(method); got != times {
		t.Fatalf("expected %s total=%d, got %d", method, times, got)
	}
}

// Count returns requests for method+url.
func (f *Fake) Count(method, url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[method][url]
}

// Total returns requests for method across urls.
func (f *Fake) Total(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[method] {
		sum += v
	}
	return sum
}
