package optimistic

import (
	"context"
	"sync"
)

// Pending is the eventual result of an asynchronous operation. Continuations
// registered with Then run before Done is closed, so Wait observes their
// effects.
type Pending[V any] struct {
	done    chan struct{}
	mu      sync.Mutex
	settled bool
	value   V
	err     error
	thens   []func(V, error)
}

func newPending[V any]() *Pending[V] {
	return &Pending[V]{done: make(chan struct{})}
}

func rejected[V any](err error) *Pending[V] {
	p := newPending[V]()
	var zero V
	p.settle(zero, err)
	return p
}

func (p *Pending[V]) settle(v V, err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.value, p.err = v, err
	thens := p.thens
	p.thens = nil
	p.mu.Unlock()

	for _, fn := range thens {
		fn(v, err)
	}
	close(p.done)
}

// Then registers fn to run with the outcome. If the operation already
// finished, fn runs immediately on the calling goroutine.
func (p *Pending[V]) Then(fn func(V, error)) {
	p.mu.Lock()
	if !p.settled {
		p.thens = append(p.thens, fn)
		p.mu.Unlock()
		return
	}
	v, err := p.value, p.err
	p.mu.Unlock()
	fn(v, err)
}

// Done is closed once the outcome and all continuations are in place.
func (p *Pending[V]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation finishes or ctx is done.
func (p *Pending[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
