package optimistic

import (
	"sort"
	"sync"
	"time"
)

// minSweepInterval bounds how often the sweep goroutine wakes up.
const minSweepInterval = 10 * time.Millisecond

type expiryRecord struct {
	lastAccess time.Time
	ttl        time.Duration
}

func (r expiryRecord) expired(now time.Time) bool {
	return r.ttl > 0 && r.lastAccess.Add(r.ttl).Before(now)
}

// expiryManager tracks per-key TTLs and runs a single periodic sweep whose
// interval is the shortest registered TTL.
type expiryManager struct {
	mu       sync.Mutex
	now      func() time.Time
	onTick   func()
	records  map[string]expiryRecord
	interval time.Duration
	ticker   *time.Ticker
	stop     chan struct{}
	closed   bool
}

func newExpiryManager(now func() time.Time, onTick func()) *expiryManager {
	return &expiryManager{
		now:     now,
		onTick:  onTick,
		records: make(map[string]expiryRecord),
	}
}

// register sets the TTL of key and refreshes its last access time.
// A non-positive ttl removes the key from expiry tracking.
func (e *expiryManager) register(key string, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ttl <= 0 {
		if _, ok := e.records[key]; ok {
			delete(e.records, key)
			e.reschedule()
		}
		return
	}
	e.records[key] = expiryRecord{lastAccess: e.now(), ttl: ttl}
	e.reschedule()
}

// touch refreshes the last access time of a tracked key.
func (e *expiryManager) touch(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.records[key]; ok {
		r.lastAccess = e.now()
		e.records[key] = r
	}
}

func (e *expiryManager) forget(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.records[key]; ok {
		delete(e.records, key)
		e.reschedule()
	}
}

// expired reports whether key outlived its TTL, dropping its record if so.
func (e *expiryManager) expired(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[key]
	if !ok || !r.expired(e.now()) {
		return false
	}
	delete(e.records, key)
	e.reschedule()
	return true
}

// sweep drops and returns every expired key in sorted order.
func (e *expiryManager) sweep() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	var out []string
	for key, r := range e.records {
		if r.expired(now) {
			out = append(out, key)
			delete(e.records, key)
		}
	}
	if len(out) > 0 {
		e.reschedule()
	}
	sort.Strings(out)
	return out
}

func (e *expiryManager) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.records)
	e.stopLocked()
	e.interval = 0
}

func (e *expiryManager) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.stopLocked()
}

func (e *expiryManager) sweepInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

func (e *expiryManager) tracked(key string) (expiryRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[key]
	return r, ok
}

// reschedule aligns the ticker with the shortest TTL. Callers hold e.mu.
func (e *expiryManager) reschedule() {
	var shortest time.Duration
	for _, r := range e.records {
		if shortest == 0 || r.ttl < shortest {
			shortest = r.ttl
		}
	}
	if shortest == 0 || e.closed {
		e.stopLocked()
		e.interval = 0
		return
	}
	if e.ticker != nil && shortest == e.interval {
		return
	}
	e.stopLocked()
	e.interval = shortest
	tick := max(shortest, minSweepInterval)
	e.ticker = time.NewTicker(tick)
	e.stop = make(chan struct{})
	go e.run(e.ticker, e.stop)
}

func (e *expiryManager) stopLocked() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.stop)
	e.ticker = nil
	e.stop = nil
}

func (e *expiryManager) run(t *time.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			select {
			case <-stop:
				return
			default:
			}
			if e.onTick != nil {
				e.onTick()
			}
		}
	}
}
