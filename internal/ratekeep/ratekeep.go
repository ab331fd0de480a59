// Package ratekeep provides per-key rate limiting for the relay,
// built on golang.org/x/time/rate's token bucket.
package ratekeep

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Keeper tracks one rate.Limiter per key (address, connection id, ...),
// evicting limiters that have gone idle. Do not alias a Keeper's mutex
// with any room/relay lock — keepers are touched from both the network
// loop and the main loop.
type Keeper struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	seen   map[string]*entry
	maxAge time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a Keeper allowing `limit` events per second per key, with
// burst `burst`. Idle keys are evicted after maxAge on the next Sweep.
func New(limit rate.Limit, burst int, maxAge time.Duration) *Keeper {
	return &Keeper{
		limit:  limit,
		burst:  burst,
		seen:   make(map[string]*entry),
		maxAge: maxAge,
	}
}

// Allow reports whether the event for key should proceed, consuming one
// token if so.
func (k *Keeper) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.seen[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.seen[key] = e
	}
	e.lastUsed = time.Now()
	return e.limiter.Allow()
}

// Sweep removes limiters idle for longer than maxAge. Intended to be
// called from internal/sched on a periodic tick.
func (k *Keeper) Sweep(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.seen {
		if now.Sub(e.lastUsed) > k.maxAge {
			delete(k.seen, key)
		}
	}
}

// Len reports the number of tracked keys, for status reporting.
func (k *Keeper) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.seen)
}

// SetLimit changes the rate applied to every key from now on. Existing
// per-key limiters are not retroactively adjusted; they pick up the new
// rate the next time they're recreated after an idle eviction or a
// Reset. The console's join-limit command reaches this method, so it
// affects new activity rather than addresses already being tracked.
func (k *Keeper) SetLimit(limit rate.Limit, burst int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.limit = limit
	k.burst = burst
}

// Reset forgets a key immediately, used when a connection closes.
func (k *Keeper) Reset(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.seen, key)
}
