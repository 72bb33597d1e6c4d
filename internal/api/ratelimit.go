package api

import (
	"sync"
	"time"
)

// rateWindow tracks request timestamps per credential over a rolling
// window. Failed attempts count too: the server bills them, so the
// pre-flight guard must as well.
type rateWindow struct {
	mu      sync.Mutex
	perKey  map[string][]time.Time
	limit   int
	span    time.Duration
	now     func() time.Time
}

func newRateWindow(limit int, span time.Duration) *rateWindow {
	return &rateWindow{
		perKey: make(map[string][]time.Time),
		limit:  limit,
		span:   span,
		now:    time.Now,
	}
}

// allow evicts expired timestamps and reports whether another request for
// the credential fits in the window.
func (w *rateWindow) allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.span)
	stamps := w.perKey[key]
	keep := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.perKey[key] = keep

	return len(keep) < w.limit
}

// record registers a completed request. Called once a response (of any
// kind) was obtained, never for locally rejected attempts.
func (w *rateWindow) record(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.perKey[key] = append(w.perKey[key], w.now())
}

func (w *rateWindow) pending(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.perKey[key])
}
