package inspect

import (
	"net/http"
	"sync"
	"time"
)

const (
	anomalyWindow time.Duration = 60 * time.Second

	// errorThreshold is the number of failed requests tolerated per window
	// before further traffic is rejected.
	errorThreshold = 10
	// velocityThreshold is the number of requests per window; the request
	// that would push the count past it is the one rejected.
	velocityThreshold = 20
)

// AnomalyTracker maintains per-client sliding windows of request and error
// timestamps. Counters live in process memory: they are advisory rate
// guards, and a multi-instance deployment rate-limits per instance.
type AnomalyTracker struct {
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*clientWindows
}

type clientWindows struct {
	errors   []time.Time
	requests []time.Time
}

// NewAnomalyTracker builds an empty tracker.
func NewAnomalyTracker() *AnomalyTracker {
	return &AnomalyTracker{
		now:     time.Now,
		windows: make(map[string]*clientWindows),
	}
}

// Allow evaluates the client's history before the current request is
// counted. Exceeding the error budget or the request velocity budget fails
// the request with 429.
func (t *AnomalyTracker) Allow(clientID string) *Violation {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.window(clientID)
	t.prune(w)

	if len(w.errors) > errorThreshold {
		return NewViolation("anomaly", http.StatusTooManyRequests,
			"too many errors, your access has been temporarily restricted")
	}
	if len(w.requests)+1 > velocityThreshold {
		return NewViolation("anomaly", http.StatusTooManyRequests,
			"request velocity too high, your access has been temporarily restricted")
	}
	return nil
}

// Record registers the request outcome after the pipeline has run.
func (t *AnomalyTracker) Record(clientID string, isError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.window(clientID)
	t.prune(w)

	now := t.now()
	if isError {
		w.errors = append(w.errors, now)
	}
	w.requests = append(w.requests, now)
}

func (t *AnomalyTracker) window(clientID string) *clientWindows {
	w, ok := t.windows[clientID]
	if !ok {
		w = &clientWindows{}
		t.windows[clientID] = w
	}
	return w
}

func (t *AnomalyTracker) prune(w *clientWindows) {
	cutoff := t.now().Add(-anomalyWindow)
	w.errors = pruneBefore(w.errors, cutoff)
	w.requests = pruneBefore(w.requests, cutoff)
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
