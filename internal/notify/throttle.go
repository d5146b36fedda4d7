package notify

import (
	"sync"
	"time"
)

// Throttle suppresses repeats of the same key inside a window. A nil
// Throttle, or one with a non-positive window, allows everything.
type Throttle struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow records now as the last send for key when it returns true.
func (t *Throttle) Allow(key string, now time.Time) bool {
	if t == nil || t.window <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[key]; ok && now.Sub(last) < t.window {
		return false
	}
	t.last[key] = now
	return true
}
