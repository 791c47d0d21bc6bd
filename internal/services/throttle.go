package services

import (
	"sort"
	"sync"
	"time"
)

// Throttle is a sliding-window limiter keyed by topic. The presence tracker
// uses it to bound how often keystroke-driven typing broadcasts go out.
type Throttle struct {
	mu        sync.Mutex
	events    map[string][]time.Time
	maxEvents int
	window    time.Duration
}

func NewThrottle(maxEvents int, window time.Duration) *Throttle {
	return &Throttle{
		events:    make(map[string][]time.Time),
		maxEvents: maxEvents,
		window:    window,
	}
}

func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-t.window)

	timestamps, exists := t.events[key]
	if !exists {
		timestamps = []time.Time{}
	}

	firstValidIndex := sort.Search(len(timestamps), func(i int) bool {
		return timestamps[i].After(windowStart)
	})
	validTimestamps := timestamps[firstValidIndex:]

	if len(validTimestamps) >= t.maxEvents {
		return false
	}

	validTimestamps = append(validTimestamps, now)
	t.events[key] = validTimestamps

	return true
}
