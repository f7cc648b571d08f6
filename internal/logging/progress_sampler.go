package logging

import "sync"

// ProgressSampler suppresses progress log lines whose percentage falls
// inside a bucket that has already been reported for the same key. Render
// polling emits updates every couple of seconds; without sampling a long
// video job would log hundreds of near-identical lines.
type ProgressSampler struct {
	mu       sync.Mutex
	interval float64
	seen     map[string]int
}

// NewProgressSampler creates a sampler that reports at most one line per
// interval percent per key. Non-positive intervals fall back to 5 percent.
func NewProgressSampler(interval float64) *ProgressSampler {
	if interval <= 0 {
		interval = 5.0
	}
	return &ProgressSampler{
		interval: interval,
		seen:     make(map[string]int),
	}
}

// ShouldLog reports whether a progress line at percent should be emitted
// for key. Completion (>= 100) always logs so the final line is never lost.
func (s *ProgressSampler) ShouldLog(key string, percent float64) bool {
	if percent < 0 {
		percent = 0
	}
	if percent >= 100 {
		s.mu.Lock()
		defer s.mu.Unlock()
		last, ok := s.seen[key]
		s.seen[key] = 1000
		return !ok || last < 1000
	}

	bucket := int(percent / s.interval)

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.seen[key]
	if ok && bucket <= last {
		return false
	}
	s.seen[key] = bucket
	return true
}

// Reset clears the recorded bucket for key, typically after a job finishes
// or is retried so a fresh attempt logs from zero again.
func (s *ProgressSampler) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
}
