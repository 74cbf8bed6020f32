// Package runlog buffers per-run debug output so pollers can tail a run
// while its loop is still executing. Buffers are capped: once a run's log
// exceeds the cap, the oldest bytes are dropped from the head.
package runlog

import (
	"sync"
	"time"
)

// DefaultMaxBytes caps a single run's retained log at 64 KiB.
const DefaultMaxBytes = 64 * 1024

type buffer struct {
	data      []byte
	startedAt time.Time
}

// Sink holds one append-only buffer per run id. A run is written by exactly
// one loop execution and read concurrently by pollers.
type Sink struct {
	mu       sync.RWMutex
	runs     map[string]*buffer
	maxBytes int
}

// NewSink creates a sink. maxBytes <= 0 selects DefaultMaxBytes.
func NewSink(maxBytes int) *Sink {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Sink{
		runs:     make(map[string]*buffer),
		maxBytes: maxBytes,
	}
}

// Append adds text to the run's buffer, creating it on first use. Content
// beyond the cap is discarded oldest-first.
func (s *Sink) Append(runID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.runs[runID]
	if !ok {
		buf = &buffer{startedAt: time.Now()}
		s.runs[runID] = buf
	}
	buf.data = append(buf.data, text...)
	if len(buf.data) > s.maxBytes {
		// Reallocate so the truncated head does not pin the old backing array.
		trimmed := make([]byte, s.maxBytes)
		copy(trimmed, buf.data[len(buf.data)-s.maxBytes:])
		buf.data = trimmed
	}
}

// Tail returns at most the last maxBytes of the run's log. The cut is a
// byte suffix, not line-aligned. Unknown runs yield an empty string since
// pollers commonly ask before the run has produced output.
func (s *Sink) Tail(runID string, maxBytes int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.runs[runID]
	if !ok || maxBytes <= 0 {
		return ""
	}
	data := buf.data
	if len(data) > maxBytes {
		data = data[len(data)-maxBytes:]
	}
	return string(data)
}

// Sweep drops buffers of runs that started more than maxAge ago and returns
// how many were removed. Retention is driven externally; the sink itself
// never expires runs.
func (s *Sink) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, buf := range s.runs {
		if buf.startedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}
