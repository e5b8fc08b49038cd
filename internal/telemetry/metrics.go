// Package telemetry tracks per-stage processing latency and
// per-taxonomy error counts (§7's error taxonomy: input-shape,
// transient, logical, configuration, determinism). Adapted in place
// from the teacher's internal/trading/metrics.go: same fixed-size ring
// buffer + bubble-sort percentile helper and atomic counters, moved from
// one trade-execution pipeline's component breakdown (parse/resolve/
// quote/sign/send) to stages named by the caller (cmd/live records only
// the "ingestion" stage).
package telemetry

import (
	"sync"
	"sync/atomic"
)

// ErrorClass is one of §7's five error-taxonomy categories.
type ErrorClass string

const (
	ErrorInputShape    ErrorClass = "input_shape"
	ErrorTransient     ErrorClass = "transient"
	ErrorLogical       ErrorClass = "logical"
	ErrorConfiguration ErrorClass = "configuration"
	ErrorDeterminism   ErrorClass = "determinism"
)

// stageMetrics holds one stage's latency ring buffer.
type stageMetrics struct {
	mu        sync.Mutex
	samples   []int64 // latency in microseconds
	sampleIdx int
}

// Metrics tracks per-stage latency and per-taxonomy error counts across
// the whole pipeline.
type Metrics struct {
	mu     sync.RWMutex
	stages map[string]*stageMetrics

	errorCounts map[ErrorClass]*atomic.Int64
}

// NewMetrics creates an empty Metrics; stages register themselves on
// first use.
func NewMetrics() *Metrics {
	m := &Metrics{
		stages: make(map[string]*stageMetrics),
		errorCounts: map[ErrorClass]*atomic.Int64{
			ErrorInputShape:    {},
			ErrorTransient:     {},
			ErrorLogical:       {},
			ErrorConfiguration: {},
			ErrorDeterminism:   {},
		},
	}
	return m
}

func (m *Metrics) stage(name string) *stageMetrics {
	m.mu.RLock()
	s, ok := m.stages[name]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stages[name]; ok {
		return s
	}
	s = &stageMetrics{samples: make([]int64, 200)}
	m.stages[name] = s
	return s
}

// RecordLatency records one processing-latency sample (microseconds)
// for a named stage (e.g. "ingestion", "detector", "scorer").
func (m *Metrics) RecordLatency(stageName string, latencyUs int64) {
	s := m.stage(stageName)
	s.mu.Lock()
	s.samples[s.sampleIdx%len(s.samples)] = latencyUs
	s.sampleIdx++
	s.mu.Unlock()
}

// RecordError increments the counter for one error-taxonomy category;
// ErrorCounts reads the totals back. The live-mode TUI does not show them.
func (m *Metrics) RecordError(class ErrorClass) {
	if c, ok := m.errorCounts[class]; ok {
		c.Add(1)
	}
}

// ErrorCounts returns a snapshot of every taxonomy category's count.
func (m *Metrics) ErrorCounts() map[ErrorClass]int64 {
	out := make(map[ErrorClass]int64, len(m.errorCounts))
	for class, counter := range m.errorCounts {
		out[class] = counter.Load()
	}
	return out
}

// P50 returns the named stage's 50th percentile latency in microseconds.
func (m *Metrics) P50(stageName string) int64 { return m.stage(stageName).percentile(50) }

// P95 returns the named stage's 95th percentile latency in microseconds.
func (m *Metrics) P95(stageName string) int64 { return m.stage(stageName).percentile(95) }

// P99 returns the named stage's 99th percentile latency in microseconds.
func (m *Metrics) P99(stageName string) int64 { return m.stage(stageName).percentile(99) }

// Avg returns the named stage's average latency in microseconds.
func (m *Metrics) Avg(stageName string) int64 {
	s := m.stage(stageName)
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.sampleIdx
	if count > len(s.samples) {
		count = len(s.samples)
	}
	if count == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < count; i++ {
		sum += s.samples[i]
	}
	return sum / int64(count)
}

func (s *stageMetrics) percentile(p int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.sampleIdx
	if count > len(s.samples) {
		count = len(s.samples)
	}
	if count == 0 {
		return 0
	}

	sorted := make([]int64, count)
	copy(sorted, s.samples[:count])

	// bubble sort: sample counts are small (<=200), not worth pulling in
	// a sort dependency for
	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	idx := (p * count) / 100
	if idx >= count {
		idx = count - 1
	}
	return sorted[idx]
}

// StageNames returns every stage that has recorded at least one sample,
// for panels that iterate all stages.
func (m *Metrics) StageNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stages))
	for name := range m.stages {
		names = append(names, name)
	}
	return names
}
