// Package metrics implements the per-source counters (C5) that feed the
// source registry's priority reordering, mirrored into Prometheus
// collectors for external observability (§10.2).
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

// Outcome describes how an attempt ended, closing the handle opened by
// BeginAttempt.
type Outcome struct {
	Success   bool
	LatencyMs float64
	ErrorKind quote.ErrorKind // zero value when Success
}

// Handle identifies an in-flight attempt between BeginAttempt and
// EndAttempt.
type Handle struct {
	sourceID string
	dataType quote.DataType
	started  time.Time
}

type counters struct {
	mu               sync.Mutex
	requests         int64
	successes        int64
	failures         int64
	latencySumMs     float64
	latencyCount     int64
	errorKindCounts  map[quote.ErrorKind]int64
	circuitOpenSkips int64
	// samples holds up to maxSamples most recent latencies for percentile
	// estimation; old entries are evicted FIFO, matching the simple
	// bounded-window style used elsewhere in this codebase for latency
	// tracking.
	samples []time.Duration
}

const maxSamples = 1000

func newCounters() *counters {
	return &counters{errorKindCounts: make(map[quote.ErrorKind]int64)}
}

func key(sourceID string, dt quote.DataType) string {
	return fmt.Sprintf("%s|%s", sourceID, dt)
}

// Sink collects per-(source, dataType) counters for the lifetime of the
// process.
type Sink struct {
	mu       sync.RWMutex
	byKey    map[string]*counters
	exporter *PromExporter
}

// NewSink builds an empty Sink with its Prometheus mirror registered.
func NewSink() *Sink {
	return &Sink{
		byKey:    make(map[string]*counters),
		exporter: NewPromExporter(),
	}
}

func (s *Sink) countersFor(sourceID string, dt quote.DataType) *counters {
	k := key(sourceID, dt)

	s.mu.RLock()
	c, ok := s.byKey[k]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byKey[k]; ok {
		return c
	}
	c = newCounters()
	s.byKey[k] = c
	return c
}

// BeginAttempt opens a handle for a new attempt against sourceID for dt.
func (s *Sink) BeginAttempt(sourceID string, dt quote.DataType) Handle {
	c := s.countersFor(sourceID, dt)
	c.mu.Lock()
	c.requests++
	c.mu.Unlock()
	return Handle{sourceID: sourceID, dataType: dt, started: time.Now()}
}

// EndAttempt closes a handle with its outcome, recording success/failure,
// latency, and error-kind breakdown, and mirrors the update into the
// Prometheus collectors.
func (s *Sink) EndAttempt(h Handle, o Outcome) {
	c := s.countersFor(h.sourceID, h.dataType)

	latency := o.LatencyMs
	if latency == 0 {
		latency = float64(time.Since(h.started).Milliseconds())
	}

	c.mu.Lock()
	if o.Success {
		c.successes++
	} else {
		c.failures++
		c.errorKindCounts[o.ErrorKind]++
	}
	c.latencySumMs += latency
	c.latencyCount++
	c.samples = append(c.samples, time.Duration(latency)*time.Millisecond)
	if len(c.samples) > maxSamples {
		c.samples = c.samples[len(c.samples)-maxSamples:]
	}
	c.mu.Unlock()

	s.exporter.Observe(h.sourceID, string(h.dataType), o.Success, o.ErrorKind, latency)
}

// RecordCircuitSkip increments the circuitOpenSkips counter without
// touching success/failure — a skip because the breaker is open is not a
// new failure sample (§4.4).
func (s *Sink) RecordCircuitSkip(sourceID string, dt quote.DataType) {
	c := s.countersFor(sourceID, dt)
	c.mu.Lock()
	c.circuitOpenSkips++
	c.mu.Unlock()
}

// Summary is a point-in-time view of one source's counters, with derived
// rates computed on read.
type Summary struct {
	SourceID         string
	DataType         quote.DataType
	Requests         int64
	Successes        int64
	Failures         int64
	SuccessRate      float64
	AvgLatencyMs     float64
	P95LatencyMs     float64
	P99LatencyMs     float64
	ErrorKindCounts  map[quote.ErrorKind]int64
	CircuitOpenSkips int64
}

// Summarize returns the current summary for (sourceID, dt).
func (s *Sink) Summarize(sourceID string, dt quote.DataType) Summary {
	c := s.countersFor(sourceID, dt)
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := Summary{
		SourceID:         sourceID,
		DataType:         dt,
		Requests:         c.requests,
		Successes:        c.successes,
		Failures:         c.failures,
		CircuitOpenSkips: c.circuitOpenSkips,
		ErrorKindCounts:  copyErrorKinds(c.errorKindCounts),
	}
	if total := c.successes + c.failures; total > 0 {
		sum.SuccessRate = float64(c.successes) / float64(total)
	}
	if c.latencyCount > 0 {
		sum.AvgLatencyMs = c.latencySumMs / float64(c.latencyCount)
	}
	p95, p99 := percentiles(c.samples)
	sum.P95LatencyMs = float64(p95.Milliseconds())
	sum.P99LatencyMs = float64(p99.Milliseconds())
	return sum
}

func copyErrorKinds(in map[quote.ErrorKind]int64) map[quote.ErrorKind]int64 {
	out := make(map[quote.ErrorKind]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// percentiles computes p95 and p99 over samples via a simple bubble sort;
// the sample window is capped at maxSamples so this stays cheap.
func percentiles(samples []time.Duration) (p95, p99 time.Duration) {
	n := len(samples)
	if n == 0 {
		return 0, 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, samples)
	for i := 0; i < n; i++ {
		for j := 0; j < n-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}
	idx95 := (n * 95) / 100
	idx99 := (n * 99) / 100
	if idx95 >= n {
		idx95 = n - 1
	}
	if idx99 >= n {
		idx99 = n - 1
	}
	return sorted[idx95], sorted[idx99]
}

// Registry returns the PromExporter backing this sink's exported
// collectors; its own Registry method yields the *prometheus.Registry for
// an operator-wired HTTP exporter to serve later.
func (s *Sink) Registry() *PromExporter { return s.exporter }
