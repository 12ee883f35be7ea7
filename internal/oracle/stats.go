package oracle

import (
	"sort"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	task       TaskKind
	durationMs int64
}

// StatsSnapshot is a point-in-time aggregate of oracle latency samples.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Stats tracks recent oracle call latencies within a rolling window.
type Stats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewStats(maxAge time.Duration) *Stats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Stats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

func (s *Stats) Record(task TaskKind, durationMs int64) {
	if durationMs < 0 {
		durationMs = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		task:       task,
		durationMs: durationMs,
	})
}

// Snapshot aggregates all tasks.
func (s *Stats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	values := make([]int64, 0, len(s.samples))
	for _, sm := range s.samples {
		values = append(values, sm.durationMs)
	}
	return aggregate(values)
}

// ByTask aggregates samples per task kind.
func (s *Stats) ByTask() map[TaskKind]StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	grouped := map[TaskKind][]int64{}
	for _, sm := range s.samples {
		grouped[sm.task] = append(grouped[sm.task], sm.durationMs)
	}
	out := make(map[TaskKind]StatsSnapshot, len(grouped))
	for task, values := range grouped {
		out[task] = aggregate(values)
	}
	return out
}

func aggregate(values []int64) StatsSnapshot {
	if len(values) == 0 {
		return StatsSnapshot{}
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return StatsSnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
