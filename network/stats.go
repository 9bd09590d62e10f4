package network

import (
	"sync"
	"time"
)

const statsWindow = 5 * time.Minute

type sample struct {
	at       time.Time
	duration time.Duration
	ok       bool
}

// PortStats summarises recent traffic on one port for the getStats bridge
// request.
type PortStats struct {
	Port         int
	RequestCount int
	ErrorCount   int
	AvgLatency   time.Duration
}

// StatsTracker keeps a bounded sliding window of per-port request samples.
type StatsTracker struct {
	mu      sync.Mutex
	samples map[int][]sample
}

func NewStatsTracker() *StatsTracker {
	return &StatsTracker{samples: map[int][]sample{}}
}

func (t *StatsTracker) Record(port int, duration time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[port] = append(prune(t.samples[port]), sample{at: time.Now(), duration: duration, ok: ok})
}

func prune(samples []sample) []sample {
	cutoff := time.Now().Add(-statsWindow)
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	return samples[i:]
}

// Snapshot returns current stats for port, computed over the live window.
func (t *StatsTracker) Snapshot(port int) PortStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	samples := prune(t.samples[port])
	t.samples[port] = samples

	stats := PortStats{Port: port}
	var total time.Duration
	for _, s := range samples {
		stats.RequestCount++
		total += s.duration
		if !s.ok {
			stats.ErrorCount++
		}
	}
	if stats.RequestCount > 0 {
		stats.AvgLatency = total / time.Duration(stats.RequestCount)
	}
	return stats
}

// All returns a snapshot for every port with recorded samples.
func (t *StatsTracker) All() []PortStats {
	t.mu.Lock()
	ports := make([]int, 0, len(t.samples))
	for port := range t.samples {
		ports = append(ports, port)
	}
	t.mu.Unlock()

	out := make([]PortStats, 0, len(ports))
	for _, port := range ports {
		out = append(out, t.Snapshot(port))
	}
	return out
}
