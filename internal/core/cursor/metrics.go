package cursor

import (
	"time"
)

// commitRecord holds timing data for a stored commit.
type commitRecord struct {
	Slot        uint64
	CommittedAt time.Time
}

// Metrics holds cursor commit statistics.
type Metrics struct {
	CommitsPerSecond  float64       `json:"commits_per_second"`
	SlotsPerSecond    float64       `json:"slots_per_second"`
	AverageCommitTime time.Duration `json:"average_commit_interval"`
	LastCommitAt      *time.Time    `json:"last_commit_at,omitempty"`
	TotalCommits      uint64        `json:"total_commits"`
}

// MetricsCollector tracks commit throughput over a sliding window.
type MetricsCollector struct {
	windowSize int            // number of commits to track
	commits    []commitRecord // ring buffer of commits
	total      uint64
}

// RecordCommit records timing for a stored commit.
func (mc *MetricsCollector) RecordCommit(slot uint64, at time.Time) {
	record := commitRecord{
		Slot:        slot,
		CommittedAt: at,
	}
	mc.total++

	if len(mc.commits) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.commits, mc.commits[1:])
		mc.commits[len(mc.commits)-1] = record
	} else {
		mc.commits = append(mc.commits, record)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{TotalCommits: mc.total}
	if len(mc.commits) == 0 {
		return m
	}

	last := mc.commits[len(mc.commits)-1]
	at := last.CommittedAt
	m.LastCommitAt = &at

	if len(mc.commits) >= 2 {
		first := mc.commits[0]
		duration := last.CommittedAt.Sub(first.CommittedAt)

		if duration > 0 {
			count := float64(len(mc.commits) - 1)
			m.CommitsPerSecond = count / duration.Seconds()
			m.SlotsPerSecond = float64(last.Slot-first.Slot) / duration.Seconds()
			m.AverageCommitTime = time.Duration(float64(duration) / count)
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.commits = mc.commits[:0]
}
