package orchestrator

import (
	"sync"
	"time"

	"github.com/finch-ai/finch/internal/engine"
)

// Snapshot is a point-in-time copy of the orchestrator's counters since the
// last reset. OTel instruments cover dashboards; this ledger exists for the
// stats endpoint, which needs readable, resettable numbers.
type Snapshot struct {
	Queries          uint64        `json:"queries"`
	Errors           uint64        `json:"errors"`
	Cancelled        uint64        `json:"cancelled"`
	ToolCalls        uint64        `json:"tool_calls"`
	ToolFailures     uint64        `json:"tool_failures"`
	CacheHits        uint64        `json:"cache_hits"`
	PlanningFailures uint64        `json:"planning_failures"`
	TotalLatency     time.Duration `json:"total_latency_ns"`
	Since            time.Time     `json:"since"`
}

// AvgLatency returns the mean query latency in the snapshot window.
func (s Snapshot) AvgLatency() time.Duration {
	if s.Queries == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Queries)
}

type statsLedger struct {
	mu   sync.Mutex
	snap Snapshot
}

func newStatsLedger() *statsLedger {
	return &statsLedger{snap: Snapshot{Since: time.Now()}}
}

func (l *statsLedger) query(status string, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Queries++
	l.snap.TotalLatency += elapsed
	switch status {
	case "error":
		l.snap.Errors++
	case "cancelled":
		l.snap.Cancelled++
	}
}

func (l *statsLedger) recordResults(results []engine.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range results {
		l.snap.ToolCalls++
		if r.Err != nil {
			l.snap.ToolFailures++
		}
		if r.Cached {
			l.snap.CacheHits++
		}
	}
}

func (l *statsLedger) planningFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.PlanningFailures++
}

func (l *statsLedger) snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

func (l *statsLedger) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = Snapshot{Since: time.Now()}
}
