package usecase

import (
	"sync"
	"sync/atomic"
	"time"

	"ChainPulse/internal/domain/fault"
)

// RunState is shared between the orchestrator, the signal handler and the status API.
type RunState struct {
	running atomic.Bool
	cycles  atomic.Int64

	mu        sync.Mutex
	errors    map[string]int64
	startedAt time.Time
	lastCycle time.Time
	lastRunID string
	lastIndex int
}

// RunStatus is a point-in-time copy of RunState.
type RunStatus struct {
	Running     bool             `json:"running"`
	Cycles      int64            `json:"cycles"`
	Errors      map[string]int64 `json:"errors"`
	StartedAt   time.Time        `json:"started_at"`
	LastCycleAt time.Time        `json:"last_cycle_at,omitempty"`
	LastRunID   string           `json:"last_run_id,omitempty"`
	CycleIndex  int              `json:"cycle_index"`
}

func NewRunState() *RunState {
	return &RunState{errors: make(map[string]int64)}
}

func (s *RunState) start(now time.Time) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.mu.Lock()
	s.startedAt = now
	s.mu.Unlock()
	return true
}

// Stop clears the running flag. Loops observe it at their next suspension point.
func (s *RunState) Stop() {
	s.running.Store(false)
}

func (s *RunState) Running() bool {
	return s.running.Load()
}

// CountError increments the counter for err's kind.
func (s *RunState) CountError(err error) {
	kind := fault.KindOf(err).String()
	s.mu.Lock()
	s.errors[kind]++
	s.mu.Unlock()
}

func (s *RunState) finishCycle(runID string, index int, at time.Time) {
	s.cycles.Add(1)
	s.mu.Lock()
	s.lastRunID = runID
	s.lastIndex = index
	s.lastCycle = at
	s.mu.Unlock()
}

func (s *RunState) Snapshot() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make(map[string]int64, len(s.errors))
	for k, v := range s.errors {
		errs[k] = v
	}
	return RunStatus{
		Running:     s.running.Load(),
		Cycles:      s.cycles.Load(),
		Errors:      errs,
		StartedAt:   s.startedAt,
		LastCycleAt: s.lastCycle,
		LastRunID:   s.lastRunID,
		CycleIndex:  s.lastIndex,
	}
}
