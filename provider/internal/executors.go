package internal

import (
	"sync"
	"time"
)

// ExecutorState tracks executor occupancy as reported by the host scheduler.
// Both providers embed it so that provisioning and retention observe the same
// idle accounting.
type ExecutorState struct {
	mu sync.Mutex

	total     int
	idle      int
	idleSince time.Time
}

// NewExecutorState starts with every executor idle, as a freshly connected
// node has no work yet.
func NewExecutorState(total int, now time.Time) *ExecutorState {
	return &ExecutorState{
		total:     total,
		idle:      total,
		idleSince: now,
	}
}

// Update records the current number of idle executors. The idle-since
// timestamp only restarts when the node transitions from fully busy back to
// idle; partial occupancy changes keep the original timestamp, so a node that
// was never fully busy ages toward its idle threshold.
func (s *ExecutorState) Update(idle int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle = max(0, min(idle, s.total))
	if s.idle == 0 && idle > 0 {
		s.idleSince = now
	}
	s.idle = idle
}

func (s *ExecutorState) Total() int {
	return s.total
}

func (s *ExecutorState) Idle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

func (s *ExecutorState) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleSince
}
