package runner

import (
	"errors"
	"sync"
	"time"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
)

// State is the lifecycle state of a Runner.
type State string

// Runner lifecycle states.
const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateStopped  State = "stopped"
)

// States lists every State, for metric export.
var States = []State{StateStarting, StateRunning, StateBackoff, StateStopped}

const maxBackoffShift = 4

// StateMachine tracks the runner's lifecycle. Failed cycles push it into
// backoff; fatal errors and cancellation stop it.
type StateMachine struct {
	mu           sync.RWMutex
	state        State
	reason       string
	failures     int
	backoffUntil time.Time
	base         time.Duration
	clock        apperrors.Clock
}

// NewStateMachine creates a StateMachine in StateStarting. base is the
// backoff after the first failed cycle; it doubles per consecutive failure
// up to 16x.
func NewStateMachine(clock apperrors.Clock, base time.Duration) *StateMachine {
	return &StateMachine{state: StateStarting, base: base, clock: clock}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// StateReason returns why the current state was entered.
func (sm *StateMachine) StateReason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.reason
}

// Failures returns the number of consecutive failed cycles.
func (sm *StateMachine) Failures() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.failures
}

// TransitionTo sets the state directly.
func (sm *StateMachine) TransitionTo(state State, reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = state
	sm.reason = reason
}

// HandleCycleResult moves the machine according to the outcome of a cycle.
func (sm *StateMachine) HandleCycleResult(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch {
	case err == nil:
		sm.state = StateRunning
		sm.reason = ""
		sm.failures = 0
	case errors.Is(err, apperrors.ErrCancelled):
		sm.state = StateStopped
		sm.reason = "cancelled"
	case apperrors.IsFatal(err):
		sm.state = StateStopped
		sm.reason = err.Error()
	default:
		sm.failures++
		shift := min(sm.failures-1, maxBackoffShift)
		sm.state = StateBackoff
		sm.reason = err.Error()
		sm.backoffUntil = sm.clock.Now().Add(sm.base << shift)
	}
}

// IsBackoffExpired reports whether the backoff period has elapsed.
func (sm *StateMachine) IsBackoffExpired() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return !sm.clock.Now().Before(sm.backoffUntil)
}

// BackoffRemaining returns the time until backoff expires, or 0.
func (sm *StateMachine) BackoffRemaining() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return max(sm.backoffUntil.Sub(sm.clock.Now()), 0)
}
