package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// State is an alias for domain.PipelineState for internal use.
type State = domain.PipelineState

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	domain.StateResolving: {
		domain.StateConnecting,
		domain.StateReconnecting,
		domain.StateTerminated,
	},
	domain.StateConnecting: {
		domain.StateStreaming,
		domain.StateReconnecting,
		domain.StateTerminated,
	},
	domain.StateStreaming:    {domain.StateReconnecting, domain.StateTerminated},
	domain.StateReconnecting: {domain.StateResolving, domain.StateTerminated},
	domain.StateTerminated:   {},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.StateResolving:
		return "Resolving - choosing the start point from the cursor or intersect policy"
	case domain.StateConnecting:
		return "Connecting - negotiating the intersection with the node"
	case domain.StateStreaming:
		return "Streaming - following the chain and delivering confirmed blocks"
	case domain.StateReconnecting:
		return "Reconnecting - connection lost, backing off before a new session"
	case domain.StateTerminated:
		return "Terminated - pipeline stopped"
	default:
		return "Unknown state"
	}
}

// machine holds the current state and reports accepted transitions.
type machine struct {
	mu       sync.Mutex
	current  State
	since    time.Time
	reason   string
	onChange func(Transition)
}

func newMachine(initial State) *machine {
	return &machine{current: initial, since: time.Now()}
}

// transition moves to the given state. Moving to the current state is a
// no-op.
func (m *machine) transition(to State, reason string) error {
	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	t := NewTransition(m.current, to, reason)
	if !t.IsValid() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	m.current, m.since, m.reason = to, t.Timestamp, reason
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(t)
	}
	return nil
}

func (m *machine) snapshot() (State, time.Time, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.since, m.reason
}

func (m *machine) setCallback(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}
