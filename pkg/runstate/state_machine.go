package runstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"
)

// State is the manager's belief about the bypass service
type State string

const (
	// StateStopped is the initial state and the result of a successful stop
	StateStopped State = "stopped"

	// StateStarting means a start entry point is being executed
	StateStarting State = "starting"

	// StateRunning means the last successful operation was a start
	StateRunning State = "running"

	// StateStopping means the stop entry point is being executed
	StateStopping State = "stopping"
)

// Transition records one state change
type Transition struct {
	From      State
	To        State
	Operation string
	Timestamp time.Time
	Error     error
}

const maxHistory = 100

// Machine validates run-state transitions
type Machine struct {
	name             string
	currentState     State
	transitions      []Transition
	validTransitions map[State][]State
	mutex            sync.RWMutex
	logger           logging.Logger
}

func NewMachine(name string, logger logging.Logger) *Machine {
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	return &Machine{
		name:         name,
		currentState: StateStopped,
		logger:       logger,
		validTransitions: map[State][]State{
			StateStopped: {
				StateStarting, // start
			},
			StateStarting: {
				StateRunning, // start entry point succeeded
				StateStopped, // start entry point failed
			},
			StateRunning: {
				StateStopping, // stop
			},
			StateStopping: {
				StateStopped, // stop entry point succeeded
				StateRunning, // stop entry point failed
			},
		},
	}
}

func (m *Machine) Current() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.currentState
}

// Running reports the two-valued RunState: true once a start succeeded and until a stop succeeds
func (m *Machine) Running() bool {
	state := m.Current()
	return state == StateRunning || state == StateStopping
}

func (m *Machine) CanTransition(to State) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.canTransitionUnsafe(to)
}

// Transition changes the state with validation
func (m *Machine) Transition(to State, operation string, err error) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.canTransitionUnsafe(to) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition from '%s' to '%s'", m.currentState, to),
			nil,
		).WithContext("name", m.name).
			WithContext("from_state", string(m.currentState)).
			WithContext("to_state", string(to)).
			WithContext("operation", operation)
	}

	from := m.currentState
	m.transitions = append(m.transitions, Transition{
		From:      from,
		To:        to,
		Operation: operation,
		Timestamp: time.Now(),
		Error:     err,
	})
	if len(m.transitions) > maxHistory {
		m.transitions = m.transitions[len(m.transitions)-maxHistory:]
	}
	m.currentState = to

	if err != nil {
		m.logger.Warnf("Run state transition after failure, %s: %s->%s, operation: %s, error: %v",
			m.name, from, to, operation, err)
	} else {
		m.logger.Infof("Run state transition, %s: %s->%s, operation: %s",
			m.name, from, to, operation)
	}
	return nil
}

func (m *Machine) canTransitionUnsafe(to State) bool {
	for _, valid := range m.validTransitions[m.currentState] {
		if valid == to {
			return true
		}
	}
	return false
}

// History returns a copy of the most recent transitions, oldest first
func (m *Machine) History() []Transition {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	history := make([]Transition, len(m.transitions))
	copy(history, m.transitions)
	return history
}

// LastTransition returns the latest transition or nil
func (m *Machine) LastTransition() *Transition {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if len(m.transitions) == 0 {
		return nil
	}
	last := m.transitions[len(m.transitions)-1]
	return &last
}
