// Package status tracks the daemon's RemoteSync connectivity state.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/msgcore/internal/bus"
)

// ChangedEvent is the bus kind published on every transition.
const ChangedEvent = "daemon.status_changed"

// State represents a daemon runtime state.
type State string

const (
	Booting State = "BOOTING"
	// Offline means no remote transport is configured; local writes pile up
	// as pending.
	Offline  State = "OFFLINE"
	Ready    State = "READY"
	Syncing  State = "SYNCING"
	Degraded State = "DEGRADED"
	Stopping State = "STOPPING"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Offline, Ready, Stopping, Error},
	Offline:  {Stopping, Error},
	Ready:    {Syncing, Stopping, Error},
	Syncing:  {Ready, Degraded, Stopping, Error},
	Degraded: {Syncing, Ready, Stopping, Error},
	Stopping: {},
	Error:    {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state. Safe to call on a nil receiver.
func (m *Machine) Current() State {
	if m == nil {
		return Booting
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(to)
}

// Set moves to state to if it is not already current. Unlike Transition it
// is a no-op on a nil receiver and when the state is unchanged.
func (m *Machine) Set(to State) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return nil
	}
	return m.transition(to)
}

func (m *Machine) transition(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      ChangedEvent,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
