package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the connection state of a realtime channel.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Closed       State = "CLOSED"
	Errored      State = "ERRORED"
)

// KindStateChanged is published on every successful transition.
const KindStateChanged = "channel.state_changed"

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Open, Closed, Errored},
	Open:         {Closed, Errored},
	Closed:       {Disconnected},
	Errored:      {Disconnected},
}

// Machine tracks and enforces the state transitions of one channel.
type Machine struct {
	mu      sync.RWMutex
	channel string
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a state machine for the named channel starting in Disconnected.
func NewMachine(channel string, b *bus.Bus) *Machine {
	return &Machine{
		channel: channel,
		current: Disconnected,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%s: invalid transition from %s to %s", m.channel, m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	m.bus.Emit(KindStateChanged, StatusChange{
		Channel: m.channel,
		From:    from,
		To:      to,
	})
	return nil
}

// Settle walks the machine back to Disconnected through the terminal state
// to. It is a no-op when already Disconnected.
func (m *Machine) Settle(to State) {
	switch m.Current() {
	case Disconnected:
		return
	case Connecting, Open:
		_ = m.Transition(to)
	}
	_ = m.Transition(Disconnected)
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	Channel string
	From    State
	To      State
}
