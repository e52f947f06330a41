package status

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("chats", nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Open},
		{Connecting, Errored},
		{Connecting, Closed},
		{Open, Closed},
		{Open, Errored},
		{Closed, Disconnected},
		{Errored, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("chats", nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Open},
		{Open, Connecting},
		{Closed, Connecting},
		{Errored, Open},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("chats", nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.ChannelNamespace, 10)
	defer unsub()

	m := NewMachine("presence", b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != KindStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, KindStateChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.Channel != "presence" || change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %+v, want presence DISCONNECTED -> CONNECTING", change)
	}
}

// TestReconnectCycle walks one full drop and reconnect:
// OPEN → ERRORED → DISCONNECTED → CONNECTING → OPEN
func TestReconnectCycle(t *testing.T) {
	m := NewMachine("chats", nil)
	walkTo(t, m, Open)

	steps := []State{Errored, Disconnected, Connecting, Open}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		from State
	}{
		{Disconnected}, {Connecting}, {Open}, {Closed}, {Errored},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			m := NewMachine("friends", nil)
			walkTo(t, m, tt.from)
			m.Settle(Closed)
			if m.Current() != Disconnected {
				t.Errorf("state after Settle = %s, want DISCONNECTED", m.Current())
			}
		})
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Open:         {Connecting, Open},
		Closed:       {Connecting, Open, Closed},
		Errored:      {Connecting, Errored},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
