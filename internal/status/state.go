package status

import (
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/tilechat/internal/bus"
)

// State is the daemon's session state as reported by GetStatus.
type State string

const (
	Booting         State = "BOOTING"
	Unauthenticated State = "UNAUTHENTICATED"
	Polling         State = "POLLING"
	Degraded        State = "DEGRADED"
	Error           State = "ERROR"
)

// ErrInvalidTransition is wrapped by Transition for edges missing from the
// table below.
var ErrInvalidTransition = errors.New("invalid status transition")

type edge struct{ from, to State }

var edges = map[edge]bool{
	{Booting, Unauthenticated}:  true,
	{Booting, Polling}:          true,
	{Unauthenticated, Polling}:  true,
	{Polling, Degraded}:         true,
	{Polling, Unauthenticated}:  true,
	{Degraded, Polling}:         true,
	{Degraded, Unauthenticated}: true,
	{Error, Booting}:            true,
}

func allowed(from, to State) bool {
	return to == Error || edges[edge{from, to}]
}

// Machine holds the current State and publishes every change on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to the given state. Re-entering the current state does
// nothing and emits no event.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if from == to {
		return nil
	}
	if !allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.current = to
	m.bus.Emit(bus.StatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload of bus.StatusChanged.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
