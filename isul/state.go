package isul

import "fmt"

// transitions lists the legal moves of the activation lifecycle. Final states
// of an operation are only entered from Validating or Deactivating; a failed
// deactivation returns to whatever state it started from.
var transitions = map[State][]State{
	Unactivated:      {Validating, Deactivating},
	Validating:       {Activated, Failed, Cancelled, Expiring, Expired},
	Activated:        {Validating, Deactivating},
	Expiring:         {Validating, Deactivating},
	Expired:          {Validating, Deactivating},
	Failed:           {Validating, Deactivating},
	Cancelled:        {Validating, Deactivating},
	DeactivatedState: {Validating, Deactivating},
	Deactivating: {
		DeactivatedState,
		Unactivated, Activated, Expiring, Expired, Failed, Cancelled,
	},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves the lifecycle to the given state. An illegal move leaves
// the state untouched and returns an error wrapping ErrInternal.
func (m *Manager) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.state, to) {
		return fmt.Errorf("%w: illegal state transition %s -> %s", ErrInternal, m.state, to)
	}
	m.state = to
	return nil
}

// settle ends an operation in state to with status st.
func (m *Manager) settle(to State, st Status) Status {
	if err := m.transition(to); err != nil {
		return statusFromError(err)
	}
	return st
}
