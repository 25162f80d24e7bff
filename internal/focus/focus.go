// Package focus arbitrates exclusive rights to render audio on the alerts
// channel. The scheduler acquires the channel when an alert becomes ready
// and releases it when nothing is rendering; grants and revocations arrive
// asynchronously through the observer callback.
package focus

import "sync"

// State is the focus granted to the alerts channel.
type State int

const (
	StateNone State = iota
	StateBackground
	StateForeground
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateBackground:
		return "BACKGROUND"
	case StateForeground:
		return "FOREGROUND"
	}
	return "UNKNOWN"
}

// Observer receives focus changes for the alerts channel. Callbacks are
// delivered asynchronously and must not call back into the arbiter.
type Observer interface {
	OnFocusChanged(state State)
}

// Arbiter grants and revokes the alerts audio channel.
type Arbiter interface {
	// Acquire requests the channel. The grant (or a later revocation)
	// is delivered via the observer. Returns false if the request could
	// not even be submitted.
	Acquire(o Observer) bool
	// Release gives the channel up. The arbiter confirms with a NONE
	// callback to the releasing observer.
	Release(o Observer)
}

// Manager is a single-channel in-process arbiter. A real device would sit
// this behind the platform interrupt model; the contract is the same:
// exactly one holder, grants pushed through callbacks.
type Manager struct {
	mu     sync.Mutex
	holder Observer
	state  State
}

func NewManager() *Manager {
	return &Manager{state: StateNone}
}

func (m *Manager) Acquire(o Observer) bool {
	if o == nil {
		return false
	}
	m.mu.Lock()
	if m.holder != nil && m.holder != o {
		m.mu.Unlock()
		return false
	}
	m.holder = o
	m.state = StateForeground
	m.mu.Unlock()

	go o.OnFocusChanged(StateForeground)
	return true
}

func (m *Manager) Release(o Observer) {
	m.mu.Lock()
	if m.holder != o {
		m.mu.Unlock()
		return
	}
	m.holder = nil
	m.state = StateNone
	m.mu.Unlock()

	go o.OnFocusChanged(StateNone)
}

// Preempt forces the current holder to the given state. This is how a
// higher-priority activity (dialog, content) pushes alerts to the
// background or silences them entirely.
func (m *Manager) Preempt(state State) {
	m.mu.Lock()
	o := m.holder
	m.state = state
	if state == StateNone {
		m.holder = nil
	}
	m.mu.Unlock()

	if o != nil {
		go o.OnFocusChanged(state)
	}
}

// State reports the channel's current focus.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
