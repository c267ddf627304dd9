package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// GatewayState is the top-level finite-state enum for the Gateway (§3, §4.6).
type GatewayState string

const (
	StateDormant       GatewayState = "dormant"
	StateAwake         GatewayState = "awake"
	StateActionPending GatewayState = "action_pending"
	StateShutdown      GatewayState = "shutdown"
)

// validTransitions defines the allowed state transitions (§4.6 table).
var validTransitions = map[GatewayState]map[GatewayState]bool{
	StateDormant: {
		StateAwake:    true,
		StateShutdown: true, // /kill is allowed from any state
	},
	StateAwake: {
		StateAwake:         true, // owner activity refresh
		StateDormant:       true, // /sleep or inactivity timeout
		StateShutdown:      true, // /kill
		StateActionPending: true, // dangerous tool call issued
	},
	StateActionPending: {
		StateAwake:    true, // all pending in batch resolved
		StateShutdown: true, // /kill is allowed from any state
	},
	// Terminal — no transitions out.
	StateShutdown: {},
}

// StateMachine manages GatewayState transitions. Thread-safe: reads may
// come from a concurrent /status command while the inactivity timer fires
// on the same cooperative scheduler (§5).
type StateMachine struct {
	mu        sync.RWMutex
	state     GatewayState
	logger    *zap.Logger
	listeners []func(from, to GatewayState)
}

// NewStateMachine creates a state machine starting in dormant (§3 Initial).
func NewStateMachine(logger *zap.Logger) *StateMachine {
	return &StateMachine{state: StateDormant, logger: logger}
}

// State returns the current state.
func (sm *StateMachine) State() GatewayState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Transition attempts to move to a new state, rejecting disallowed edges.
func (sm *StateMachine) Transition(to GatewayState) error {
	sm.mu.Lock()
	from := sm.state
	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid gateway state transition: %s -> %s", from, to)
		sm.logger.Error("state machine violation", zap.Error(err))
		return err
	}
	sm.state = to
	listeners := make([]func(from, to GatewayState), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("gateway state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}

// OnTransition registers a listener invoked after every successful
// transition. Used by the inactivity timer wiring and by the transport
// adapter to learn about auto-sleep (§4.6).
func (sm *StateMachine) OnTransition(fn func(from, to GatewayState)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// IsTerminal reports whether the machine reached shutdown.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state == StateShutdown
}
