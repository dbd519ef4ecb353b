// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package plugin provides plugin management and lifecycle control.
package plugin

// State represents the lifecycle state of a plugin.
type State uint8

// Lifecycle states. Unloaded is terminal.
const (
	StateDiscovered State = iota
	StateBlocked
	StateLoaded
	StateEnabled
	StateDisabled
	StateUnloaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateBlocked:
		return "blocked"
	case StateLoaded:
		return "loaded"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateUnloaded:
		return "unloaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions is the legal lifecycle transition table. A state absent
// from the map (Unloaded) has no outgoing transitions.
var transitions = map[State][]State{
	StateDiscovered: {StateLoaded, StateFailed, StateBlocked},
	StateBlocked:    {StateLoaded, StateUnloaded},
	StateLoaded:     {StateEnabled, StateUnloaded, StateFailed},
	StateEnabled:    {StateDisabled},
	StateDisabled:   {StateEnabled, StateUnloaded},
	StateFailed:     {StateUnloaded},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
