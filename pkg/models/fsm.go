package models

import (
	"fmt"
)

// validTaskTransitions maps from-state to allowed to-states
var validTaskTransitions = map[TaskState]map[TaskState]bool{
	TaskPending: {
		TaskRunning: true, // Pending → Running (runner picks up the task)
		TaskSkipped: true, // Pending → Skipped (earlier non-idempotent failure, or cancellation)
		TaskFailed:  true, // Pending → Failed (required connection not connected)
	},
	TaskRunning: {
		TaskSucceeded: true, // Running → Succeeded (unit of work returned nil)
		TaskFailed:    true, // Running → Failed (unit of work returned an error)
	},
	// Terminal states (no transitions allowed)
	TaskSucceeded: {},
	TaskFailed:    {},
	TaskSkipped:   {},
}

// validConnTransitions maps from-state to allowed to-states
var validConnTransitions = map[ConnState]map[ConnState]bool{
	ConnUnconnected: {
		ConnConnecting: true, // Unconnected → Connecting (resolve started)
	},
	ConnConnecting: {
		ConnConnected: true, // Connecting → Connected (dial and ping succeeded)
		ConnFailed:    true, // Connecting → Failed (budget exhausted or fatal error)
	},
	ConnConnected: {},
	ConnFailed: {
		ConnConnecting: true, // Failed → Connecting (explicit re-resolution only)
	},
}

// ValidateTaskTransition checks if a task state transition is valid
func ValidateTaskTransition(from, to TaskState) error {
	allowed, exists := validTaskTransitions[from]
	if !exists {
		return fmt.Errorf("unknown task state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition from %s to %s", from, to)
	}
	return nil
}

// ValidateConnTransition checks if a connection state transition is valid
func ValidateConnTransition(from, to ConnState) error {
	allowed, exists := validConnTransitions[from]
	if !exists {
		return fmt.Errorf("unknown connection state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid connection transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalTaskState returns true if no further task transitions are allowed
func IsTerminalTaskState(state TaskState) bool {
	return state == TaskSucceeded || state == TaskFailed || state == TaskSkipped
}
