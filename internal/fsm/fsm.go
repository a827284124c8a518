// Package fsm defines the recorder worker lifecycle transitions.
package fsm

import "fmt"

type State string

type Event string

const (
	StateUninitialized State = "uninitialized"
	StateRunning       State = "running"
	StateStopped       State = "stopped"
)

const (
	// EventSpawn is a successful worker spawn.
	EventSpawn Event = "spawn"
	// EventExit is the worker process exiting on its own.
	EventExit Event = "exit"
	// EventTerminate is a forced shutdown requested by the host.
	EventTerminate Event = "terminate"
)

func Transition(current State, event Event) (State, error) {
	if event == EventTerminate {
		switch current {
		case StateUninitialized, StateRunning, StateStopped:
			return StateStopped, nil
		default:
			return current, fmt.Errorf("unknown state %q", current)
		}
	}

	switch current {
	case StateUninitialized, StateStopped:
		switch event {
		case EventSpawn:
			return StateRunning, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRunning:
		switch event {
		case EventSpawn:
			return StateRunning, nil
		case EventExit:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
