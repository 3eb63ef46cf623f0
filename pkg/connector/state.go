// Copyright 2024-2026 Aiku AI

package connector

import (
	"maunium.net/go/mautrix/bridgev2/status"
)

// ConnectionState is the lifecycle state of the current session handle.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosedRetrying
	StateClosedTerminal
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedRetrying:
		return "closed_retrying"
	case StateClosedTerminal:
		return "closed_terminal"
	default:
		return "unknown"
	}
}

// MarshalText lets the state serialize as its name in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// bridgeStateEvent maps a connection state onto the bridge state vocabulary
// used by mautrix bridges. loggedOut distinguishes a terminal state caused by
// logout from one caused by an exhausted reconnect budget.
func bridgeStateEvent(state ConnectionState, loggedOut bool) status.BridgeStateEvent {
	switch state {
	case StateConnecting:
		return status.StateConnecting
	case StateOpen:
		return status.StateConnected
	case StateClosedRetrying:
		return status.StateTransientDisconnect
	case StateClosedTerminal:
		if loggedOut {
			return status.StateLoggedOut
		}
		return status.StateUnknownError
	default:
		return status.StateStarting
	}
}
