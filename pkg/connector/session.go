// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
)

// Session is a single live link to the messaging network. A Session is never
// reused after it closes; the client replaces it with a fresh one instead.
type Session interface {
	// AddObserver registers an observer for lifecycle and message events.
	// Must be called before Connect.
	AddObserver(obs Observer)
	// Connect starts establishing the link. It returns once the attempt is
	// underway; OpenedEvent reports when the session is usable.
	Connect(ctx context.Context) error
	// Disconnect closes the link without invalidating stored credentials.
	Disconnect()
	// Logout invalidates the stored credentials and closes the link.
	Logout(ctx context.Context) error
	SendText(ctx context.Context, to, text string) error
	JoinedGroups(ctx context.Context) ([]GroupEntry, error)
	IsLoggedIn() bool
}

// SessionFactory creates a new, unconnected Session from the persisted
// credential state.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// Observer receives events emitted by a Session.
type Observer interface {
	HandleSessionEvent(evt SessionEvent)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(evt SessionEvent)

func (f ObserverFunc) HandleSessionEvent(evt SessionEvent) {
	f(evt)
}

// SessionEvent is one of OpenedEvent, ClosedEvent, MessagesEvent,
// PairingCodeEvent or PairedEvent.
type SessionEvent interface {
	isSessionEvent()
}

// CloseReason classifies why a session closed.
type CloseReason int

const (
	CloseConnectionLost CloseReason = iota
	CloseLoggedOut
	CloseReplaced
	CloseConnectFailure
	// CloseRejected means the server refused this client (ban, outdated
	// version). Retrying cannot succeed.
	CloseRejected
)

func (r CloseReason) String() string {
	switch r {
	case CloseConnectionLost:
		return "connection_lost"
	case CloseLoggedOut:
		return "logged_out"
	case CloseReplaced:
		return "replaced"
	case CloseConnectFailure:
		return "connect_failure"
	case CloseRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether a closure with this reason must not be retried.
func (r CloseReason) Terminal() bool {
	return r == CloseLoggedOut || r == CloseRejected
}

// OpenedEvent is emitted once the session is authenticated and usable.
type OpenedEvent struct{}

// ClosedEvent is emitted when the session's link drops.
type ClosedEvent struct {
	Reason CloseReason
	Err    error
}

// MessagesEvent carries a batch of inbound messages.
type MessagesEvent struct {
	Messages []InboundMessage
}

// PairingCodeEvent carries a new code to be shown as a QR code while the
// device is not yet paired.
type PairingCodeEvent struct {
	Code string
}

// PairedEvent is emitted when pairing completes.
type PairedEvent struct {
	ID string
}

func (*OpenedEvent) isSessionEvent()      {}
func (*ClosedEvent) isSessionEvent()      {}
func (*MessagesEvent) isSessionEvent()    {}
func (*PairingCodeEvent) isSessionEvent() {}
func (*PairedEvent) isSessionEvent()      {}

// InboundMessage is a received message, reduced to what the relay uses.
type InboundMessage struct {
	ID       string
	Chat     string
	Sender   string
	PushName string
	FromMe   bool
	// Text is empty when the message has no plain-text content.
	Text string
}

// GroupEntry is a group the session participates in.
type GroupEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
