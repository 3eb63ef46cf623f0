// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a WhatsApp relay: an HTTP API that sends
// messages through a single WhatsApp session, auto-replies to inbound
// messages and buffers failed sends until the session recovers.
//
// # Core Types
//
// [WhatsAppClient] owns the one live [Session]. It follows the session's
// lifecycle events, reconnects with a bounded retry budget after a closure
// and enters a terminal state on logout or once the budget is spent. Every
// transition to open drains the [DeliveryQueue].
//
// [WhatsAppClient.SendWithRetry] is the single outbound choke point: it sends
// immediately when the session is open and queues the message otherwise. The
// caller is told the message was accepted, never whether it was delivered.
//
// [InboundHandler] observes the session, records senders in the
// [ContactDirectory] and answers each inbound text with a fixed reply.
//
// [GroupDirectory] caches the joined groups from the last refresh and is the
// allowlist for group sends.
//
// # Sessions
//
// [Session] abstracts the protocol connection. The production implementation
// wraps whatsmeow and stores credentials in sqlite; tests use a scripted fake.
// Sessions are never reused: each reconnect creates a new one and events from
// replaced sessions are dropped.
//
// # Sub-packages
//
//   - mirror copies inbound messages into a Mattermost channel.
package connector
