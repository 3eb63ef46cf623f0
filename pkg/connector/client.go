// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2/status"
)

// WhatsAppClient owns the single session handle. It establishes sessions,
// follows their lifecycle events, reconnects with a bounded retry budget and
// drains the delivery queue whenever a session opens.
type WhatsAppClient struct {
	factory     SessionFactory
	queue       *DeliveryQueue
	observers   []Observer
	maxRetries  int
	backoff     BackoffConfig
	sendTimeout time.Duration
	qrOut       io.Writer
	log         zerolog.Logger

	mu             sync.Mutex
	runCtx         context.Context
	session        Session
	state          ConnectionState
	retries        int
	loggedOut      bool
	pairingCode    string
	reconnectTimer *time.Timer
	rng            *rand.Rand

	drainMu sync.Mutex
	drains  sync.WaitGroup
}

// ClientStatus is a point-in-time view of the connection.
type ClientStatus struct {
	State          ConnectionState         `json:"state"`
	BridgeState    status.BridgeStateEvent `json:"bridge_state"`
	Retries        int                     `json:"retries"`
	MaxRetries     int                     `json:"max_retries"`
	QueueDepth     int                     `json:"queue_depth"`
	LoggedIn       bool                    `json:"logged_in"`
	PairingPending bool                    `json:"pairing_pending"`
}

// NewWhatsAppClient creates a disconnected client. Sessions are created
// through factory; failed sends are buffered in queue.
func NewWhatsAppClient(cfg *Config, factory SessionFactory, queue *DeliveryQueue, log zerolog.Logger) *WhatsAppClient {
	return &WhatsAppClient{
		factory:     factory,
		queue:       queue,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Reconnect,
		sendTimeout: cfg.SendTimeout,
		qrOut:       os.Stdout,
		log:         log.With().Str("component", "wa_client").Logger(),
		state:       StateDisconnected,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddObserver registers an observer on every session the client creates.
// Events from replaced sessions are not forwarded. Must be called before
// Connect.
func (c *WhatsAppClient) AddObserver(obs Observer) {
	c.observers = append(c.observers, obs)
}

// Connect establishes a new session. It is a no-op while a session is
// connecting or open, or while a reconnect is already scheduled. It does not
// wait for the session to open. Failures of this initial attempt are
// returned but do not consume the retry budget.
func (c *WhatsAppClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateOpen, StateClosedRetrying:
		c.mu.Unlock()
		return nil
	case StateClosedTerminal:
		c.mu.Unlock()
		return ErrTerminal
	}
	c.state = StateConnecting
	c.runCtx = ctx
	c.mu.Unlock()

	return c.establish(ctx, 0)
}

// establish creates, wires and starts a session. attempt is 0 for the
// initial connect and the retry counter value for reconnects.
func (c *WhatsAppClient) establish(ctx context.Context, attempt int) error {
	c.log.Info().Int("attempt", attempt).Msg("Connecting to WhatsApp")

	sess, err := c.factory.NewSession(ctx)
	if err != nil {
		c.establishFailed(nil, attempt, err)
		return fmt.Errorf("failed to create session: %w", err)
	}
	sess.AddObserver(ObserverFunc(func(evt SessionEvent) {
		c.handleSessionEvent(sess, evt)
	}))
	for _, obs := range c.observers {
		sess.AddObserver(c.bindObserver(sess, obs))
	}

	c.mu.Lock()
	// Close or cancellation may have happened while the session was being
	// created.
	if c.state != StateConnecting || ctx.Err() != nil {
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		sess.Disconnect()
		c.log.Debug().Int("attempt", attempt).Msg("Connection attempt abandoned")
		return errAttemptAbandoned
	}
	old := c.session
	c.session = sess
	c.mu.Unlock()
	if old != nil && old != sess {
		old.Disconnect()
	}

	if err := sess.Connect(ctx); err != nil {
		c.establishFailed(sess, attempt, err)
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *WhatsAppClient) establishFailed(sess Session, attempt int, err error) {
	c.mu.Lock()
	if sess != nil {
		if c.session != sess {
			// A lifecycle event already handled this session.
			c.mu.Unlock()
			return
		}
		c.session = nil
	}
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	if attempt == 0 {
		c.state = StateDisconnected
		c.log.Error().Err(err).Msg("Failed to connect to WhatsApp")
	} else {
		c.scheduleReconnectLocked(err)
	}
	c.mu.Unlock()

	if sess != nil {
		sess.Disconnect()
	}
}

// bindObserver forwards events to obs only while sess is the current session.
func (c *WhatsAppClient) bindObserver(sess Session, obs Observer) Observer {
	return ObserverFunc(func(evt SessionEvent) {
		if !c.isCurrent(sess) {
			return
		}
		obs.HandleSessionEvent(evt)
	})
}

func (c *WhatsAppClient) isCurrent(sess Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == sess
}

func (c *WhatsAppClient) handleSessionEvent(sess Session, evt SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("Panic while handling session event")
		}
	}()

	switch evt := evt.(type) {
	case *OpenedEvent:
		c.handleOpened(sess)
	case *ClosedEvent:
		c.handleClosed(sess, evt)
	case *PairingCodeEvent:
		c.handlePairingCode(sess, evt.Code)
	case *PairedEvent:
		c.handlePaired(sess, evt.ID)
	}
}

func (c *WhatsAppClient) handleOpened(sess Session) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		c.log.Debug().Msg("Ignoring open event from replaced session")
		return
	}
	c.state = StateOpen
	c.retries = 0
	c.pairingCode = ""
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.drains.Add(1)
	c.mu.Unlock()

	c.log.Info().Int("queue_depth", c.queue.Len()).Msg("Connection opened")

	go func() {
		defer c.drains.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("Panic while draining delivery queue")
			}
		}()
		c.Drain(ctx)
	}()
}

func (c *WhatsAppClient) handleClosed(sess Session, evt *ClosedEvent) {
	c.mu.Lock()
	if c.session != sess || (c.state != StateOpen && c.state != StateConnecting) {
		c.mu.Unlock()
		return
	}
	c.session = nil
	// A pairing code is only valid for the session that issued it.
	c.pairingCode = ""
	if evt.Reason.Terminal() {
		c.state = StateClosedTerminal
		c.loggedOut = evt.Reason == CloseLoggedOut
		c.log.Warn().Err(evt.Err).
			Stringer("reason", evt.Reason).
			Msg("Session closed permanently, not reconnecting")
	} else {
		c.log.Warn().Err(evt.Err).
			Stringer("reason", evt.Reason).
			Msg("Connection closed")
		c.scheduleReconnectLocked(evt.Err)
	}
	c.mu.Unlock()

	// Disconnecting from inside the protocol library's event dispatch can
	// block on that same dispatch.
	go sess.Disconnect()
}

// scheduleReconnectLocked consumes one unit of the retry budget and arms the
// next attempt, or enters the terminal state when the budget is spent.
func (c *WhatsAppClient) scheduleReconnectLocked(cause error) {
	if c.retries >= c.maxRetries {
		c.state = StateClosedTerminal
		c.log.Error().Err(cause).
			Int("retries", c.retries).
			Msg("Maximum number of reconnect attempts reached, giving up")
		return
	}
	c.retries++
	c.state = StateClosedRetrying
	attempt := c.retries
	delay := NextBackoffDelay(c.backoff, attempt, c.rng)
	c.log.Info().
		Int("attempt", attempt).
		Int("max_retries", c.maxRetries).
		Dur("delay", delay).
		Msg("Scheduling reconnect")
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.reconnect(attempt)
	})
}

func (c *WhatsAppClient) reconnect(attempt int) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("Panic while reconnecting")
		}
	}()

	c.mu.Lock()
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if c.state != StateClosedRetrying || c.retries != attempt || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.establish(ctx, attempt); err != nil {
		c.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
	}
}

// Logout invalidates the stored credentials. The client stays closed until
// the process is restarted.
func (c *WhatsAppClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}

	if err := sess.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}

	c.mu.Lock()
	if c.session == sess {
		c.session = nil
	}
	c.state = StateClosedTerminal
	c.loggedOut = true
	c.pairingCode = ""
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.mu.Unlock()

	c.log.Info().Msg("Logged out of WhatsApp")
	return nil
}

// Close disconnects the current session without logging out and cancels any
// scheduled reconnect.
func (c *WhatsAppClient) Close() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	sess := c.session
	c.session = nil
	if c.state != StateClosedTerminal {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if sess != nil {
		sess.Disconnect()
	}
	c.drains.Wait()
}

// IsLoggedIn reports whether the current session holds authenticated
// credentials.
func (c *WhatsAppClient) IsLoggedIn() bool {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	return sess != nil && sess.IsLoggedIn()
}

// State returns the current connection state.
func (c *WhatsAppClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries returns the current value of the retry counter.
func (c *WhatsAppClient) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

func (c *WhatsAppClient) Status() ClientStatus {
	c.mu.Lock()
	st := ClientStatus{
		State:          c.state,
		BridgeState:    bridgeStateEvent(c.state, c.loggedOut),
		Retries:        c.retries,
		MaxRetries:     c.maxRetries,
		PairingPending: c.pairingCode != "",
	}
	sess := c.session
	c.mu.Unlock()

	st.QueueDepth = c.queue.Len()
	st.LoggedIn = sess != nil && sess.IsLoggedIn()
	return st
}

// JoinedGroups lists the groups of the current session. The session must be
// open.
func (c *WhatsAppClient) JoinedGroups(ctx context.Context) ([]GroupEntry, error) {
	sess, err := c.openSession()
	if err != nil {
		return nil, err
	}
	return sess.JoinedGroups(ctx)
}

// openSession returns the current session if it is open.
func (c *WhatsAppClient) openSession() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNoSession
	}
	if c.state != StateOpen {
		return nil, ErrNotOpen
	}
	return c.session, nil
}
