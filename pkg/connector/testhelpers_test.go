// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-relay/pkg/connector/mirror"
)

// sentMessage records one SendText call on a fakeSession.
type sentMessage struct {
	To   string
	Text string
}

// fakeSession is a scripted Session. Lifecycle events are emitted by the
// test through emit, or automatically from Connect via openOnConnect and
// closeOnConnect.
type fakeSession struct {
	mu        sync.Mutex
	observers []Observer

	connectErr     error
	openOnConnect  bool
	closeOnConnect bool
	// sendErr, when set, decides the outcome of each SendText call.
	sendErr   func(ctx context.Context, to, text string) error
	groups    []GroupEntry
	groupsErr error
	loggedIn  bool
	logoutErr error

	attempts     []sentMessage
	sent         []sentMessage
	connects     int
	disconnected bool
	loggedOut    bool
}

var _ Session = (*fakeSession)(nil)

func (s *fakeSession) AddObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

func (s *fakeSession) emit(evt SessionEvent) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()
	for _, obs := range observers {
		obs.HandleSessionEvent(evt)
	}
}

func (s *fakeSession) Connect(_ context.Context) error {
	s.mu.Lock()
	s.connects++
	err := s.connectErr
	open := s.openOnConnect
	closeNow := s.closeOnConnect
	s.mu.Unlock()
	if err != nil {
		return err
	}
	switch {
	case open:
		s.emit(&OpenedEvent{})
	case closeNow:
		s.emit(&ClosedEvent{Reason: CloseConnectFailure})
	}
	return nil
}

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
}

func (s *fakeSession) Logout(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logoutErr != nil {
		return s.logoutErr
	}
	s.loggedOut = true
	s.loggedIn = false
	return nil
}

func (s *fakeSession) SendText(ctx context.Context, to, text string) error {
	s.mu.Lock()
	s.attempts = append(s.attempts, sentMessage{To: to, Text: text})
	sendErr := s.sendErr
	s.mu.Unlock()
	if sendErr != nil {
		if err := sendErr(ctx, to, text); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{To: to, Text: text})
	return nil
}

func (s *fakeSession) JoinedGroups(_ context.Context) ([]GroupEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupsErr != nil {
		return nil, s.groupsErr
	}
	return s.groups, nil
}

func (s *fakeSession) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *fakeSession) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]sentMessage, len(s.sent))
	copy(cp, s.sent)
	return cp
}

func (s *fakeSession) Attempts() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]sentMessage, len(s.attempts))
	copy(cp, s.attempts)
	return cp
}

func (s *fakeSession) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// fakeFactory hands out fakeSessions. configure, when set, scripts the i-th
// session before it is returned.
type fakeFactory struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	newErr    error
	configure func(i int, s *fakeSession)
}

var _ SessionFactory = (*fakeFactory)(nil)

func (f *fakeFactory) NewSession(_ context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	s := &fakeSession{loggedIn: true}
	if f.configure != nil {
		f.configure(len(f.sessions), s)
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Session returns the i-th session created, or nil.
func (f *fakeFactory) Session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sessions) {
		return nil
	}
	return f.sessions[i]
}

// openingFactory returns a factory whose sessions open as soon as they connect.
func openingFactory() *fakeFactory {
	return &fakeFactory{configure: func(_ int, s *fakeSession) {
		s.openOnConnect = true
	}}
}

// newTestClient creates a client with immediate reconnects and no QR output.
func newTestClient(t *testing.T, maxRetries int, factory SessionFactory) *WhatsAppClient {
	t.Helper()
	cfg := &Config{MaxRetries: maxRetries}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	client := NewWhatsAppClient(cfg, factory, NewDeliveryQueue(), zerolog.Nop())
	client.qrOut = nil
	t.Cleanup(client.Close)
	return client
}

// waitFor polls cond until it holds or fails the test after two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// recordingSender is a Sender that records every call.
type recordingSender struct {
	mu    sync.Mutex
	calls []sentMessage
}

func (r *recordingSender) SendWithRetry(_ context.Context, to, text string) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sentMessage{To: to, Text: text})
	return Delivery{}
}

func (r *recordingSender) Calls() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]sentMessage, len(r.calls))
	copy(cp, r.calls)
	return cp
}

// mirrorCall records one MirrorInbound call.
type mirrorCall struct {
	From, Name, Text string
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
	err   error
}

func (m *fakeMirror) MirrorInbound(_ context.Context, from, name, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{From: from, Name: name, Text: text})
	return m.err
}

func (m *fakeMirror) Calls() []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]mirrorCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

func mirrorConfig(serverURL, channelID string) mirror.Config {
	return mirror.Config{ServerURL: serverURL, Token: "test-token", ChannelID: channelID}
}

func (s *fakeSession) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// gatedFactory blocks NewSession until release is closed. entered is closed
// when the first call arrives.
type gatedFactory struct {
	fakeFactory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedFactory() *gatedFactory {
	return &gatedFactory{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedFactory) NewSession(ctx context.Context) (Session, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.fakeFactory.NewSession(ctx)
}

// newSlowRetryClient creates a client whose reconnects are scheduled an hour
// out, so the ClosedRetrying state can be observed.
func newSlowRetryClient(t *testing.T, factory SessionFactory) *WhatsAppClient {
	t.Helper()
	cfg := &Config{MaxRetries: 5, Reconnect: BackoffConfig{InitialDelay: time.Hour}}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	client := NewWhatsAppClient(cfg, factory, NewDeliveryQueue(), zerolog.Nop())
	client.qrOut = nil
	t.Cleanup(client.Close)
	return client
}
