// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// OpenDeviceStore opens the sqlite credential store at path, creating and
// upgrading it as needed.
func OpenDeviceStore(ctx context.Context, path string, log zerolog.Logger) (*sqlstore.Container, error) {
	dbLog := waLog.Zerolog(log.With().Str("component", "wa_store").Logger())
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+path+"?_foreign_keys=on", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store %s: %w", path, err)
	}
	return container, nil
}

// WhatsAppSessionFactory creates whatsmeow-backed sessions for the first
// device in the credential store.
type WhatsAppSessionFactory struct {
	Container *sqlstore.Container
	Log       zerolog.Logger
}

var _ SessionFactory = (*WhatsAppSessionFactory)(nil)

func (f *WhatsAppSessionFactory) NewSession(ctx context.Context) (Session, error) {
	device, err := f.Container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	log := f.Log.With().Str("component", "wa_session").Logger()
	client := whatsmeow.NewClient(device, waLog.Zerolog(log))
	// Reconnection is driven by WhatsAppClient so that the retry budget holds.
	client.EnableAutoReconnect = false
	sess := &whatsAppSession{
		client: client,
		log:    log,
	}
	sess.handlerID = client.AddEventHandler(sess.handleEvent)
	return sess, nil
}

type whatsAppSession struct {
	client    *whatsmeow.Client
	handlerID uint32
	log       zerolog.Logger

	mu        sync.RWMutex
	observers []Observer
}

var _ Session = (*whatsAppSession)(nil)

func (s *whatsAppSession) AddObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

func (s *whatsAppSession) dispatch(evt SessionEvent) {
	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()
	for _, obs := range observers {
		obs.HandleSessionEvent(evt)
	}
}

func (s *whatsAppSession) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		qrChan, err := s.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		go s.watchQR(qrChan)
	}
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect websocket: %w", err)
	}
	return nil
}

func (s *whatsAppSession) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			s.dispatch(&PairingCodeEvent{Code: item.Code})
		case "success":
			s.log.Debug().Msg("QR pairing succeeded")
		default:
			// whatsmeow disconnects locally here without a Disconnected event.
			s.log.Warn().Err(item.Error).Str("event", item.Event).Msg("QR pairing ended")
			s.dispatch(qrClosedEvent(item))
		}
	}
}

// qrClosedEvent describes the session closure that follows a failed pairing.
func qrClosedEvent(item whatsmeow.QRChannelItem) *ClosedEvent {
	err := item.Error
	if err == nil {
		err = fmt.Errorf("pairing ended: %s", item.Event)
	}
	reason := CloseConnectFailure
	if item.Event == whatsmeow.QRChannelClientOutdated.Event {
		reason = CloseRejected
	}
	return &ClosedEvent{Reason: reason, Err: err}
}

func (s *whatsAppSession) Disconnect() {
	s.client.RemoveEventHandler(s.handlerID)
	s.client.Disconnect()
}

func (s *whatsAppSession) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

func (s *whatsAppSession) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid destination %q: %w", to, err)
	}
	_, err = s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

func (s *whatsAppSession) JoinedGroups(ctx context.Context) ([]GroupEntry, error) {
	groups, err := s.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GroupEntry, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupEntry{ID: g.JID.String(), Name: g.Name})
	}
	return out, nil
}

func (s *whatsAppSession) IsLoggedIn() bool {
	return s.client.IsLoggedIn()
}

func (s *whatsAppSession) handleEvent(rawEvt any) {
	evt := translateEvent(rawEvt)
	if evt == nil {
		return
	}
	s.dispatch(evt)
}

// translateEvent maps a whatsmeow event onto a SessionEvent. Returns nil for
// events the relay does not use.
func translateEvent(rawEvt any) SessionEvent {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		return &OpenedEvent{}
	case *events.Disconnected:
		return &ClosedEvent{Reason: CloseConnectionLost}
	case *events.KeepAliveTimeout:
		// whatsmeow keeps the socket open and reports a Disconnected event
		// if the connection is actually lost.
		return nil
	case *events.LoggedOut:
		return &ClosedEvent{
			Reason: CloseLoggedOut,
			Err:    fmt.Errorf("logged out: %s", evt.Reason),
		}
	case *events.StreamReplaced:
		return &ClosedEvent{
			Reason: CloseReplaced,
			Err:    errors.New("stream replaced by another connection"),
		}
	case *events.ConnectFailure:
		return &ClosedEvent{
			Reason: CloseConnectFailure,
			Err:    fmt.Errorf("connect failure: %s", evt.Reason),
		}
	// whatsmeow expects the disconnect that follows these and reports no
	// Disconnected event for it.
	case *events.TemporaryBan:
		return &ClosedEvent{
			Reason: CloseRejected,
			Err:    fmt.Errorf("temporarily banned: %s", evt.String()),
		}
	case *events.ClientOutdated:
		return &ClosedEvent{
			Reason: CloseRejected,
			Err:    errors.New("client version is outdated"),
		}
	case *events.CATRefreshError:
		return &ClosedEvent{
			Reason: CloseConnectFailure,
			Err:    fmt.Errorf("failed to refresh crypto auth token: %w", evt.Error),
		}
	case *events.PairSuccess:
		return &PairedEvent{ID: evt.ID.String()}
	case *events.Message:
		return &MessagesEvent{Messages: []InboundMessage{inboundFromEvent(evt)}}
	default:
		return nil
	}
}

func inboundFromEvent(evt *events.Message) InboundMessage {
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	return InboundMessage{
		ID:       string(evt.Info.ID),
		Chat:     evt.Info.Chat.String(),
		Sender:   evt.Info.Sender.String(),
		PushName: evt.Info.PushName,
		FromMe:   evt.Info.IsFromMe,
		Text:     text,
	}
}
