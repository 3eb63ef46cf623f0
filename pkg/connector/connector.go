// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-relay/pkg/connector/mirror"
)

// WhatsAppConnector wires the relay together: the session client, the
// delivery queue, the directories, the inbound auto-responder and the HTTP API.
type WhatsAppConnector struct {
	Config   *Config
	Client   *WhatsAppClient
	Queue    *DeliveryQueue
	Contacts *ContactDirectory
	Groups   *GroupDirectory
	Inbound  *InboundHandler
	API      *API

	server *http.Server
	log    zerolog.Logger
}

// NewWhatsAppConnector builds a connector whose sessions come from factory.
// cfg must already be post-processed.
func NewWhatsAppConnector(cfg *Config, factory SessionFactory, log zerolog.Logger) *WhatsAppConnector {
	queue := NewDeliveryQueue()
	contacts := NewContactDirectory()
	groups := NewGroupDirectory()
	client := NewWhatsAppClient(cfg, factory, queue, log)

	var inboundMirror InboundMirror
	if cfg.Mirror.Enabled() {
		inboundMirror = mirror.NewMattermost(cfg.Mirror, log)
	}
	inbound := NewInboundHandler(contacts, client, inboundMirror, cfg.ReplyText, log)
	client.AddObserver(inbound)

	return &WhatsAppConnector{
		Config:   cfg,
		Client:   client,
		Queue:    queue,
		Contacts: contacts,
		Groups:   groups,
		Inbound:  inbound,
		API:      NewAPI(client, contacts, groups, cfg.UserServer, log),
		log:      log,
	}
}

// Handler returns the HTTP handler of the relay API.
func (wc *WhatsAppConnector) Handler() http.Handler {
	return wc.API.Router()
}

// Start connects to WhatsApp and starts serving the HTTP API. A failed
// initial connection is logged and does not prevent the API from starting.
// ctx bounds the lifetime of the session and of scheduled reconnects.
func (wc *WhatsAppConnector) Start(ctx context.Context) error {
	if err := wc.Client.Connect(ctx); err != nil {
		wc.log.Error().Err(err).Msg("Initial WhatsApp connection failed")
	}

	listener, err := net.Listen("tcp", wc.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", wc.Config.ListenAddr, err)
	}
	wc.server = &http.Server{
		Handler:      wc.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		wc.log.Info().Str("addr", listener.Addr().String()).Msg("Starting relay HTTP API")
		if err := wc.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wc.log.Error().Err(err).Msg("Relay HTTP API error")
		}
	}()
	return nil
}

// Stop shuts down the HTTP API and disconnects the session without logging out.
func (wc *WhatsAppConnector) Stop(ctx context.Context) error {
	var err error
	if wc.server != nil {
		err = wc.server.Shutdown(ctx)
	}
	wc.Client.Close()
	if queued := wc.Queue.Len(); queued > 0 {
		wc.log.Warn().Int("queue_depth", queued).Msg("Discarding undelivered queued messages")
	}
	return err
}
