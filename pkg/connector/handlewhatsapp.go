// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// InboundMirror copies inbound messages to a secondary destination.
type InboundMirror interface {
	MirrorInbound(ctx context.Context, from, name, text string) error
}

// InboundHandler answers every qualifying inbound message with a fixed reply
// and records its sender in the contact directory.
type InboundHandler struct {
	contacts  *ContactDirectory
	sender    Sender
	mirror    InboundMirror
	replyText string
	timeout   time.Duration
	log       zerolog.Logger
}

var _ Observer = (*InboundHandler)(nil)

// NewInboundHandler creates a handler. mirror may be nil.
func NewInboundHandler(contacts *ContactDirectory, sender Sender, mirror InboundMirror, replyText string, log zerolog.Logger) *InboundHandler {
	return &InboundHandler{
		contacts:  contacts,
		sender:    sender,
		mirror:    mirror,
		replyText: replyText,
		timeout:   time.Minute,
		log:       log.With().Str("component", "inbound").Logger(),
	}
}

// HandleSessionEvent implements Observer. Only the first message of each
// batch is considered.
func (h *InboundHandler) HandleSessionEvent(evt SessionEvent) {
	batch, ok := evt.(*MessagesEvent)
	if !ok || len(batch.Messages) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	h.handleMessage(ctx, batch.Messages[0])
}

// parseInbound applies the filters for auto-reply. Returns false to skip.
func (h *InboundHandler) parseInbound(msg InboundMessage) bool {
	// Echo prevention: skip own messages.
	if msg.FromMe {
		return false
	}
	if msg.Text == "" {
		h.log.Trace().Str("message_id", msg.ID).Msg("Skipping message without text content")
		return false
	}
	if msg.Chat == "" {
		return false
	}
	return true
}

func (h *InboundHandler) handleMessage(ctx context.Context, msg InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).
				Str("message_id", msg.ID).
				Msg("Panic while processing inbound message")
		}
	}()

	if !h.parseInbound(msg) {
		return
	}

	log := h.log.With().
		Str("message_id", msg.ID).
		Str("chat", msg.Chat).
		Logger()
	log.Info().
		Str("push_name", msg.PushName).
		Str("text", msg.Text).
		Msg("Message received")

	// The first-seen display name is kept; later name changes are not picked up.
	if h.contacts.Upsert(msg.Chat, msg.PushName, msg.Text) {
		log.Debug().Int("contacts", h.contacts.Len()).Msg("New contact recorded")
	}

	if h.mirror != nil {
		if err := h.mirror.MirrorInbound(ctx, msg.Chat, msg.PushName, msg.Text); err != nil {
			log.Warn().Err(err).Msg("Failed to mirror inbound message")
		}
	}

	delivery := h.sender.SendWithRetry(ctx, msg.Chat, h.replyText)
	if delivery.Queued {
		log.Warn().Int("queue_depth", delivery.QueueDepth).Msg("Auto-reply queued for later delivery")
	}
}
