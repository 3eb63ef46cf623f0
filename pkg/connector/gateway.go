// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
)

// Sender is the outbound path used by everything that replies to users.
type Sender interface {
	SendWithRetry(ctx context.Context, to, text string) Delivery
}

// Delivery reports what happened to an accepted send. Acceptance is not
// delivery: a queued message may still never arrive.
type Delivery struct {
	Queued     bool
	QueueDepth int
}

var _ Sender = (*WhatsAppClient)(nil)

// SendWithRetry sends text to the destination through the current session.
// If there is no open session or the send fails, the message is appended to
// the delivery queue instead and will be retried on the next reconnect. It
// never returns an error.
func (c *WhatsAppClient) SendWithRetry(ctx context.Context, to, text string) Delivery {
	err := c.SendDirect(ctx, to, text)
	if err == nil {
		c.log.Debug().Str("destination", to).Msg("Message sent")
		return Delivery{QueueDepth: c.queue.Len()}
	}

	depth := c.queue.Enqueue(to, text)
	c.log.Warn().Err(err).
		Str("destination", to).
		Int("queue_depth", depth).
		Msg("Failed to send message, added to delivery queue")
	return Delivery{Queued: true, QueueDepth: depth}
}

// SendDirect sends text through the current session without queueing on
// failure.
func (c *WhatsAppClient) SendDirect(ctx context.Context, to, text string) error {
	sess, err := c.openSession()
	if err != nil {
		return err
	}
	return c.sendVia(ctx, sess, to, text)
}

func (c *WhatsAppClient) sendVia(ctx context.Context, sess Session, to, text string) error {
	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
	}
	if err := sess.SendText(ctx, to, text); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// Drain sends queued messages in order while the session stays open. On the
// first failure the failed entry is appended back at the tail and draining
// stops until the next drain. Drains are serialised. Returns the number of
// messages sent.
func (c *WhatsAppClient) Drain(ctx context.Context) int {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	sent := 0
	for {
		sess, err := c.openSession()
		if err != nil {
			break
		}
		entry, ok := c.queue.Pop()
		if !ok {
			break
		}
		entry.Attempts++
		if err := c.sendVia(ctx, sess, entry.Destination, entry.Text); err != nil {
			depth := c.queue.Requeue(entry)
			c.log.Warn().Err(err).
				Str("destination", entry.Destination).
				Int("attempts", entry.Attempts).
				Int("queue_depth", depth).
				Msg("Failed to send queued message, re-added to delivery queue")
			break
		}
		sent++
		c.log.Debug().
			Str("destination", entry.Destination).
			Stringer("entry_id", entry.ID).
			Msg("Queued message sent")
	}

	if sent > 0 {
		c.log.Info().
			Int("sent", sent).
			Int("remaining", c.queue.Len()).
			Msg("Delivery queue drained")
	}
	return sent
}
