// Copyright 2024-2026 Aiku AI

// Package mirror copies inbound WhatsApp messages into a Mattermost channel.
package mirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// Config selects the Mattermost channel that receives mirrored messages.
type Config struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether mirroring is configured.
func (c Config) Enabled() bool {
	return c.ServerURL != ""
}

// Mattermost posts mirrored messages through the Mattermost REST API.
type Mattermost struct {
	client    *model.Client4
	channelID string
	log       zerolog.Logger
}

func NewMattermost(cfg Config, log zerolog.Logger) *Mattermost {
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)
	return &Mattermost{
		client:    client,
		channelID: cfg.ChannelID,
		log:       log.With().Str("component", "mm_mirror").Logger(),
	}
}

// MirrorInbound posts one inbound message to the configured channel.
func (m *Mattermost) MirrorInbound(ctx context.Context, from, name, text string) error {
	post := &model.Post{
		ChannelId: m.channelID,
		Message:   FormatPost(from, name, text),
	}
	created, _, err := m.client.CreatePost(ctx, post)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	m.log.Debug().
		Str("post_id", created.Id).
		Str("from", from).
		Msg("Mirrored inbound message")
	return nil
}

// FormatPost renders the Mattermost message body for a mirrored message.
func FormatPost(from, name, text string) string {
	user, _, _ := strings.Cut(from, "@")
	name = strings.TrimSpace(name)
	if name == "" {
		name = user
	}
	return fmt.Sprintf("**%s** (%s): %s", escapeMarkdown(name), user, text)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
