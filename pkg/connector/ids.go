// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
)

const (
	// DefaultUserServer is the domain suffix of individual WhatsApp accounts.
	DefaultUserServer = "s.whatsapp.net"
	// GroupServer is the domain suffix of WhatsApp group chats.
	GroupServer = "g.us"
)

// MakeUserJID turns a bare phone number into a destination identifier by
// appending the user server. Identifiers that already carry the suffix are
// returned unchanged.
func MakeUserJID(phone, server string) string {
	if server == "" {
		server = DefaultUserServer
	}
	phone = strings.TrimSpace(phone)
	if strings.HasSuffix(phone, "@"+server) {
		return phone
	}
	return phone + "@" + server
}

// ParseUserJID extracts the user part of a destination identifier.
func ParseUserJID(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	return user
}

// IsGroupJID reports whether the identifier addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupServer)
}
