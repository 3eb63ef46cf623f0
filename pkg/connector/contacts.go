// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"
)

// Contact is a remote party that has messaged the relay.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ContactDirectory holds one Contact per identifier, in order of first
// contact. It lives in process memory only.
type ContactDirectory struct {
	mu       sync.RWMutex
	contacts []Contact
	index    map[string]int
}

func NewContactDirectory() *ContactDirectory {
	return &ContactDirectory{
		index: make(map[string]int),
	}
}

// Upsert records the latest message from id. A new identifier is inserted
// with name and message; for a known identifier only the message is replaced
// and the first-seen name is kept. Returns true if a record was created.
func (d *ContactDirectory) Upsert(id, name, message string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.index[id]; ok {
		d.contacts[i].Message = message
		return false
	}
	d.index[id] = len(d.contacts)
	d.contacts = append(d.contacts, Contact{ID: id, Name: name, Message: message})
	return true
}

func (d *ContactDirectory) Get(id string) (Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[id]
	if !ok {
		return Contact{}, false
	}
	return d.contacts[i], true
}

// List returns all contacts in order of first contact. Never nil.
func (d *ContactDirectory) List() []Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Contact, len(d.contacts))
	copy(out, d.contacts)
	return out
}

func (d *ContactDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts)
}
