// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// QueueEntry is a send that failed and waits for the next healthy session.
type QueueEntry struct {
	ID          uuid.UUID `json:"id"`
	Destination string    `json:"destination"`
	Text        string    `json:"text"`
	Attempts    int       `json:"attempts"`
	QueuedAt    time.Time `json:"queued_at"`
}

// DeliveryQueue is an in-memory FIFO of pending sends. Entries are appended
// at the tail and consumed from the head; there is no priority and no
// deduplication.
type DeliveryQueue struct {
	mu    sync.Mutex
	items []QueueEntry
}

func NewDeliveryQueue() *DeliveryQueue {
	return &DeliveryQueue{}
}

// Enqueue appends a new entry at the tail and returns the resulting depth.
func (q *DeliveryQueue) Enqueue(destination, text string) int {
	return q.Requeue(QueueEntry{
		ID:          uuid.New(),
		Destination: destination,
		Text:        text,
		QueuedAt:    time.Now(),
	})
}

// Requeue appends an existing entry at the tail and returns the resulting depth.
func (q *DeliveryQueue) Requeue(entry QueueEntry) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, entry)
	return len(q.items)
}

// Pop removes and returns the head entry.
func (q *DeliveryQueue) Pop() (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueueEntry{}, false
	}
	entry := q.items[0]
	q.items[0] = QueueEntry{}
	q.items = q.items[1:]
	return entry, true
}

func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the pending entries in queue order.
func (q *DeliveryQueue) Snapshot() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueEntry, len(q.items))
	copy(out, q.items)
	return out
}
