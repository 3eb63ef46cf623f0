// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"sync"
	"testing"
)

func TestDeliveryQueue_FIFO(t *testing.T) {
	t.Parallel()
	q := NewDeliveryQueue()
	for i := 1; i <= 3; i++ {
		if depth := q.Enqueue("1@s.whatsapp.net", fmt.Sprintf("msg %d", i)); depth != i {
			t.Errorf("Enqueue depth: got %d, want %d", depth, i)
		}
	}
	for i := 1; i <= 3; i++ {
		entry, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d: queue empty", i)
		}
		if want := fmt.Sprintf("msg %d", i); entry.Text != want {
			t.Errorf("Pop %d: got %q, want %q", i, entry.Text, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue should report false")
	}
}

func TestDeliveryQueue_EntriesHaveIdentity(t *testing.T) {
	t.Parallel()
	q := NewDeliveryQueue()
	q.Enqueue("1@s.whatsapp.net", "a")
	q.Enqueue("1@s.whatsapp.net", "a")
	entries := q.Snapshot()
	if entries[0].ID == entries[1].ID {
		t.Error("identical messages should get distinct entry IDs")
	}
	if entries[0].QueuedAt.IsZero() {
		t.Error("QueuedAt should be set")
	}
}

func TestDeliveryQueue_RequeueAppendsAtTail(t *testing.T) {
	t.Parallel()
	q := NewDeliveryQueue()
	q.Enqueue("1@s.whatsapp.net", "a")
	q.Enqueue("1@s.whatsapp.net", "b")

	head, _ := q.Pop()
	head.Attempts++
	if depth := q.Requeue(head); depth != 2 {
		t.Errorf("Requeue depth: got %d, want 2", depth)
	}
	entries := q.Snapshot()
	if entries[0].Text != "b" || entries[1].Text != "a" || entries[1].Attempts != 1 {
		t.Errorf("queue after requeue: got %+v", entries)
	}
}

func TestDeliveryQueue_SnapshotIsCopy(t *testing.T) {
	t.Parallel()
	q := NewDeliveryQueue()
	q.Enqueue("1@s.whatsapp.net", "a")
	snap := q.Snapshot()
	snap[0].Text = "mutated"
	if entries := q.Snapshot(); entries[0].Text != "a" {
		t.Error("Snapshot should not alias the queue")
	}
}

func TestDeliveryQueue_Concurrent(t *testing.T) {
	t.Parallel()
	q := NewDeliveryQueue()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue("1@s.whatsapp.net", "x")
			}
		}()
	}
	wg.Wait()
	if got := q.Len(); got != 1000 {
		t.Errorf("Len: got %d, want 1000", got)
	}
}
