// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"
)

// GroupFetcher lists the groups the current session participates in.
type GroupFetcher interface {
	JoinedGroups(ctx context.Context) ([]GroupEntry, error)
}

// GroupDirectory caches the groups seen in the last refresh. The set of
// known identifiers is the allowlist for group sends.
type GroupDirectory struct {
	mu     sync.RWMutex
	groups []GroupEntry
	known  map[string]struct{}
}

func NewGroupDirectory() *GroupDirectory {
	return &GroupDirectory{
		known: make(map[string]struct{}),
	}
}

// Refresh fetches the full group list and replaces the cache with it. On
// error the previous cache is left untouched.
func (d *GroupDirectory) Refresh(ctx context.Context, fetcher GroupFetcher) ([]GroupEntry, error) {
	groups, err := fetcher.JoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch joined groups: %w", err)
	}
	d.Replace(groups)
	return d.List(), nil
}

// Replace swaps the whole cache. Entries absent from groups are dropped.
func (d *GroupDirectory) Replace(groups []GroupEntry) {
	known := make(map[string]struct{}, len(groups))
	list := make([]GroupEntry, 0, len(groups))
	for _, g := range groups {
		if _, dup := known[g.ID]; dup {
			continue
		}
		known[g.ID] = struct{}{}
		list = append(list, g)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups = list
	d.known = known
}

// IsKnown reports whether id was present in the last refresh.
func (d *GroupDirectory) IsKnown(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.known[id]
	return ok
}

// List returns the cached groups in fetch order. Never nil.
func (d *GroupDirectory) List() []GroupEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]GroupEntry, len(d.groups))
	copy(out, d.groups)
	return out
}
