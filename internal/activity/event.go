// Package activity records caseload events and builds the recent-activity feed.
package activity

import (
	"sort"
	"time"
)

type Origin string

const (
	OriginSynthesized Origin = "synthesized"
	OriginPersisted   Origin = "persisted"
)

const (
	DefaultLimit = 10
	MaxLimit     = 10
)

type Event struct {
	Type        string    `json:"type"`
	StudentID   int64     `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	OwnerID     *int64    `json:"owner_id"`
	Origin      Origin    `json:"origin"`
}

// Key identifies one logical action in the feed.
type Key struct {
	Type      string
	StudentID int64
	Second    int64
}

func (e Event) Key() Key {
	return Key{Type: e.Type, StudentID: e.StudentID, Second: e.CreatedAt.Unix()}
}

// ClampLimit maps a requested feed size onto 1..MaxLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// supersedes reports whether candidate should replace current for the same key.
func supersedes(candidate, current Event) bool {
	if candidate.Origin != current.Origin {
		return candidate.Origin == OriginPersisted
	}
	if !candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.CreatedAt.After(current.CreatedAt)
	}
	if candidate.Description != current.Description {
		return candidate.Description < current.Description
	}
	return candidate.Title < current.Title
}

// Merge deduplicates both sources by Key and returns the newest limit events.
// The result depends only on the input contents, not their order.
func Merge(synthesized, persisted []Event, limit int) []Event {
	limit = ClampLimit(limit)
	byKey := make(map[Key]Event, len(synthesized)+len(persisted))
	for _, batch := range [][]Event{synthesized, persisted} {
		for _, ev := range batch {
			key := ev.Key()
			current, ok := byKey[key]
			if !ok || supersedes(ev, current) {
				byKey[key] = ev
			}
		}
	}

	out := make([]Event, 0, len(byKey))
	for _, ev := range byKey {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		return a.Description < b.Description
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
