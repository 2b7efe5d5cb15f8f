// Package ledger provides read-side helpers for the append-only violation and verification ledgers:
// offset/limit slicing, date filtering and reverse-chronological ordering.
package ledger

import (
	"time"
)

const (
	// DefaultLimit is used when Query.Limit is zero.
	DefaultLimit = 50
	// MaxLimit caps Query.Limit.
	MaxLimit = 500
)

// Query selects a window of a ledger. Since is inclusive, Until exclusive.
type Query struct {
	Offset int
	Limit  int
	Since  *time.Time
	Until  *time.Time
	// NewestFirst returns entries in reverse-chronological (reverse insertion) order for display.
	NewestFirst bool
}

// Normalized returns q with limit defaults and bounds applied.
func (q Query) Normalized() Query {
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

// Includes reports whether ts falls inside the query's date window.
func (q Query) Includes(ts time.Time) bool {
	if q.Since != nil && ts.Before(*q.Since) {
		return false
	}
	if q.Until != nil && !ts.Before(*q.Until) {
		return false
	}
	return true
}

// Page is one window of a ledger. NextOffset is -1 when there are no more entries.
type Page[T any] struct {
	Items      []T
	Total      int
	NextOffset int
}

// Apply filters entries (in insertion order) by the query window, orders them and slices [offset, offset+limit).
// entries is never modified.
func Apply[T any](entries []T, timestamp func(T) time.Time, q Query) Page[T] {
	q = q.Normalized()
	filtered := make([]T, 0, len(entries))
	for _, e := range entries {
		if q.Includes(timestamp(e)) {
			filtered = append(filtered, e)
		}
	}
	if q.NewestFirst {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}
	total := len(filtered)
	if q.Offset >= total {
		return Page[T]{Items: []T{}, Total: total, NextOffset: -1}
	}
	end := q.Offset + q.Limit
	next := end
	if end >= total {
		end = total
		next = -1
	}
	return Page[T]{Items: filtered[q.Offset:end], Total: total, NextOffset: next}
}
