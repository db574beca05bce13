// Package sequence issues the human-facing incident ticket numbers.
package sequence

import (
	"context"
	"fmt"
	"strings"

	"racecontrol/core/storage"
)

const (
	resource     = "counter"
	TicketPrefix = "INC-"
)

type counterDoc struct {
	NextIncidentNumber int `json:"nextIncidentNumber"`
}

// Counter allocates monotonically increasing INC-<n> tickets. Allocation is a
// read-increment-write under the counter document's lock, so concurrent calls
// always return distinct, gap-free tickets.
type Counter struct {
	store   *storage.Store
	initial int
}

func NewCounter(store *storage.Store, initial int) *Counter {
	return &Counter{store: store, initial: initial}
}

// Next increments the counter and returns the ticket for the new value. The
// counter is bumped before use: a fresh counter seeded with N issues
// INC-(N+1) first.
func (c *Counter) Next(ctx context.Context) (string, error) {
	n, err := storage.Update(ctx, c.store, resource,
		func() *counterDoc { return &counterDoc{NextIncidentNumber: c.initial} },
		func(doc *counterDoc) (bool, int, error) {
			doc.NextIncidentNumber++
			return true, doc.NextIncidentNumber, nil
		})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", TicketPrefix, n), nil
}

// Peek reports the current counter value without allocating.
func (c *Counter) Peek(ctx context.Context) (int, error) {
	return storage.View(ctx, c.store, resource,
		func() *counterDoc { return &counterDoc{NextIncidentNumber: c.initial} },
		func(doc *counterDoc) (int, error) { return doc.NextIncidentNumber, nil })
}

// Normalize canonicalizes user-supplied ticket input: whitespace trimmed,
// upper-cased, and bare digits prefixed, so "inc-12", " INC-12 " and "12" all
// resolve to "INC-12".
func Normalize(number string) string {
	n := strings.ToUpper(strings.TrimSpace(number))
	if n == "" {
		return ""
	}
	return TicketPrefix + strings.TrimPrefix(n, TicketPrefix)
}
