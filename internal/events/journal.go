package events

import (
	"context"
	"sync"
)

// DefaultJournalSize bounds the in-memory journal.
const DefaultJournalSize = 1024

// Journal is an in-memory EventStore keeping the most recent events.
type Journal struct {
	Size int

	mu     sync.RWMutex
	events []Event
}

// Append implements EventStore. The oldest event is dropped once Size is reached.
func (j *Journal) Append(_ context.Context, ev Event) error {
	size := j.Size
	if size <= 0 {
		size = DefaultJournalSize
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	if over := len(j.events) - size; over > 0 {
		j.events = append([]Event(nil), j.events[over:]...)
	}
	return nil
}

// ForAggregate returns up to limit events for aggregateID, oldest first.
// A non-positive limit returns all of them.
func (j *Journal) ForAggregate(aggregateID string, limit int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Event
	for i := len(j.events) - 1; i >= 0; i-- {
		if j.events[i].AggregateID != aggregateID {
			continue
		}
		out = append(out, j.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// Forget drops every event recorded for aggregateID.
func (j *Journal) Forget(aggregateID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	kept := j.events[:0]
	for _, ev := range j.events {
		if ev.AggregateID != aggregateID {
			kept = append(kept, ev)
		}
	}
	j.events = kept
}

// Len reports how many events are held.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.events)
}

// Notify implements Notifier: a session.ended event drops that session's history.
func (j *Journal) Notify(_ context.Context, ev Event) error {
	if ev.Topic == TopicSessionEnded {
		j.Forget(ev.AggregateID)
	}
	return nil
}
