package store

import (
	"context"
	"sync"
	"time"

	"collabchat/internal/pkg/randx"
)

// Memory is an in-memory Store. It backs single-node runs without Postgres
// and the test suites of every component that consumes a Store. Semantics
// match the Postgres log: per-group monotonic timestamps, idempotent appends
// keyed by dedup key, and commit-order subscriber delivery.
type Memory struct {
	mu sync.Mutex

	// messages holds each group's log in append order.
	messages map[string][]Message

	// byDedup indexes persisted messages by dedup key for idempotent retries.
	byDedup map[string]map[string]Message

	hub *hub

	// now is the clock; overridable in tests.
	now func() time.Time
}

// NewMemory returns an empty in-memory message log.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string][]Message),
		byDedup:  make(map[string]map[string]Message),
		hub:      newHub(),
		now:      time.Now,
	}
}

// Append persists the draft and notifies subscribers before returning.
// A repeated dedup key returns the previously persisted message unchanged
// and notifies nobody.
func (m *Memory) Append(ctx context.Context, groupID string, draft Draft) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, &WriteError{GroupID: groupID, DedupKey: draft.DedupKey, Err: err}
	}

	m.mu.Lock()

	if draft.DedupKey != "" {
		if existing, ok := m.byDedup[groupID][draft.DedupKey]; ok {
			m.mu.Unlock()
			return existing, nil
		}
	}

	createdAt := m.now().UTC()
	if log := m.messages[groupID]; len(log) > 0 {
		// Keep per-group timestamps strictly monotonic even on coarse clocks.
		if last := log[len(log)-1].CreatedAt; !createdAt.After(last) {
			createdAt = last.Add(time.Microsecond)
		}
	}

	msg := Message{
		ID:                randx.MessageID(),
		GroupID:           groupID,
		AuthorID:          draft.AuthorID,
		AuthorDisplayName: draft.AuthorDisplayName,
		Body:              draft.Body,
		DedupKey:          draft.DedupKey,
		CreatedAt:         createdAt,
	}

	m.messages[groupID] = append(m.messages[groupID], msg)
	if draft.DedupKey != "" {
		if m.byDedup[groupID] == nil {
			m.byDedup[groupID] = make(map[string]Message)
		}
		m.byDedup[groupID][draft.DedupKey] = msg
	}

	// Publish while holding the lock so subscriber delivery order always
	// matches append order.
	m.hub.publish(msg)

	m.mu.Unlock()

	return msg, nil
}

// History returns up to limit of the most recent messages, oldest first.
// A non-positive limit returns the full log.
func (m *Memory) History(ctx context.Context, groupID string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.messages[groupID]

	start := 0
	if limit > 0 && len(log) > limit {
		start = len(log) - limit
	}

	out := make([]Message, len(log)-start)
	copy(out, log[start:])
	return out, nil
}

// Subscribe registers fn for committed messages of a group.
func (m *Memory) Subscribe(groupID string, fn func(Message)) (cancel func()) {
	return m.hub.subscribe(groupID, fn)
}
