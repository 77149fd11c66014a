/*
Package store implements the durable message log backing group chats.

The log is append-only and ordered per group: once persisted, a message is
immutable and never reordered relative to other persisted messages in the same
group. Ordering key is CreatedAt with ties broken by the persistence-assigned
id. Subscribers observe messages in commit order, and an append that returned
success is guaranteed to reach every subscriber, including the sender's own
subscription.
*/
package store

import (
	"context"
	"fmt"
	"time"
)

// Message is a persisted chat message as recorded by the durable log.
type Message struct {
	// ID is the unique identifier assigned at persistence time.
	ID string `json:"id"`

	// GroupID identifies the group log this message belongs to.
	GroupID string `json:"groupId"`

	// AuthorID is the portal user id of the sender ("system" for system messages).
	AuthorID string `json:"authorId"`

	// AuthorDisplayName is the sender's display name at send time.
	AuthorDisplayName string `json:"authorDisplayName"`

	// Body is the message text.
	Body string `json:"body"`

	// DedupKey is the client-generated idempotency key carried alongside the
	// message. Retrying an append with the same key returns the original row.
	DedupKey string `json:"dedupKey"`

	// CreatedAt is the server-assigned timestamp, monotonic per group.
	CreatedAt time.Time `json:"createdAt"`
}

// Draft is the caller-supplied portion of a message, before the store assigns
// an id and timestamp.
type Draft struct {
	AuthorID          string
	AuthorDisplayName string
	Body              string
	DedupKey          string
}

// Less reports whether a sorts before b in a group timeline:
// ascending CreatedAt, ties broken by id.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// WriteError reports a failed append. The payload was not persisted; the
// caller must retry with the same dedup key so the eventual append stays
// idempotent.
type WriteError struct {
	GroupID  string
	DedupKey string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store: append to group %s failed (dedup key %s): %v", e.GroupID, e.DedupKey, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Store is the durable message log contract consumed by the messaging core.
//
// Append atomically assigns an id and server timestamp and never reorders
// relative to prior appends for the same group. A backend failure surfaces as
// *WriteError. Subscribe delivers committed messages for a group in commit
// order until the returned cancel function is called. History returns the
// most recent messages in timeline order (oldest first).
type Store interface {
	Append(ctx context.Context, groupID string, draft Draft) (Message, error)
	History(ctx context.Context, groupID string, limit int) ([]Message, error)
	Subscribe(groupID string, fn func(Message)) (cancel func())
}
