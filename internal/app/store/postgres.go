package store

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"collabchat/internal/app/db"
	"collabchat/internal/pkg/logx"
	"collabchat/internal/pkg/randx"
)

// Log is the Postgres-backed Store. The database assigns timestamps and
// resolves ordering; a unique index on (group_id, dedup_key) makes retried
// appends idempotent. Subscribers are notified in commit order, which Log
// guarantees by serializing append+notify per group. Subscriptions are
// delivered through an in-process hub, so they reach the connections of one
// server instance.
type Log struct {
	pool *pgxpool.Pool
	hub  *hub

	// groupMu serializes Append per group so hub delivery order matches
	// commit order.
	groupMu sync.Map // groupID -> *sync.Mutex

	logger zerolog.Logger
}

// NewLog creates a Store backed by the given connection pool.
func NewLog(pool *pgxpool.Pool) *Log {
	return &Log{
		pool:   pool,
		hub:    newHub(),
		logger: logx.Logger().With().Str("component", "MessageLog").Logger(),
	}
}

func (l *Log) lockGroup(groupID string) *sync.Mutex {
	mu, _ := l.groupMu.LoadOrStore(groupID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

const insertMessageSQL = `
INSERT INTO messages (id, group_id, author_id, author_name, body, dedup_key)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`

const selectByDedupSQL = `
SELECT id, author_id, author_name, body, created_at
FROM messages
WHERE group_id = $1 AND dedup_key = $2`

// Append persists the draft, assigning id and timestamp. If the dedup key was
// already used in this group, the previously persisted message is returned and
// no subscriber is notified (it already was, when the original append
// committed).
func (l *Log) Append(ctx context.Context, groupID string, draft Draft) (Message, error) {
	mu := l.lockGroup(groupID)
	mu.Lock()
	defer mu.Unlock()

	msg := Message{
		ID:                randx.MessageID(),
		GroupID:           groupID,
		AuthorID:          draft.AuthorID,
		AuthorDisplayName: draft.AuthorDisplayName,
		Body:              draft.Body,
		DedupKey:          draft.DedupKey,
	}

	err := l.pool.QueryRow(ctx, insertMessageSQL,
		msg.ID, groupID, draft.AuthorID, draft.AuthorDisplayName, draft.Body, draft.DedupKey,
	).Scan(&msg.CreatedAt)

	if err == nil {
		l.hub.publish(msg)
		return msg, nil
	}

	// Keyless drafts are never deduplicated (the index ignores empty keys),
	// so a unique violation can only mean a genuine retry.
	if draft.DedupKey != "" && db.IsUniqueViolation(err) {
		existing := Message{GroupID: groupID, DedupKey: draft.DedupKey}
		dedupErr := l.pool.QueryRow(ctx, selectByDedupSQL, groupID, draft.DedupKey).Scan(
			&existing.ID, &existing.AuthorID, &existing.AuthorDisplayName,
			&existing.Body, &existing.CreatedAt,
		)
		if dedupErr == nil {
			l.logger.Info().
				Str("group_id", groupID).
				Str("dedup_key", draft.DedupKey).
				Msg("Duplicate append resolved to existing message.")
			return existing, nil
		}
		err = dedupErr
	}

	l.logger.Error().Err(err).
		Str("group_id", groupID).
		Str("dedup_key", draft.DedupKey).
		Msg("Message append failed.")

	return Message{}, &WriteError{GroupID: groupID, DedupKey: draft.DedupKey, Err: err}
}

const historySQL = `
SELECT id, author_id, author_name, body, dedup_key, created_at
FROM (
	SELECT id, author_id, author_name, body, dedup_key, created_at
	FROM messages
	WHERE group_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT $2
) recent
ORDER BY created_at ASC, id ASC`

// History returns up to limit of the group's most recent messages in timeline
// order (oldest first).
func (l *Log) History(ctx context.Context, groupID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := l.pool.Query(ctx, historySQL, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg := Message{GroupID: groupID}
		if err := rows.Scan(&msg.ID, &msg.AuthorID, &msg.AuthorDisplayName, &msg.Body, &msg.DedupKey, &msg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}

	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return out, nil
}

// Subscribe registers fn for committed messages of a group.
func (l *Log) Subscribe(groupID string, fn func(Message)) (cancel func()) {
	return l.hub.subscribe(groupID, fn)
}
