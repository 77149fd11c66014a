package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func draft(author, body, dedupKey string) Draft {
	return Draft{
		AuthorID:          author,
		AuthorDisplayName: author,
		Body:              body,
		DedupKey:          dedupKey,
	}
}

func TestMemoryAppendAssignsOrderedTimestamps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// Freeze the clock so every append observes the same wall time.
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return frozen }

	first, err := m.Append(ctx, "g1", draft("u1", "one", "k1"))
	require.NoError(t, err)

	second, err := m.Append(ctx, "g1", draft("u1", "two", "k2"))
	require.NoError(t, err)

	third, err := m.Append(ctx, "g1", draft("u2", "three", "k3"))
	require.NoError(t, err)

	require.True(t, first.CreatedAt.Before(second.CreatedAt), "timestamps must stay strictly monotonic per group")
	require.True(t, second.CreatedAt.Before(third.CreatedAt))

	require.True(t, Less(first, second))
	require.True(t, Less(second, third))
}

func TestMemoryAppendIsIdempotentPerDedupKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	original, err := m.Append(ctx, "g1", draft("u1", "hello", "key-1"))
	require.NoError(t, err)

	retry, err := m.Append(ctx, "g1", draft("u1", "hello", "key-1"))
	require.NoError(t, err)

	require.Equal(t, original, retry, "retry with the same dedup key must return the original row")

	history, err := m.History(ctx, "g1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "retry must not create a second row")
}

func TestMemoryDedupKeysAreScopedPerGroup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	inG1, err := m.Append(ctx, "g1", draft("u1", "hello", "shared-key"))
	require.NoError(t, err)

	inG2, err := m.Append(ctx, "g2", draft("u1", "hello", "shared-key"))
	require.NoError(t, err)

	require.NotEqual(t, inG1.ID, inG2.ID, "same dedup key in different groups must persist twice")
}

func TestMemorySubscribeDeliversInCommitOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var got []string
	cancel := m.Subscribe("g1", func(msg Message) {
		got = append(got, msg.Body)
	})
	defer cancel()

	for _, body := range []string{"a", "b", "c"} {
		_, err := m.Append(ctx, "g1", draft("u1", body, ""))
		require.NoError(t, err)
	}

	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemorySubscribeSkipsDedupHits(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	delivered := 0
	cancel := m.Subscribe("g1", func(Message) { delivered++ })
	defer cancel()

	_, err := m.Append(ctx, "g1", draft("u1", "hello", "key-1"))
	require.NoError(t, err)

	_, err = m.Append(ctx, "g1", draft("u1", "hello", "key-1"))
	require.NoError(t, err)

	require.Equal(t, 1, delivered, "a dedup hit is not a new commit and must not be republished")
}

func TestMemorySubscribeCancelStopsDelivery(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	delivered := 0
	cancel := m.Subscribe("g1", func(Message) { delivered++ })

	_, err := m.Append(ctx, "g1", draft("u1", "one", ""))
	require.NoError(t, err)

	cancel()

	_, err = m.Append(ctx, "g1", draft("u1", "two", ""))
	require.NoError(t, err)

	require.Equal(t, 1, delivered)
}

func TestMemorySubscribeIsGroupScoped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	delivered := 0
	cancel := m.Subscribe("g1", func(Message) { delivered++ })
	defer cancel()

	_, err := m.Append(ctx, "g2", draft("u1", "elsewhere", ""))
	require.NoError(t, err)

	require.Zero(t, delivered)
}

func TestMemoryHistoryReturnsMostRecentOldestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c", "d"} {
		_, err := m.Append(ctx, "g1", draft("u1", body, ""))
		require.NoError(t, err)
	}

	page, err := m.History(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "c", page[0].Body)
	require.Equal(t, "d", page[1].Body)
}

func TestMemoryAppendHonorsCanceledContext(t *testing.T) {
	m := NewMemory()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Append(ctx, "g1", draft("u1", "late", "k1"))
	require.Error(t, err)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	require.Equal(t, "g1", writeErr.GroupID)
	require.Equal(t, "k1", writeErr.DedupKey)
}

func TestLessBreaksTimestampTiesByID(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Message{ID: "aaa", CreatedAt: at}
	b := Message{ID: "bbb", CreatedAt: at}

	require.True(t, Less(a, b))
	require.False(t, Less(b, a))
}
