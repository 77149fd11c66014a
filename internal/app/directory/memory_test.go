package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"collabchat/internal/app/member"
)

func TestMemoryCreateAndGetGroup(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	require.NoError(t, d.CreateGroup(ctx, Group{
		Code:             "ABC123",
		Name:             "Mentor Circle",
		Topic:            "fundraising",
		AffiliationScope: "startup",
	}))

	g, err := d.GetGroup(ctx, "ABC123")
	require.NoError(t, err)
	require.Equal(t, "Mentor Circle", g.Name)
	require.Zero(t, g.MemberCount)
	require.False(t, g.CreatedAt.IsZero())

	_, err = d.GetGroup(ctx, "NOPE00")
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestMemoryJoinIsIdempotent(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	require.NoError(t, d.CreateGroup(ctx, Group{Code: "ABC123", Name: "Mentor Circle"}))

	alice := member.Member{UserID: "u-alice", DisplayName: "Alice"}

	firstJoin, err := d.Join(ctx, "ABC123", alice)
	require.NoError(t, err)
	require.True(t, firstJoin)

	again, err := d.Join(ctx, "ABC123", alice)
	require.NoError(t, err)
	require.False(t, again, "re-join must not count as a first join")

	count, err := d.MemberCount(ctx, "ABC123")
	require.NoError(t, err)
	require.Equal(t, 1, count, "member count changes at most once per user")
}

func TestMemoryJoinUnknownGroup(t *testing.T) {
	d := NewMemory()

	_, err := d.Join(context.Background(), "NOPE00", member.Member{UserID: "u1"})
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestMemoryIsMember(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	require.NoError(t, d.CreateGroup(ctx, Group{Code: "ABC123"}))

	ok, err := d.IsMember(ctx, "ABC123", "u1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = d.Join(ctx, "ABC123", member.Member{UserID: "u1", DisplayName: "One"})
	require.NoError(t, err)

	ok, err = d.IsMember(ctx, "ABC123", "u1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = d.IsMember(ctx, "NOPE00", "u1")
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestMemoryMembersSnapshot(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	require.NoError(t, d.CreateGroup(ctx, Group{Code: "ABC123"}))

	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := d.Join(ctx, "ABC123", member.Member{UserID: id, DisplayName: id})
		require.NoError(t, err)
	}

	members, err := d.Members(ctx, "ABC123")
	require.NoError(t, err)
	require.Len(t, members, 3)
}
