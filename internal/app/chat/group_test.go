package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collabchat/internal/app/member"
)

// newHubClient builds a Client wired only with what hub-level tests exercise:
// an identity and a send queue. The connection stays nil because these tests
// never reach the pumps.
func newHubClient(userID string) *Client {
	return NewClient(nil, nil, nil, nil, member.Member{
		UserID:      userID,
		DisplayName: userID,
	})
}

// recvFrame pulls the next frame off a client's send queue or fails the test.
func recvFrame(t *testing.T, c *Client) Frame {
	t.Helper()

	select {
	case data := <-c.send:
		var frame Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

// requireNoFrame asserts that nothing lands on the client's send queue within
// the grace window.
func requireNoFrame(t *testing.T, c *Client) {
	t.Helper()

	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame delivered: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func startGroup(t *testing.T) *Group {
	t.Helper()

	g := NewGroup("ABC123", make(chan GroupCleanupMsg, 1))
	go g.Run()
	t.Cleanup(g.Stop)
	return g
}

func TestGroupAnnouncesPresenceOncePerConnection(t *testing.T) {
	g := startGroup(t)

	alice := newHubClient("u-alice")
	bob := newHubClient("u-bob")

	g.RegisterClient(alice, false)

	g.RegisterClient(bob, false)

	frame := recvFrame(t, alice)
	require.Equal(t, TypeUserJoined, frame.Type)

	var joined UserJoinedPayload
	require.NoError(t, frame.DecodePayload(&joined))
	require.Equal(t, "u-bob", joined.Member.UserID)
	require.False(t, joined.Rejoined)

	// Re-registering the same connection must stay silent.
	g.RegisterClient(bob, false)
	requireNoFrame(t, alice)
}

func TestGroupAnnouncementExcludesJoiner(t *testing.T) {
	g := startGroup(t)

	alice := newHubClient("u-alice")
	g.RegisterClient(alice, false)

	// Alice was alone when she joined, so nothing reaches her own queue.
	requireNoFrame(t, alice)
}

func TestGroupRejoinAnnouncement(t *testing.T) {
	g := startGroup(t)

	alice := newHubClient("u-alice")
	bob := newHubClient("u-bob")

	g.RegisterClient(alice, false)
	g.RegisterClient(bob, true)

	frame := recvFrame(t, alice)
	require.Equal(t, TypeUserJoined, frame.Type)

	var joined UserJoinedPayload
	require.NoError(t, frame.DecodePayload(&joined))
	require.True(t, joined.Rejoined)
}

// waitSettled blocks until the hub has processed all queued registrations and
// broadcasts and the online count matches.
func waitSettled(t *testing.T, g *Group, wantOnline int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(g.OnlineMembers()) == wantOnline && len(g.broadcast) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestGroupBroadcastExcludesOriginator(t *testing.T) {
	g := startGroup(t)

	alice := newHubClient("u-alice")
	bob := newHubClient("u-bob")

	g.RegisterClient(alice, false)
	waitSettled(t, g, 1)

	g.RegisterClient(bob, false)
	recvFrame(t, alice) // bob's join announcement

	frame, err := NewFrame(TypeTyping, g.Code, alice.member, TypingPayload{IsTyping: true})
	require.NoError(t, err)

	g.Broadcast(frame, "u-alice")

	got := recvFrame(t, bob)
	require.Equal(t, TypeTyping, got.Type)
	require.Equal(t, "u-alice", got.Sender.UserID)

	requireNoFrame(t, alice)
}

func TestGroupUnregisterIgnoresStaleConnection(t *testing.T) {
	g := startGroup(t)

	first := newHubClient("u-alice")
	bob := newHubClient("u-bob")

	g.RegisterClient(first, false)
	g.RegisterClient(bob, false)
	recvFrame(t, first)

	// A stale unregister from a connection that is not current must not
	// remove the live one.
	stale := newHubClient("u-bob")
	g.unregister <- stale

	require.Eventually(t, func() bool {
		return len(g.OnlineMembers()) == 2
	}, time.Second, 10*time.Millisecond)

	g.unregister <- bob
	require.Eventually(t, func() bool {
		return len(g.OnlineMembers()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGroupStopNotifiesManagerCleanup(t *testing.T) {
	cleanup := make(chan GroupCleanupMsg, 1)
	g := NewGroup("ABC123", cleanup)
	go g.Run()

	g.Stop()

	select {
	case msg := <-cleanup:
		require.Equal(t, "ABC123", msg.GroupCode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cleanup notification")
	}
}

func TestGroupInactivityShutdown(t *testing.T) {
	cleanup := make(chan GroupCleanupMsg, 1)
	g := NewGroup("ABC123", cleanup)

	// Arm a short inactivity window before the loop starts.
	g.shutdownTimer.Stop()
	g.shutdownTimer.Reset(20 * time.Millisecond)

	go g.Run()

	select {
	case msg := <-cleanup:
		require.Equal(t, "ABC123", msg.GroupCode)
	case <-time.After(time.Second):
		t.Fatal("hub did not shut down after inactivity")
	}
}

func TestManagerHubReusesLiveGroup(t *testing.T) {
	m := NewManager()
	defer m.Shutdown()

	first := m.Hub("ABC123")
	second := m.Hub("ABC123")
	require.Same(t, first, second)

	require.Nil(t, m.Get("OTHER1"))
	require.Same(t, first, m.Get("ABC123"))
}
