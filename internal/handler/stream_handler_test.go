package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collabchat/internal/app/member"
	"collabchat/internal/app/store"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

// readSSEEvents consumes the stream and forwards complete events; heartbeat
// comments are dropped.
func readSSEEvents(body *bufio.Scanner, out chan<- sseEvent) {
	var evt sseEvent
	for body.Scan() {
		line := body.Text()
		switch {
		case line == "":
			if evt.data != "" {
				out <- evt
			}
			evt = sseEvent{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			evt.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			evt.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	close(out)
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()

	select {
	case evt, ok := <-events:
		require.True(t, ok, "stream ended unexpectedly")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return sseEvent{}
	}
}

func TestGroupStreamSnapshotThenLive(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(Router(deps))
	defer server.Close()

	createTestGroup(t, deps, "ABC123")

	ctx := context.Background()
	_, err := deps.Directory.Join(ctx, "ABC123", member.Member{UserID: "u-alice", DisplayName: "Alice"})
	require.NoError(t, err)

	for _, body := range []string{"first", "second"} {
		_, err := deps.Store.Append(ctx, "ABC123", store.Draft{AuthorID: "u-alice", Body: body})
		require.NoError(t, err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, server.URL+"/api/community/groups/ABC123/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+identityToken(t, "u-alice", "Alice"))
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 8)
	go readSSEEvents(bufio.NewScanner(resp.Body), events)

	snapshot := nextEvent(t, events)
	require.Equal(t, "snapshot", snapshot.name)

	var recent []store.Message
	require.NoError(t, json.Unmarshal([]byte(snapshot.data), &recent))
	require.Len(t, recent, 2)
	require.Equal(t, "first", recent[0].Body)
	require.Equal(t, "second", recent[1].Body)

	// A commit after the snapshot arrives as a live event in commit order.
	_, err = deps.Store.Append(ctx, "ABC123", store.Draft{AuthorID: "u-alice", Body: "third"})
	require.NoError(t, err)

	live := nextEvent(t, events)
	require.Equal(t, "message", live.name)

	var msg store.Message
	require.NoError(t, json.Unmarshal([]byte(live.data), &msg))
	require.Equal(t, "third", msg.Body)
}

func TestGroupStreamRequiresMembership(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(Router(deps))
	defer server.Close()

	createTestGroup(t, deps, "ABC123")

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/community/groups/ABC123/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+identityToken(t, "u-eve", "Eve"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGroupStreamRequiresIdentity(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(Router(deps))
	defer server.Close()

	createTestGroup(t, deps, "ABC123")

	resp, err := http.Get(server.URL + "/api/community/groups/ABC123/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
