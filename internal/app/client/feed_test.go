package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabchat/internal/app/store"
)

func sseEvent(t *testing.T, event string, data any) string {
	t.Helper()

	encoded, err := json.Marshal(data)
	require.NoError(t, err)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, encoded)
}

func TestFeedConsumeAppliesSnapshotThenMessages(t *testing.T) {
	r := newTestReconciler(t, ReconcilerConfig{})
	r.JoinGroup("g1")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snapshot := []store.Message{
		msgAt("m1", "first", "", base),
		msgAt("m2", "second", "", base.Add(time.Second)),
	}

	var stream strings.Builder
	stream.WriteString(sseEvent(t, "snapshot", snapshot))
	stream.WriteString(": ping\n\n")
	stream.WriteString(sseEvent(t, "message", msgAt("m3", "third", "", base.Add(2*time.Second))))

	feed := NewDurableFeed("http://unused", "", "g1")
	err := feed.consume(strings.NewReader(stream.String()), r)
	require.ErrorContains(t, err, "stream ended")

	require.Equal(t, PhaseLive, r.Phase("g1"))
	require.Equal(t, []string{"first", "second", "third"}, bodies(r.Timeline("g1")))
}

func TestFeedConsumeRejectsMalformedData(t *testing.T) {
	r := newTestReconciler(t, ReconcilerConfig{})
	r.JoinGroup("g1")

	feed := NewDurableFeed("http://unused", "", "g1")
	err := feed.consume(strings.NewReader("event: snapshot\ndata: not-json\n\n"), r)
	require.ErrorContains(t, err, "bad snapshot")
}

func TestFeedRunStreamsFromServer(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer token-1", req.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, sseEvent(t, "snapshot", []store.Message{msgAt("m1", "first", "", base)}))
		flusher.Flush()

		fmt.Fprint(w, sseEvent(t, "message", msgAt("m2", "second", "", base.Add(time.Second))))
		flusher.Flush()

		// Hold the stream open until the client walks away.
		<-req.Context().Done()
	}))
	defer server.Close()

	changes := make(chan string, 16)
	r := newTestReconciler(t, ReconcilerConfig{
		OnChange: func(groupID string) { changes <- groupID },
	})
	r.JoinGroup("g1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewDurableFeed(server.URL, "token-1", "g1")

	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, r) }()

	require.Eventually(t, func() bool {
		return len(bodies(r.Timeline("g1"))) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"first", "second"}, bodies(r.Timeline("g1")))

	// Leaving is a cancellation, not a degradation.
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on cancel")
	}
	require.False(t, r.IsStale("g1"))
}

func TestFeedRunRejectedTokenSurfacesReauth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var warnings []*StaleDataWarning
	r := newTestReconciler(t, ReconcilerConfig{
		OnWarning: func(w *StaleDataWarning) { warnings = append(warnings, w) },
	})
	r.JoinGroup("g1")

	feed := NewDurableFeed(server.URL, "expired", "g1")
	err := feed.Run(context.Background(), r)
	require.ErrorIs(t, err, ErrReauthRequired)

	require.True(t, r.IsStale("g1"))
	require.Len(t, warnings, 1)
}

func TestFeedRunServerDropMarksStale(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseEvent(t, "snapshot", []store.Message{}))
		// Returning here severs the stream mid-subscription.
	}))
	defer server.Close()

	r := newTestReconciler(t, ReconcilerConfig{})
	r.JoinGroup("g1")

	feed := NewDurableFeed(server.URL, "", "g1")
	err := feed.Run(context.Background(), r)
	require.Error(t, err)

	require.True(t, r.IsStale("g1"))
	require.Equal(t, PhaseLive, r.Phase("g1"), "the snapshot that landed stays rendered")
}
