package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"collabchat/internal/app/chat"
	"collabchat/internal/app/member"
	"collabchat/internal/app/store"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialWS(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSFrame(t *testing.T, conn *websocket.Conn) chat.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame chat.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeWSFrame(t *testing.T, conn *websocket.Conn, frame chat.Frame) {
	t.Helper()

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func joinOverWS(t *testing.T, conn *websocket.Conn, m member.Member, code string) chat.InitDataPayload {
	t.Helper()

	frame, err := chat.NewFrame(chat.TypeJoinGroup, code, m, chat.JoinGroupPayload{DisplayName: m.DisplayName})
	require.NoError(t, err)
	writeWSFrame(t, conn, frame)

	init := readWSFrame(t, conn)
	require.Equal(t, chat.TypeInitData, init.Type)

	var payload chat.InitDataPayload
	require.NoError(t, init.DecodePayload(&payload))
	return payload
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	server := httptest.NewServer(Router(newTestDeps(t)))
	defer server.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Nil(t, conn)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestWebSocketMessageRoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(Router(deps))
	defer server.Close()

	createTestGroup(t, deps, "ABC123")

	ctx := context.Background()
	alice := member.Member{UserID: "u-alice", DisplayName: "Alice"}
	bob := member.Member{UserID: "u-bob", DisplayName: "Bob"}
	for _, m := range []member.Member{alice, bob} {
		_, err := deps.Directory.Join(ctx, "ABC123", m)
		require.NoError(t, err)
	}

	aliceConn := dialWS(t, server, identityToken(t, alice.UserID, alice.DisplayName))
	aliceInit := joinOverWS(t, aliceConn, alice, "ABC123")
	require.Equal(t, "u-alice", aliceInit.CurrentUser.UserID)

	bobConn := dialWS(t, server, identityToken(t, bob.UserID, bob.DisplayName))
	joinOverWS(t, bobConn, bob, "ABC123")

	// Alice sees Bob arrive.
	joined := readWSFrame(t, aliceConn)
	require.Equal(t, chat.TypeUserJoined, joined.Type)

	var joinedPayload chat.UserJoinedPayload
	require.NoError(t, joined.DecodePayload(&joinedPayload))
	require.Equal(t, "u-bob", joinedPayload.Member.UserID)

	// Bob posts; he gets the ack, Alice gets the persisted message.
	sendFrame, err := chat.NewFrame(chat.TypeSendMessage, "ABC123", bob, chat.SendMessagePayload{
		Body:     "hi",
		DedupKey: "key-1",
	})
	require.NoError(t, err)
	writeWSFrame(t, bobConn, sendFrame)

	ack := readWSFrame(t, bobConn)
	require.Equal(t, chat.TypeConfirm, ack.Type)

	var confirm chat.ConfirmPayload
	require.NoError(t, ack.DecodePayload(&confirm))
	require.Equal(t, "key-1", confirm.DedupKey)

	delivered := readWSFrame(t, aliceConn)
	require.Equal(t, chat.TypeMessage, delivered.Type)

	var msg store.Message
	require.NoError(t, delivered.DecodePayload(&msg))
	require.Equal(t, "hi", msg.Body)
	require.Equal(t, confirm.MessageID, msg.ID)

	// The message was durably appended before anyone saw it.
	history, err := deps.Store.History(ctx, "ABC123", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "hi", history[0].Body)
}

func TestWebSocketReplacementClosesOldConnectionWith4001(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(Router(deps))
	defer server.Close()

	createTestGroup(t, deps, "ABC123")

	alice := member.Member{UserID: "u-alice", DisplayName: "Alice"}
	_, err := deps.Directory.Join(context.Background(), "ABC123", alice)
	require.NoError(t, err)

	token := identityToken(t, alice.UserID, alice.DisplayName)

	oldConn := dialWS(t, server, token)
	joinOverWS(t, oldConn, alice, "ABC123")

	newConn := dialWS(t, server, token)
	joinOverWS(t, newConn, alice, "ABC123")

	// The replaced connection is told exactly why it died.
	require.NoError(t, oldConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := oldConn.ReadMessage()
		if err == nil {
			continue // drain anything queued before the close
		}

		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		require.Equal(t, chat.WsCloseCodeSessionReplaced, closeErr.Code)
		break
	}
}

func TestWebSocketTypingRelay(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(Router(deps))
	defer server.Close()

	createTestGroup(t, deps, "ABC123")

	ctx := context.Background()
	alice := member.Member{UserID: "u-alice", DisplayName: "Alice"}
	bob := member.Member{UserID: "u-bob", DisplayName: "Bob"}
	for _, m := range []member.Member{alice, bob} {
		_, err := deps.Directory.Join(ctx, "ABC123", m)
		require.NoError(t, err)
	}

	aliceConn := dialWS(t, server, identityToken(t, alice.UserID, alice.DisplayName))
	joinOverWS(t, aliceConn, alice, "ABC123")

	bobConn := dialWS(t, server, identityToken(t, bob.UserID, bob.DisplayName))
	joinOverWS(t, bobConn, bob, "ABC123")
	readWSFrame(t, aliceConn) // bob's join announcement

	typingFrame, err := chat.NewFrame(chat.TypeTyping, "ABC123", bob, chat.TypingPayload{IsTyping: true})
	require.NoError(t, err)
	writeWSFrame(t, bobConn, typingFrame)

	relayed := readWSFrame(t, aliceConn)
	require.Equal(t, chat.TypeTyping, relayed.Type)
	require.Equal(t, "u-bob", relayed.Sender.UserID)

	// Typing traffic never reaches the durable log.
	history, err := deps.Store.History(ctx, "ABC123", 0)
	require.NoError(t, err)
	require.Empty(t, history)
}
