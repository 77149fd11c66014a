/*
Package chat contains the server-side core of the group messaging engine:
group hubs, connected clients, and the frame protocol spoken over the
real-time channel.

This file defines the Client struct, representing one authenticated WebSocket
connection. A single connection may participate in any number of groups; the
Client routes inbound frames to the right Group hub, owns the append-then-
broadcast sequence for posted messages, and manages the connection's
communication loops (ReadPump and WritePump).
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabchat/internal/app/directory"
	"collabchat/internal/app/member"
	"collabchat/internal/app/store"
	"collabchat/internal/pkg/errs"
	"collabchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxFrameSize = 8192

	// MaxBodyBytes is the maximum allowed size (in bytes) for a message body.
	MaxBodyBytes = 5000

	// appendTimeout bounds the durable append performed for a sendMessage frame.
	appendTimeout = 5 * time.Second

	// initHistoryLimit caps the recent messages delivered in the initData frame.
	initHistoryLimit = 50

	// WsCloseCodeSessionReplaced is a custom WebSocket Close Code (4000-4999
	// range) signaling that the session was replaced by a newer connection
	// for the same user.
	WsCloseCodeSessionReplaced = 4001
)

// Client represents an active WebSocket connection and its associated member.
type Client struct {
	// manager resolves group hubs on demand.
	manager *Manager

	// log is the durable message store; appends happen here before any broadcast.
	log store.Store

	// dir answers membership questions before presence is announced.
	dir directory.Directory

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// the authenticated member behind this connection.
	member member.Member

	// joined maps group codes to the hubs this connection has announced
	// presence in. Touched only by the ReadPump goroutine.
	joined map[string]*Group

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// sendMu guards sendClosed so no writer can race the close of send.
	sendMu     sync.Mutex
	sendClosed bool

	// structured logger with client context.
	logger zerolog.Logger
}

// NewClient constructs a Client for an upgraded connection.
func NewClient(manager *Manager, log store.Store, dir directory.Directory, wsConn *websocket.Conn, m member.Member) *Client {
	clientLogger := logx.Logger().With().
		Str("client_id", m.UserID).
		Logger()

	return &Client{
		manager: manager,
		log:     log,
		dir:     dir,
		conn:    wsConn,
		member:  m,
		joined:  make(map[string]*Group),
		send:    make(chan []byte, 256),
		logger:  clientLogger,
	}
}

// Member returns the identity behind this connection.
func (c *Client) Member() member.Member {
	return c.member
}

// ReadPump handles reading frames from the WebSocket connection.
// It handles heartbeats (Pong), frame parsing, and performs cleanup upon connection closure.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frameBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (Client close/going away)")
			}
			break
		}

		c.processInboundFrame(frameBytes)
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	for code, group := range c.joined {
		select {
		case group.unregister <- c:
		default:
			c.logger.Warn().Str("group_code", code).Msg("Group unregister channel blocked. Connection cleanup still proceeding.")
		}
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Client connection close error")
	}
}

// processInboundFrame handles raw frame bytes received from the client.
func (c *Client) processInboundFrame(frameBytes []byte) {
	var frame Frame

	if err := json.Unmarshal(frameBytes, &frame); err != nil {
		c.logger.Warn().Err(err).
			Bytes("frame_bytes", frameBytes).
			Msg("Client sent invalid JSON")
		return
	}

	switch frame.Type {
	case TypeJoinGroup:
		c.handleJoinGroup(frame)

	case TypeSendMessage:
		c.handleSendMessage(frame)

	case TypeTyping:
		c.handleTyping(frame)

	default:
		c.logger.Warn().Str("frame_type", string(frame.Type)).Msg("Client sent unsupported frame type")
	}
}

// handleJoinGroup announces presence in a group. Repeats on the same
// connection are no-ops: no second announcement, no hub churn.
func (c *Client) handleJoinGroup(frame Frame) {
	if frame.GroupID == "" {
		c.SendError("", errs.NewError(errs.ErrInvalidParams))
		return
	}

	if _, already := c.joined[frame.GroupID]; already {
		c.logger.Debug().Str("group_code", frame.GroupID).Msg("Duplicate joinGroup ignored.")
		return
	}

	var payload JoinGroupPayload
	if err := frame.DecodePayload(&payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JOIN_GROUP payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	isMember, err := c.dir.IsMember(ctx, frame.GroupID, c.member.UserID)
	if err != nil {
		if errors.Is(err, directory.ErrGroupNotFound) {
			c.SendError(frame.GroupID, errs.NewError(errs.ErrGroupNotFound))
			return
		}
		c.logger.Error().Err(err).Str("group_code", frame.GroupID).Msg("Membership lookup failed")
		c.SendError(frame.GroupID, errs.NewError(errs.ErrUnknown))
		return
	}

	if !isMember {
		c.SendError(frame.GroupID, errs.NewError(errs.ErrNotGroupMember))
		return
	}

	group := c.manager.Hub(frame.GroupID)
	c.joined[frame.GroupID] = group

	group.RegisterClient(c, payload.Rejoin)

	recent, err := c.log.History(ctx, frame.GroupID, initHistoryLimit)
	if err != nil {
		c.logger.Warn().Err(err).Str("group_code", frame.GroupID).Msg("History fetch for initData failed")
		recent = nil
	}

	if err := c.SendInitData(frame.GroupID, InitDataPayload{
		CurrentUser:   c.member,
		OnlineMembers: group.OnlineMembers(),
		Recent:        recent,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to deliver initData after join")
	}
}

// handleSendMessage runs the append-then-broadcast sequence for a posted
// message. The broadcast only ever carries a message the store has already
// persisted: an append failure produces a per-message error frame for the
// sender and nothing for anyone else.
func (c *Client) handleSendMessage(frame Frame) {
	group, ok := c.joined[frame.GroupID]
	if !ok {
		c.SendError(frame.GroupID, errs.NewError(errs.ErrNotGroupMember))
		return
	}

	var payload SendMessagePayload
	if err := frame.DecodePayload(&payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid SEND_MESSAGE payload")
		return
	}

	if payload.Body == "" {
		c.SendError(frame.GroupID, errs.NewError(errs.ErrMessageEmpty))
		return
	}

	if len(payload.Body) > MaxBodyBytes {
		c.SendError(frame.GroupID, errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	// The dedup key is what makes append retries idempotent; without one a
	// retry would persist a second copy, so keyless sends are refused.
	if payload.DedupKey == "" {
		c.SendError(frame.GroupID, errs.NewError(errs.ErrInvalidParams))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	persisted, err := c.log.Append(ctx, frame.GroupID, store.Draft{
		AuthorID:          c.member.UserID,
		AuthorDisplayName: c.member.DisplayName,
		Body:              payload.Body,
		DedupKey:          payload.DedupKey,
	})

	if err != nil {
		c.logger.Error().Err(err).
			Str("group_code", frame.GroupID).
			Str("dedup_key", payload.DedupKey).
			Msg("Durable append failed; nothing broadcast.")

		c.sendWriteError(frame.GroupID, payload.DedupKey)
		return
	}

	c.sendConfirmation(persisted)

	broadcastFrame, err := NewFrame(TypeMessage, frame.GroupID, c.member, persisted)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build MESSAGE frame for broadcast")
		return
	}

	group.Broadcast(broadcastFrame, c.member.UserID)
}

// handleTyping relays a typing-state change to the other group members,
// best-effort and unpersisted.
func (c *Client) handleTyping(frame Frame) {
	group, ok := c.joined[frame.GroupID]
	if !ok {
		return
	}

	var payload TypingPayload
	if err := frame.DecodePayload(&payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid TYPING payload")
		return
	}

	relayFrame, err := NewFrame(TypeTyping, frame.GroupID, c.member, payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build TYPING frame for relay")
		return
	}

	group.Broadcast(relayFrame, c.member.UserID)
}

// WritePump handles writing frames from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedFrame handles frames pulled from the send channel, writing them to the WebSocket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Error().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// sendFrame marshals the frame and attempts to queue it on the client's send channel.
func (c *Client) sendFrame(frame Frame) error {
	frameBytes, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling frame for client")
		return err
	}

	if !c.enqueue(frameBytes) {
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full or closed, dropping frame")
		return fmt.Errorf("client send queue unavailable")
	}
	return nil
}

// enqueue places marshaled frame bytes on the send queue. It reports false
// when the queue is full or already closed; it never blocks.
func (c *Client) enqueue(frameBytes []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return false
	}

	select {
	case c.send <- frameBytes:
		return true
	default:
		return false
	}
}

// closeSend shuts the send queue exactly once. WritePump drains whatever is
// still queued and then terminates with a close frame.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// SendError constructs and sends a TypeError frame scoped to a group.
func (c *Client) SendError(groupID string, customErr *errs.CustomError) {
	errorPayload := ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	}

	errorFrame, err := NewFrame(TypeError, groupID, member.System, errorPayload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build ERROR frame")
		return
	}

	if err := c.sendFrame(errorFrame); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue ERROR frame")
	}
}

// sendWriteError reports a failed persist for one specific message, carrying
// the dedup key so the client marks only that entry as failed and retries it
// with the key unchanged.
func (c *Client) sendWriteError(groupID, dedupKey string) {
	writeErr := errs.NewError(errs.ErrMessageWriteFailed)

	errorPayload := ErrorPayload{
		Code:     writeErr.Code,
		Message:  writeErr.Message,
		DedupKey: dedupKey,
	}

	errorFrame, err := NewFrame(TypeError, groupID, member.System, errorPayload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build write-error frame")
		return
	}

	if err := c.sendFrame(errorFrame); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue write-error frame")
	}
}

// SendInitData constructs and sends a TypeInitData frame containing the
// initial state for a group the connection just joined.
func (c *Client) SendInitData(groupID string, payload InitDataPayload) error {
	initFrame, err := NewFrame(TypeInitData, groupID, member.System, payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build INIT_DATA frame.")
		return err
	}

	if err := c.sendFrame(initFrame); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send INIT_DATA frame.")
		return err
	}

	return nil
}

// sendConfirmation sends a TypeConfirm (ACK) frame back to the sender with
// the authoritative id and timestamp assigned by the store.
func (c *Client) sendConfirmation(persisted store.Message) {
	ackPayload := ConfirmPayload{
		DedupKey:  persisted.DedupKey,
		MessageID: persisted.ID,
		CreatedAt: persisted.CreatedAt,
	}

	ackFrame, err := NewFrame(TypeConfirm, persisted.GroupID, c.member, ackPayload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build ACK frame in sendConfirmation")
		return
	}

	if err := c.sendFrame(ackFrame); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue ACK frame")
	}
}

// Kick gracefully closes the client's connection by sending a custom
// WebSocket Close Frame (Code 4001) indicating that the session was replaced.
func (c *Client) Kick(reason string) {
	c.logger.Warn().
		Int("close_code", WsCloseCodeSessionReplaced).
		Str("reason", reason).
		Msg("Sending WS Kick message and closing connection.")

	closeMessage := websocket.FormatCloseMessage(
		WsCloseCodeSessionReplaced,
		reason,
	)

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(websocket.CloseMessage, closeMessage); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send WS 4001 Close Message.")
	}

	c.closeSend()
}
