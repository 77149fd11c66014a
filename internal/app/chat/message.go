/*
Package chat contains the server-side core of the group messaging engine:
group hubs, connected clients, and the frame protocol spoken over the
real-time channel.

This file defines the wire protocol. Every WebSocket payload is a Frame: a
typed envelope with an optional group scope and a JSON payload whose shape
depends on the frame type.
*/
package chat

import (
	"encoding/json"
	"time"

	"collabchat/internal/app/member"
	"collabchat/internal/app/store"
)

// FrameType identifies the kind of event carried by a Frame.
type FrameType string

// Client-to-server frame types.
const (
	// TypeSendMessage posts a chat message for durable append and fan-out.
	TypeSendMessage FrameType = "sendMessage"

	// TypeJoinGroup announces presence in a group on this connection.
	TypeJoinGroup FrameType = "joinGroup"

	// TypeTyping carries a typing-state change. Relayed best-effort, never persisted.
	TypeTyping FrameType = "typing"
)

// Server-to-client frame types.
const (
	// TypeMessage delivers a persisted message to other group members.
	TypeMessage FrameType = "message"

	// TypeUserJoined announces another member's presence. Rendered locally
	// as a system message, never persisted.
	TypeUserJoined FrameType = "userJoined"

	// TypeConfirm acknowledges the sender's own message with its
	// persistence-assigned id and timestamp.
	TypeConfirm FrameType = "confirm"

	// TypeInitData carries the initial state delivered right after connect.
	TypeInitData FrameType = "initData"

	// TypeError reports a failure, optionally scoped to a single message
	// via its dedup key.
	TypeError FrameType = "error"
)

// Frame is the envelope for every event on the real-time channel.
type Frame struct {
	Type FrameType `json:"type"`

	// GroupID scopes the frame to one group. Empty only for connection-level
	// frames (initData, connection-level errors).
	GroupID string `json:"groupId,omitempty"`

	// Sender identifies the originating member; member.System for frames
	// generated by the server itself.
	Sender member.Member `json:"sender"`

	// SentAt is the wall-clock send time in Unix milliseconds. Informational;
	// ordering always comes from the durable store's CreatedAt.
	SentAt int64 `json:"sentAt"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a Frame of the given type, marshaling payload into place.
func NewFrame(frameType FrameType, groupID string, sender member.Member, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Type:    frameType,
		GroupID: groupID,
		Sender:  sender,
		SentAt:  time.Now().UnixMilli(),
		Payload: raw,
	}, nil
}

// SendMessagePayload is the payload of a sendMessage frame.
type SendMessagePayload struct {
	// Body is the message text.
	Body string `json:"body"`

	// DedupKey is the client-generated idempotency key. The same key must be
	// reused on every retry of this logical message.
	DedupKey string `json:"dedupKey"`
}

// JoinGroupPayload is the payload of a joinGroup frame.
type JoinGroupPayload struct {
	DisplayName string `json:"displayName"`

	// Rejoin marks a presence announcement after a reconnect, letting peers
	// render a single "rejoined" notice instead of a fresh join.
	Rejoin bool `json:"rejoin,omitempty"`
}

// TypingPayload is the payload of a typing frame, both directions.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// UserJoinedPayload is the payload of a userJoined frame.
type UserJoinedPayload struct {
	Member   member.Member `json:"member"`
	Rejoined bool          `json:"rejoined,omitempty"`
}

// ConfirmPayload acknowledges a sendMessage back to its author.
type ConfirmPayload struct {
	DedupKey  string    `json:"dedupKey"`
	MessageID string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// InitDataPayload is the payload of the initData frame sent once per connection.
type InitDataPayload struct {
	CurrentUser   member.Member   `json:"currentUser"`
	OnlineMembers []member.Member `json:"onlineMembers"`
	Recent        []store.Message `json:"recent"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`

	// DedupKey scopes a write failure to the specific message that did not
	// persist, so the client can mark just that entry as failed.
	DedupKey string `json:"dedupKey,omitempty"`
}

// DecodePayload unmarshals the frame payload into dst.
func (f Frame) DecodePayload(dst any) error {
	return json.Unmarshal(f.Payload, dst)
}
