/*
Package member contains the core data structures describing chat participants.

A Member is the identity attached to a connection, a message, or a membership
record. It is handed to the engine by the portal's identity provider and is
never mutated by the messaging core.
*/
package member

import "time"

// SystemUserID is the reserved author id for system-generated messages
// (join notices, error frames). System entries are never deduplicated
// against a real user's chat message.
const SystemUserID = "system"

// Member represents a participant of a group chat.
// Fields use JSON tags for serialization in WebSocket frames.
type Member struct {
	// UserID is the portal-wide unique identifier for the user.
	UserID string `json:"userId"`

	// DisplayName is the name rendered next to the member's messages.
	DisplayName string `json:"displayName"`

	// JoinedAt records when the user first became a member of the group.
	// Zero for members constructed from connection identity alone.
	JoinedAt time.Time `json:"joinedAt,omitempty"`
}

// System is the synthetic member used as the author of system messages.
var System = Member{
	UserID:      SystemUserID,
	DisplayName: "System",
}

// IsSystem reports whether the member is the synthetic system author.
func (m Member) IsSystem() bool {
	return m.UserID == SystemUserID
}
