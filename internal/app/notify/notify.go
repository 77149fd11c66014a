/*
Package notify is the boundary to the portal's notification/email system.

The messaging core informs it fire-and-forget when a user joins a group for
the first time. Delivery is somebody else's problem: failures are logged and
never surfaced to the join flow.
*/
package notify

import (
	"context"

	"collabchat/internal/pkg/logx"
)

// JoinEvent describes a first-time group join.
type JoinEvent struct {
	GroupCode   string
	GroupName   string
	UserID      string
	DisplayName string
}

// Notifier receives first-join events.
type Notifier interface {
	MemberJoined(ctx context.Context, evt JoinEvent)
}

// Func adapts a plain function to the Notifier interface.
type Func func(ctx context.Context, evt JoinEvent)

// MemberJoined implements Notifier.
func (f Func) MemberJoined(ctx context.Context, evt JoinEvent) {
	f(ctx, evt)
}

// LogOnly returns a Notifier that records the event in the service log and
// does nothing else. It is the default when no email system is wired up.
func LogOnly() Notifier {
	return Func(func(ctx context.Context, evt JoinEvent) {
		logx.Info("Member joined group (notification suppressed: no backend configured).",
			"group_code", evt.GroupCode,
			"user_id", evt.UserID,
		)
	})
}
