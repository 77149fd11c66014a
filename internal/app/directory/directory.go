/*
Package directory maintains community groups and their membership records.

Membership is idempotent by construction: a user may join a group at most
once, and repeated joins neither duplicate the record nor bump the member
count. The member count on a group is maintained alongside the membership
rows and is eventually consistent from a reader's point of view.
*/
package directory

import (
	"context"
	"errors"
	"time"

	"collabchat/internal/app/member"
)

// ErrGroupNotFound reports an operation against a group code with no record.
var ErrGroupNotFound = errors.New("directory: group not found")

// Group describes a community chat group.
type Group struct {
	// Code is the opaque identifier used in URLs and wire frames.
	Code string `json:"code"`

	// Name is the human-readable group title.
	Name string `json:"name"`

	// Topic is a short description of what the group discusses.
	Topic string `json:"topic"`

	// AffiliationScope scopes visibility, e.g. a college domain or organization.
	AffiliationScope string `json:"affiliationScope"`

	// MemberCount is the derived number of members; eventually consistent.
	MemberCount int `json:"memberCount"`

	CreatedAt time.Time `json:"createdAt"`
}

// Directory is the membership contract consumed by the messaging core.
//
// Join records membership and reports whether this was the user's first join
// of the group (false means the membership already existed and nothing
// changed). Implementations must make Join safe to call any number of times.
type Directory interface {
	CreateGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, code string) (Group, error)
	Join(ctx context.Context, code string, m member.Member) (firstJoin bool, err error)
	IsMember(ctx context.Context, code string, userID string) (bool, error)
	Members(ctx context.Context, code string) ([]member.Member, error)
	MemberCount(ctx context.Context, code string) (int, error)
}
