package directory

import (
	"context"
	"sync"
	"time"

	"collabchat/internal/app/member"
)

// Memory is an in-memory Directory for tests and single-node runs.
type Memory struct {
	mu      sync.RWMutex
	groups  map[string]Group
	members map[string]map[string]member.Member
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		groups:  make(map[string]Group),
		members: make(map[string]map[string]member.Member),
	}
}

// CreateGroup records a new group. An existing code is overwritten only in the
// sense that creation is first-writer-wins: repeat creation is a no-op.
func (d *Memory) CreateGroup(ctx context.Context, g Group) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.groups[g.Code]; ok {
		return nil
	}

	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	d.groups[g.Code] = g
	d.members[g.Code] = make(map[string]member.Member)
	return nil
}

// GetGroup returns the group record for code.
func (d *Memory) GetGroup(ctx context.Context, code string) (Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.groups[code]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

// Join records membership. Re-joins are no-ops that leave the member count
// and the original JoinedAt untouched.
func (d *Memory) Join(ctx context.Context, code string, m member.Member) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[code]
	if !ok {
		return false, ErrGroupNotFound
	}

	if _, joined := d.members[code][m.UserID]; joined {
		return false, nil
	}

	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	d.members[code][m.UserID] = m

	g.MemberCount++
	d.groups[code] = g

	return true, nil
}

// IsMember reports whether the user has joined the group.
func (d *Memory) IsMember(ctx context.Context, code string, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.groups[code]; !ok {
		return false, ErrGroupNotFound
	}
	_, joined := d.members[code][userID]
	return joined, nil
}

// Members lists the group's membership records.
func (d *Memory) Members(ctx context.Context, code string) ([]member.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.groups[code]; !ok {
		return nil, ErrGroupNotFound
	}

	out := make([]member.Member, 0, len(d.members[code]))
	for _, m := range d.members[code] {
		out = append(out, m)
	}
	return out, nil
}

// MemberCount returns the derived member count for the group.
func (d *Memory) MemberCount(ctx context.Context, code string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.groups[code]
	if !ok {
		return 0, ErrGroupNotFound
	}
	return g.MemberCount, nil
}
