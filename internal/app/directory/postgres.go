package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"collabchat/internal/app/member"
	"collabchat/internal/pkg/logx"
)

// Postgres is the database-backed Directory. Membership idempotence is
// enforced by the (group_code, user_id) primary key; the member count is
// bumped in the same transaction as the membership insert.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres creates a Directory backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logx.Logger().With().Str("component", "Directory").Logger(),
	}
}

// CreateGroup records a new group. Repeat creation of the same code is a no-op.
func (d *Postgres) CreateGroup(ctx context.Context, g Group) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO groups (code, name, topic, affiliation_scope)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (code) DO NOTHING`,
		g.Code, g.Name, g.Topic, g.AffiliationScope,
	)
	return err
}

// GetGroup returns the group record for code.
func (d *Postgres) GetGroup(ctx context.Context, code string) (Group, error) {
	g := Group{Code: code}
	err := d.pool.QueryRow(ctx,
		`SELECT name, topic, affiliation_scope, member_count, created_at
		 FROM groups WHERE code = $1`,
		code,
	).Scan(&g.Name, &g.Topic, &g.AffiliationScope, &g.MemberCount, &g.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

// Join records membership. The insert and the member-count bump share one
// transaction so the count never drifts from the rows. Re-joins insert
// nothing and leave the count unchanged.
func (d *Postgres) Join(ctx context.Context, code string, m member.Member) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO group_members (group_code, user_id, display_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (group_code, user_id) DO NOTHING`,
		code, m.UserID, m.DisplayName,
	)
	if err != nil {
		return false, err
	}

	firstJoin := tag.RowsAffected() > 0

	if firstJoin {
		tag, err = tx.Exec(ctx,
			`UPDATE groups SET member_count = member_count + 1 WHERE code = $1`,
			code,
		)
		if err != nil {
			return false, err
		}
		if tag.RowsAffected() == 0 {
			return false, ErrGroupNotFound
		}
	} else {
		// Reference the group anyway so joins against unknown codes fail loudly.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM groups WHERE code = $1)`, code,
		).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrGroupNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	if firstJoin {
		d.logger.Info().
			Str("group_code", code).
			Str("user_id", m.UserID).
			Msg("New member joined group.")
	}

	return firstJoin, nil
}

// IsMember reports whether the user has joined the group.
func (d *Postgres) IsMember(ctx context.Context, code string, userID string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM group_members WHERE group_code = $1 AND user_id = $2
		)`,
		code, userID,
	).Scan(&exists)
	return exists, err
}

// Members lists the group's membership records ordered by join time.
func (d *Postgres) Members(ctx context.Context, code string) ([]member.Member, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT user_id, display_name, joined_at
		 FROM group_members WHERE group_code = $1
		 ORDER BY joined_at, user_id`,
		code,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []member.Member
	for rows.Next() {
		var m member.Member
		if err := rows.Scan(&m.UserID, &m.DisplayName, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemberCount returns the maintained member count for the group.
func (d *Postgres) MemberCount(ctx context.Context, code string) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx,
		`SELECT member_count FROM groups WHERE code = $1`, code,
	).Scan(&count)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrGroupNotFound
	}
	return count, err
}
