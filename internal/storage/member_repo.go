package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MemberStore defines the interface for room membership operations.
type MemberStore interface {
	// Add upserts a user's membership in a room.
	Add(ctx context.Context, member *Member) error
	// IsMember reports whether a user belongs to a room.
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	// Get returns a member record. Returns nil and ErrNotFound if missing.
	Get(ctx context.Context, roomID, userID string) (*Member, error)
}

// MemberRepo provides methods for room membership operations.
// It implements the MemberStore interface.
type MemberRepo struct {
	db *sql.DB
}

// NewMemberRepo creates a new MemberRepo.
func NewMemberRepo(db *sql.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

// Add upserts a user's membership in a room.
func (r *MemberRepo) Add(ctx context.Context, member *Member) error {
	role := member.Role
	if role == "" {
		role = "MEMBER"
	}
	joinedAt := member.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO room_members (room_id, user_id, role, joined_at) VALUES (?, ?, ?, ?) ON CONFLICT(room_id, user_id) DO UPDATE SET role = excluded.role",
		member.RoomID, member.UserID, role, joinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// IsMember reports whether a user belongs to a room.
func (r *MemberRepo) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?",
		roomID, userID,
	).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

// Get returns a member record.
func (r *MemberRepo) Get(ctx context.Context, roomID, userID string) (*Member, error) {
	var member Member

	err := r.db.QueryRowContext(ctx,
		"SELECT room_id, user_id, role, joined_at FROM room_members WHERE room_id = ? AND user_id = ?",
		roomID, userID,
	).Scan(&member.RoomID, &member.UserID, &member.Role, &member.JoinedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}

	return &member, nil
}
