package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// RoomStore defines the interface for room storage operations.
type RoomStore interface {
	// Insert stores a new room.
	Insert(ctx context.Context, room *Room) error
	// GetByID gets a room by ID. Returns nil and ErrNotFound if missing.
	GetByID(ctx context.Context, id string) (*Room, error)
	// ListByOrg pages through an organization's rooms.
	ListByOrg(ctx context.Context, orgID string, page Page) (*RoomPage, error)
}

// RoomRepo provides methods for room operations.
// It implements the RoomStore interface.
type RoomRepo struct {
	db *sql.DB
}

// NewRoomRepo creates a new RoomRepo.
func NewRoomRepo(db *sql.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// Insert stores a new room.
func (r *RoomRepo) Insert(ctx context.Context, room *Room) error {
	createdAt := room.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO rooms (id, org_id, name, created_at) VALUES (?, ?, ?, ?)",
		room.ID, room.OrgID, room.Name, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

// GetByID gets a room by ID.
func (r *RoomRepo) GetByID(ctx context.Context, id string) (*Room, error) {
	var room Room

	err := r.db.QueryRowContext(ctx,
		"SELECT id, org_id, name, created_at FROM rooms WHERE id = ?",
		id,
	).Scan(&room.ID, &room.OrgID, &room.Name, &room.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query room: %w", err)
	}

	return &room, nil
}

// ListByOrg pages through an organization's rooms ordered by creation time.
func (r *RoomRepo) ListByOrg(ctx context.Context, orgID string, page Page) (*RoomPage, error) {
	size := page.Size
	if size <= 0 {
		size = defaultPageSize
	}

	offset := 0
	if page.Token != "" {
		parsed, err := strconv.Atoi(page.Token)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("invalid page token %q", page.Token)
		}
		offset = parsed
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, org_id, name, created_at FROM rooms WHERE org_id = ? ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?",
		orgID, size+1, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.OrgID, &room.Name, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		items = append(items, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rooms: %w", err)
	}

	result := &RoomPage{}
	if len(items) > size {
		result.Items = items[:size]
		result.NextToken = strconv.Itoa(offset + size)
	} else {
		result.Items = items
	}
	return result, nil
}
