package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_stores.go -package=mocks roomrag/internal/storage MessageStore,RoomStore,AttachmentStore,MemberStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// defaultPageSize is used when a Page carries no explicit size.
const defaultPageSize = 100

// MessageStore defines the interface for message storage operations.
type MessageStore interface {
	// Insert stores a new message.
	Insert(ctx context.Context, msg *Message) error
	// GetByID gets a message by ID. Returns nil and ErrNotFound if missing.
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListByRoom pages through a room's messages oldest-first.
	ListByRoom(ctx context.Context, roomID string, page Page) (*MessagePage, error)
	// ListRecent returns the newest messages in a room, newest-first.
	ListRecent(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// MessageRepo provides methods for message operations.
// It implements the MessageStore interface.
type MessageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo.
func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores a new message.
func (r *MessageRepo) Insert(ctx context.Context, msg *Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO messages (id, room_id, org_id, user_id, content, thread_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.RoomID, msg.OrgID, msg.UserID, msg.Content, msg.ThreadID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetByID gets a message by ID.
func (r *MessageRepo) GetByID(ctx context.Context, id string) (*Message, error) {
	var msg Message
	var threadID sql.NullString

	err := r.db.QueryRowContext(ctx,
		"SELECT id, room_id, org_id, user_id, content, thread_id, created_at FROM messages WHERE id = ?",
		id,
	).Scan(&msg.ID, &msg.RoomID, &msg.OrgID, &msg.UserID, &msg.Content, &threadID, &msg.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}

	msg.ThreadID = threadID.String
	return &msg, nil
}

// ListByRoom pages through a room's messages oldest-first. The page token is
// an opaque offset; an empty NextToken means the listing is exhausted.
func (r *MessageRepo) ListByRoom(ctx context.Context, roomID string, page Page) (*MessagePage, error) {
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
		"SELECT id, room_id, org_id, user_id, content, thread_id, created_at FROM messages WHERE room_id = ? ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?",
		roomID, size+1, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	items, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	result := &MessagePage{}
	if len(items) > size {
		result.Items = items[:size]
		result.NextToken = strconv.Itoa(offset + size)
	} else {
		result.Items = items
	}
	return result, nil
}

// ListRecent returns the newest messages in a room, newest-first.
func (r *MessageRepo) ListRecent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, room_id, org_id, user_id, content, thread_id, created_at FROM messages WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var items []Message
	for rows.Next() {
		var msg Message
		var threadID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.OrgID, &msg.UserID, &msg.Content, &threadID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ThreadID = threadID.String
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return items, nil
}
