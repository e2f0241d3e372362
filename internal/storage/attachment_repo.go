package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AttachmentStore defines the interface for attachment storage operations.
type AttachmentStore interface {
	// Insert stores a new attachment record.
	Insert(ctx context.Context, att *Attachment) error
	// GetByID gets an attachment by ID. Returns nil and ErrNotFound if missing.
	GetByID(ctx context.Context, id string) (*Attachment, error)
	// ListByMessage returns all attachments on a message.
	ListByMessage(ctx context.Context, messageID string) ([]Attachment, error)
}

// AttachmentRepo provides methods for attachment operations.
// It implements the AttachmentStore interface.
type AttachmentRepo struct {
	db *sql.DB
}

// NewAttachmentRepo creates a new AttachmentRepo.
func NewAttachmentRepo(db *sql.DB) *AttachmentRepo {
	return &AttachmentRepo{db: db}
}

// Insert stores a new attachment record.
func (r *AttachmentRepo) Insert(ctx context.Context, att *Attachment) error {
	createdAt := att.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO attachments (id, message_id, room_id, org_id, file_id, file_name, mime_type, file_size, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		att.ID, att.MessageID, att.RoomID, att.OrgID, att.FileID, att.FileName, att.MimeType, att.FileSize, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// GetByID gets an attachment by ID.
func (r *AttachmentRepo) GetByID(ctx context.Context, id string) (*Attachment, error) {
	var att Attachment

	err := r.db.QueryRowContext(ctx,
		"SELECT id, message_id, room_id, org_id, file_id, file_name, mime_type, file_size, created_at FROM attachments WHERE id = ?",
		id,
	).Scan(&att.ID, &att.MessageID, &att.RoomID, &att.OrgID, &att.FileID, &att.FileName, &att.MimeType, &att.FileSize, &att.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attachment: %w", err)
	}

	return &att, nil
}

// ListByMessage returns all attachments on a message.
func (r *AttachmentRepo) ListByMessage(ctx context.Context, messageID string) ([]Attachment, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, message_id, room_id, org_id, file_id, file_name, mime_type, file_size, created_at FROM attachments WHERE message_id = ? ORDER BY created_at ASC",
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []Attachment
	for rows.Next() {
		var att Attachment
		if err := rows.Scan(&att.ID, &att.MessageID, &att.RoomID, &att.OrgID, &att.FileID, &att.FileName, &att.MimeType, &att.FileSize, &att.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		items = append(items, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}
	return items, nil
}
