package storage

import "time"

// Room is a chat room owned by an organization.
type Room struct {
	ID        string
	OrgID     string
	Name      string
	CreatedAt time.Time
}

// Message is one chat message in a room.
type Message struct {
	ID        string
	RoomID    string
	OrgID     string
	UserID    string
	Content   string
	ThreadID  string
	CreatedAt time.Time
}

// Attachment is a file uploaded alongside a message. FileID points into the
// external file store; the bytes are never kept in SQLite.
type Attachment struct {
	ID        string
	MessageID string
	RoomID    string
	OrgID     string
	FileID    string
	FileName  string
	MimeType  string
	FileSize  int64
	CreatedAt time.Time
}

// Member is a user's membership in a room.
type Member struct {
	RoomID   string
	UserID   string
	Role     string
	JoinedAt time.Time
}

// Page describes a pagination request. An empty Token starts from the
// beginning; Size <= 0 uses the store default.
type Page struct {
	Size  int
	Token string
}

// MessagePage is one page of messages plus the token for the next page.
// An empty NextToken means the listing is exhausted.
type MessagePage struct {
	Items     []Message
	NextToken string
}

// RoomPage is one page of rooms plus the token for the next page.
type RoomPage struct {
	Items     []Room
	NextToken string
}
