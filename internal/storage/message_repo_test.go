package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func seedRoom(t *testing.T, rooms *RoomRepo, id, orgID string) {
	t.Helper()
	if err := rooms.Insert(context.Background(), &Room{ID: id, OrgID: orgID, Name: "room " + id}); err != nil {
		t.Fatalf("Insert(room) error = %v", err)
	}
}

func TestMessageRepo_InsertAndGet(t *testing.T) {
	db := newTestDB(t)
	rooms := NewRoomRepo(db)
	repo := NewMessageRepo(db)
	ctx := context.Background()

	seedRoom(t, rooms, "room1", "org1")

	msg := &Message{
		ID:      "msg1",
		RoomID:  "room1",
		OrgID:   "org1",
		UserID:  "user1",
		Content: "hello world",
	}
	if err := repo.Insert(ctx, msg); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "msg1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Content != "hello world" {
		t.Errorf("GetByID() content = %q, want %q", got.Content, "hello world")
	}
	if got.CreatedAt.IsZero() {
		t.Error("GetByID() created_at should be set")
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMessageRepo_ListByRoom_Pagination(t *testing.T) {
	db := newTestDB(t)
	rooms := NewRoomRepo(db)
	repo := NewMessageRepo(db)
	ctx := context.Background()

	seedRoom(t, rooms, "room1", "org1")
	seedRoom(t, rooms, "room2", "org1")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		msg := &Message{
			ID:        fmt.Sprintf("msg%d", i),
			RoomID:    "room1",
			OrgID:     "org1",
			UserID:    "user1",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Insert(ctx, msg); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	// A message in another room must not leak into room1 pages.
	if err := repo.Insert(ctx, &Message{ID: "other", RoomID: "room2", OrgID: "org1", UserID: "u", Content: "x"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	var all []Message
	token := ""
	pages := 0
	for {
		page, err := repo.ListByRoom(ctx, "room1", Page{Size: 3, Token: token})
		if err != nil {
			t.Fatalf("ListByRoom() error = %v", err)
		}
		all = append(all, page.Items...)
		pages++
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	if len(all) != 7 {
		t.Fatalf("paged listing returned %d messages, want 7", len(all))
	}
	if pages != 3 {
		t.Errorf("paged listing used %d pages, want 3", pages)
	}
	for i, msg := range all {
		if msg.ID != fmt.Sprintf("msg%d", i) {
			t.Errorf("message[%d] = %s, want msg%d (oldest-first order)", i, msg.ID, i)
		}
	}
}

func TestMessageRepo_ListByRoom_InvalidToken(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepo(db)

	if _, err := repo.ListByRoom(context.Background(), "room1", Page{Token: "not-a-number"}); err == nil {
		t.Error("ListByRoom() expected error for invalid token")
	}
}

func TestMessageRepo_ListRecent(t *testing.T) {
	db := newTestDB(t)
	rooms := NewRoomRepo(db)
	repo := NewMessageRepo(db)
	ctx := context.Background()

	seedRoom(t, rooms, "room1", "org1")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &Message{
			ID:        fmt.Sprintf("msg%d", i),
			RoomID:    "room1",
			OrgID:     "org1",
			UserID:    "user1",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Insert(ctx, msg); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	recent, err := repo.ListRecent(ctx, "room1", 3)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("ListRecent() returned %d messages, want 3", len(recent))
	}
	if recent[0].ID != "msg4" || recent[2].ID != "msg2" {
		t.Errorf("ListRecent() order = [%s %s %s], want newest-first [msg4 msg3 msg2]",
			recent[0].ID, recent[1].ID, recent[2].ID)
	}
}
