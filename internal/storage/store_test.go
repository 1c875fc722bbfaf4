package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fixedRoom(id, pin string) func() (string, string, error) {
	return func() (string, string, error) { return id, pin, nil }
}

func TestRoomLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	room, err := store.CreateRoom(ctx, "Texto", fixedRoom("ABC123", "1234"))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room == nil || room.ID != "ABC123" || room.PIN != "1234" || room.Type != "Texto" {
		t.Fatalf("unexpected room: %+v", room)
	}

	byPIN, err := store.GetRoomByPIN(ctx, "1234")
	if err != nil {
		t.Fatalf("GetRoomByPIN: %v", err)
	}
	if byPIN == nil || byPIN.ID != "ABC123" {
		t.Fatalf("unexpected room by pin: %+v", byPIN)
	}
	missing, err := store.GetRoomByPIN(ctx, "9999")
	if err != nil {
		t.Fatalf("GetRoomByPIN missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown pin, got %+v", missing)
	}

	rooms, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}

	if err := store.DeleteRoom(ctx, "ABC123"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if err := store.DeleteRoom(ctx, "ABC123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCreateRoomRetriesOnCollision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := store.CreateRoom(ctx, "Texto", fixedRoom("AAAAAA", "1111")); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	draws := []struct{ id, pin string }{
		{"AAAAAA", "2222"}, // id taken
		{"BBBBBB", "1111"}, // pin taken
		{"CCCCCC", "3333"},
	}
	calls := 0
	room, err := store.CreateRoom(ctx, "Multimedia", func() (string, string, error) {
		draw := draws[calls]
		calls++
		return draw.id, draw.pin, nil
	})
	if err != nil {
		t.Fatalf("CreateRoom with collisions: %v", err)
	}
	if calls != 3 || room.ID != "CCCCCC" || room.PIN != "3333" || room.Type != "Multimedia" {
		t.Fatalf("unexpected result after %d draws: %+v", calls, room)
	}

	_, err = store.CreateRoom(ctx, "Texto", fixedRoom("AAAAAA", "1111"))
	if !errors.Is(err, ErrPINExhausted) {
		t.Fatalf("expected ErrPINExhausted, got %v", err)
	}

	boom := errors.New("entropy")
	if _, err := store.CreateRoom(ctx, "Texto", func() (string, string, error) { return "", "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected generator error, got %v", err)
	}
}

func TestMessagesKeepAppendOrderAndCascade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := store.CreateRoom(ctx, "Multimedia", fixedRoom("ROOM01", "4321")); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := store.AppendMessage(ctx, Message{
			RoomID:    "ROOM01",
			Nickname:  "alice",
			Kind:      "texto",
			Content:   fmt.Sprintf("hola %d", i),
			Timestamp: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}
	if _, err := store.AppendMessage(ctx, Message{
		RoomID:   "ROOM01",
		Nickname: "bob",
		Kind:     "archivo",
		Content:  "subió el archivo: foto.png",
		FileName: "foto.png",
		URL:      "/uploads/x_foto.png",
	}); err != nil {
		t.Fatalf("AppendMessage file: %v", err)
	}

	messages, err := store.ListMessages(ctx, "ROOM01")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	for i := 0; i < 3; i++ {
		if messages[i].Content != fmt.Sprintf("hola %d", i) {
			t.Fatalf("message %d out of order: %+v", i, messages[i])
		}
	}
	if messages[3].FileName != "foto.png" || messages[3].URL != "/uploads/x_foto.png" {
		t.Fatalf("unexpected file message: %+v", messages[3])
	}

	if _, err := store.AppendMessage(ctx, Message{RoomID: "NOPE00", Nickname: "x", Kind: "texto", Content: "y"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown room, got %v", err)
	}

	if err := store.DeleteRoom(ctx, "ROOM01"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	messages, err = store.ListMessages(ctx, "ROOM01")
	if err != nil {
		t.Fatalf("ListMessages after delete: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected messages to cascade, got %d", len(messages))
	}
}

func TestAdminAndSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	adminID, err := store.CreateAdmin(ctx, "admin", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if adminID == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateAdmin(ctx, "admin", []byte("hash2")); !errors.Is(err, ErrAdminExists) {
		t.Fatalf("expected ErrAdminExists, got %v", err)
	}

	admin, err := store.GetAdminByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("GetAdminByUsername: %v", err)
	}
	if admin == nil || admin.ID != adminID {
		t.Fatalf("unexpected admin: %+v", admin)
	}
	if nobody, err := store.GetAdminByUsername(ctx, "nobody"); err != nil || nobody != nil {
		t.Fatalf("expected nil admin, got %+v (%v)", nobody, err)
	}

	now := time.Now()
	if err := store.CreateSession(ctx, adminID, "live", now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession live: %v", err)
	}
	if err := store.CreateSession(ctx, adminID, "stale", now.Add(-time.Hour)); err != nil {
		t.Fatalf("CreateSession stale: %v", err)
	}
	session, err := store.GetSession(ctx, "live")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session == nil || session.AdminID != adminID || !session.ExpiresAt.After(now) {
		t.Fatalf("unexpected session: %+v", session)
	}

	pruned, err := store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned session, got %d", pruned)
	}
	if stale, err := store.GetSession(ctx, "stale"); err != nil || stale != nil {
		t.Fatalf("expected stale session gone, got %+v (%v)", stale, err)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
