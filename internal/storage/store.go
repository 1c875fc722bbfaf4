package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	maxCreateAttempts    = 50
)

// Store wraps the SQLite handle and exposes helper methods used by the server.
type Store struct {
	db *sql.DB
}

// Room is a row in the rooms table.
type Room struct {
	ID        string
	PIN       string
	Type      string
	CreatedAt time.Time
}

// Message is one persisted chat message.
type Message struct {
	ID        int64
	RoomID    string
	Nickname  string
	Kind      string
	Content   string
	FileName  string
	URL       string
	Timestamp string
}

// Admin represents a row in the admins table.
type Admin struct {
	ID           int64
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session captures an issued admin token.
type Session struct {
	Token     string
	AdminID   int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

var (
	// ErrNotFound is returned when a delete targets a missing row.
	ErrNotFound = errors.New("not found")
	// ErrAdminExists is returned when attempting to insert a duplicate username.
	ErrAdminExists = errors.New("admin already exists")
	// ErrPINExhausted is returned when no free room id / PIN pair could be drawn.
	ErrPINExhausted = errors.New("no free room pin available")
)

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "salachat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			pin TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			nickname TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);`,
		`CREATE TABLE IF NOT EXISTS admins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS admin_sessions (
			token TEXT PRIMARY KEY,
			admin_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(admin_id) REFERENCES admins(id) ON DELETE CASCADE
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateRoom inserts a room with an id and PIN drawn from generate, drawing
// again whenever either collides with an existing room.
func (s *Store) CreateRoom(ctx context.Context, roomType string, generate func() (id, pin string, err error)) (*Room, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, pin, err := generate()
		if err != nil {
			return nil, err
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO rooms(id, pin, type) VALUES(?, ?, ?)`, id, pin, roomType)
		if err == nil {
			return s.GetRoom(ctx, id)
		}
		if !isConstraintError(err) {
			return nil, err
		}
	}
	return nil, ErrPINExhausted
}

// GetRoom fetches a room by id. A missing room yields nil, nil.
func (s *Store) GetRoom(ctx context.Context, id string) (*Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx, `SELECT id, pin, type, created_at FROM rooms WHERE id = ?`, id))
}

// GetRoomByPIN fetches a room by its join PIN. A missing room yields nil, nil.
func (s *Store) GetRoomByPIN(ctx context.Context, pin string) (*Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx, `SELECT id, pin, type, created_at FROM rooms WHERE pin = ?`, pin))
}

func (s *Store) scanRoom(row *sql.Row) (*Room, error) {
	var room Room
	if err := row.Scan(&room.ID, &room.PIN, &room.Type, &room.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

// ListRooms returns every room, oldest first.
func (s *Store) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, pin, type, created_at FROM rooms ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rooms := make([]Room, 0)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.PIN, &room.Type, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// DeleteRoom removes a room and its messages. ErrNotFound is returned when
// the room does not exist.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage stores a message at the end of a room's history.
func (s *Store) AppendMessage(ctx context.Context, msg Message) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(room_id, nickname, kind, content, file_name, url, timestamp)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, msg.RoomID, msg.Nickname, msg.Kind, msg.Content, msg.FileName, msg.URL, msg.Timestamp)
	if err != nil {
		if isConstraintError(err) {
			return 0, fmt.Errorf("room %s: %w", msg.RoomID, ErrNotFound)
		}
		return 0, err
	}
	return result.LastInsertId()
}

// ListMessages returns a room's history in append order.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, nickname, kind, content, file_name, url, timestamp
		FROM messages
		WHERE room_id = ?
		ORDER BY id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Nickname, &msg.Kind, &msg.Content, &msg.FileName, &msg.URL, &msg.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateAdmin inserts a new admin. ErrAdminExists is returned on conflicts.
func (s *Store) CreateAdmin(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO admins(username, password_hash) VALUES(?, ?)`, username, passwordHash)
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrAdminExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetAdminByUsername fetches an admin by username.
func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM admins WHERE username = ?`, username)
	var admin Admin
	if err := row.Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &admin, nil
}

// CreateSession stores a new token for an admin.
func (s *Store) CreateSession(ctx context.Context, adminID int64, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO admin_sessions(token, admin_id, expires_at) VALUES(?, ?, ?)`, token, adminID, expiresAt.UTC())
	return err
}

// GetSession returns a session if it exists.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, admin_id, expires_at, created_at FROM admin_sessions WHERE token = ?`, token)
	var sess Session
	if err := row.Scan(&sess.Token, &sess.AdminID, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// DeleteExpiredSessions prunes tokens whose expiry is before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
