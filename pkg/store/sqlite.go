package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the durable Store backend
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates tables if they don't exist
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS worlds (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		server_id TEXT NOT NULL,
		name TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		world_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		source TEXT DEFAULT '',
		kind TEXT DEFAULT '',
		name TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		name TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		world_id TEXT DEFAULT '',
		entity_id TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT DEFAULT '',
		in_reply_to_id TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS logs (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		type TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_room_created ON memories(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_logs_entity_created ON logs(entity_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_logs_room_type ON logs(room_id, type);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// insertIgnoring inserts a row and maps a primary-key conflict to ErrDuplicate
func (s *SQLiteStore) insertIgnoring(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// CreateWorld implements Store
func (s *SQLiteStore) CreateWorld(ctx context.Context, w World) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	return s.insertIgnoring(ctx, `
		INSERT INTO worlds (id, agent_id, server_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, w.ID, w.AgentID, w.ServerID, w.Name, w.CreatedAt)
}

// GetWorld implements Store
func (s *SQLiteStore) GetWorld(ctx context.Context, id string) (*World, error) {
	var w World
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, server_id, name, created_at FROM worlds WHERE id = ?
	`, id).Scan(&w.ID, &w.AgentID, &w.ServerID, &w.Name, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateRoom implements Store
func (s *SQLiteStore) CreateRoom(ctx context.Context, r Room) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return s.insertIgnoring(ctx, `
		INSERT INTO rooms (id, agent_id, world_id, channel_id, source, kind, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.AgentID, r.WorldID, r.ChannelID, r.Source, r.Kind, r.Name, r.CreatedAt)
}

// GetRoom implements Store
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, world_id, channel_id, source, kind, name, created_at
		FROM rooms WHERE id = ?
	`, id).Scan(&r.ID, &r.AgentID, &r.WorldID, &r.ChannelID, &r.Source, &r.Kind, &r.Name, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateEntity implements Store
func (s *SQLiteStore) CreateEntity(ctx context.Context, e Entity) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.insertIgnoring(ctx, `
		INSERT INTO entities (id, agent_id, author_id, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.AgentID, e.AuthorID, e.Name, e.CreatedAt)
}

// GetEntity implements Store
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	var e Entity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, author_id, name, created_at FROM entities WHERE id = ?
	`, id).Scan(&e.ID, &e.AgentID, &e.AuthorID, &e.Name, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateMemory implements Store
func (s *SQLiteStore) CreateMemory(ctx context.Context, m Memory) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.insertIgnoring(ctx, `
		INSERT INTO memories (id, agent_id, room_id, world_id, entity_id, content, source, in_reply_to_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, m.AgentID, m.RoomID, m.WorldID, m.EntityID, m.Content, m.Source, m.InReplyToID, m.CreatedAt)
}

// GetMemory implements Store
func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*Memory, error) {
	var m Memory
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, room_id, world_id, entity_id, content, source, in_reply_to_id, created_at
		FROM memories WHERE id = ?
	`, id).Scan(&m.ID, &m.AgentID, &m.RoomID, &m.WorldID, &m.EntityID, &m.Content, &m.Source, &m.InReplyToID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMemory implements Store. Deleting an absent record succeeds.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// ClearRoomMemories implements Store
func (s *SQLiteStore) ClearRoomMemories(ctx context.Context, roomID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE room_id = ?`, roomID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RecentMemories implements Store; newest first
func (s *SQLiteStore) RecentMemories(ctx context.Context, roomID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, room_id, world_id, entity_id, content, source, in_reply_to_id, created_at
		FROM memories WHERE room_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.AgentID, &m.RoomID, &m.WorldID, &m.EntityID, &m.Content, &m.Source, &m.InReplyToID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateLog implements Store
func (s *SQLiteStore) CreateLog(ctx context.Context, l Log) error {
	if l.ID == "" {
		l.ID = gonanoid.Must()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	body, err := json.Marshal(l.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal log body: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO logs (id, entity_id, room_id, type, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.EntityID, l.RoomID, string(l.Type), string(body), l.CreatedAt)
	return err
}

// QueryLogs implements Store; results ordered oldest first
func (s *SQLiteStore) QueryLogs(ctx context.Context, q LogQuery) ([]Log, error) {
	var (
		conds []string
		args  []any
	)

	if len(q.EntityIDs) > 0 {
		placeholders := strings.Repeat("?,", len(q.EntityIDs))
		conds = append(conds, fmt.Sprintf("entity_id IN (%s)", placeholders[:len(placeholders)-1]))
		for _, id := range q.EntityIDs {
			args = append(args, id)
		}
	}
	if q.RoomID != "" {
		conds = append(conds, "room_id = ?")
		args = append(args, q.RoomID)
	}
	if q.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(q.Type))
	}
	if !q.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, q.Until)
	}

	query := "SELECT id, entity_id, room_id, type, body, created_at FROM logs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		var (
			l       Log
			logType string
			body    string
		)
		if err := rows.Scan(&l.ID, &l.EntityID, &l.RoomID, &logType, &body, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Type = LogType(logType)
		if err := json.Unmarshal([]byte(body), &l.Body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log body: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
