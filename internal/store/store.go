// Package store persists room layouts in SQLite
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-pdr/internal/room"
)

// ErrNotFound is returned when no layout has the requested id
var ErrNotFound = errors.New("layout not found")

//go:embed schema.sql
var schemaSQL string

// Entry describes one stored layout
type Entry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SavedAt     time.Time `json:"saved_at"`
	CornerCount int       `json:"corner_count"`
	WiFiCount   int       `json:"wifi_count"`
}

// Store is a SQLite-backed layout store
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path and applies the schema
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("layout store opened", "path", path)
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Save stores a layout under a new id
func (s *Store) Save(ctx context.Context, sessionID, name string, l room.Layout) (Entry, error) {
	data, err := room.Encode(l)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Name:        name,
		CreatedAt:   l.CreatedAt,
		SavedAt:     s.now(),
		CornerCount: len(l.Corners),
		WiFiCount:   len(l.WiFiReferences),
	}

	query := `
		INSERT INTO layouts (id, session_id, name, created_at, saved_at, corner_count, wifi_count, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.SessionID, e.Name,
		e.CreatedAt.UnixMilli(), e.SavedAt.UnixMilli(),
		e.CornerCount, e.WiFiCount, string(data),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert layout: %w", err)
	}

	s.logger.Debug("layout saved",
		"id", e.ID,
		"session_id", sessionID,
		"corners", e.CornerCount,
	)
	return e, nil
}

// Get returns a stored layout and its entry
func (s *Store) Get(ctx context.Context, id string) (room.Layout, Entry, error) {
	query := `
		SELECT id, session_id, name, created_at, saved_at, corner_count, wifi_count, record
		FROM layouts
		WHERE id = ?
	`

	var (
		e       Entry
		created int64
		saved   int64
		record  string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.SessionID, &e.Name, &created, &saved, &e.CornerCount, &e.WiFiCount, &record,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Layout{}, Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return room.Layout{}, Entry{}, fmt.Errorf("failed to query layout: %w", err)
	}
	e.CreatedAt = time.UnixMilli(created)
	e.SavedAt = time.UnixMilli(saved)

	l, err := room.Decode([]byte(record))
	if err != nil {
		return room.Layout{}, Entry{}, fmt.Errorf("layout %s: %w", id, err)
	}
	return l, e, nil
}

// List returns stored layouts, newest first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	query := `
		SELECT id, session_id, name, created_at, saved_at, corner_count, wifi_count
		FROM layouts
		ORDER BY saved_at DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list layouts: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			created int64
			saved   int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Name, &created, &saved, &e.CornerCount, &e.WiFiCount); err != nil {
			return nil, fmt.Errorf("failed to scan layout: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		e.SavedAt = time.UnixMilli(saved)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a stored layout
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM layouts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete layout: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete layout: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.logger.Debug("layout deleted", "id", id)
	return nil
}

// Count returns the number of stored layouts
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM layouts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count layouts: %w", err)
	}
	return n, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
