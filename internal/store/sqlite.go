/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/newyear.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/newyear.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS participants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_name TEXT UNIQUE NOT NULL,
		device_id TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS winners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prize_level TEXT NOT NULL,
		user_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS songs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		artist TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_winners_prize_level ON winners(prize_level);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecentMessages returns up to limit messages, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	defer observe("recent_messages")()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, user_name, created_at
		FROM messages
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Text, &m.UserName, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// InsertMessage stores m. A zero CreatedAt is set to now.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m Message) error {
	defer observe("insert_message")()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, text, user_name, created_at)
		VALUES (?, ?, ?, ?)
	`, m.ID, m.Text, m.UserName, m.CreatedAt.UTC())

	return sqliteErr(err)
}

// Participants returns every sign-up in registration order.
func (s *SQLiteStore) Participants(ctx context.Context) ([]Participant, error) {
	defer observe("participants")()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_name, device_id, created_at
		FROM participants
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := []Participant{}
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserName, &p.DeviceID, &p.CreatedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// ParticipantByDevice returns nil, nil when the device has not signed up.
func (s *SQLiteStore) ParticipantByDevice(ctx context.Context, deviceID string) (*Participant, error) {
	defer observe("participant_by_device")()

	p := &Participant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_name, device_id, created_at
		FROM participants WHERE device_id = ?
	`, deviceID).Scan(&p.UserName, &p.DeviceID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

// RegisterParticipant returns ErrDuplicate if the name or device is taken.
func (s *SQLiteStore) RegisterParticipant(ctx context.Context, userName, deviceID string) (*Participant, error) {
	defer observe("register_participant")()

	p := &Participant{
		UserName:  userName,
		DeviceID:  deviceID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (user_name, device_id, created_at)
		VALUES (?, ?, ?)
	`, p.UserName, p.DeviceID, p.CreatedAt)
	if err != nil {
		return nil, sqliteErr(err)
	}

	return p, nil
}

func (s *SQLiteStore) Winners(ctx context.Context) ([]Winner, error) {
	defer observe("winners")()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prize_level, user_name FROM winners ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	winners := []Winner{}
	for rows.Next() {
		var w Winner
		if err := rows.Scan(&w.ID, &w.PrizeLevel, &w.UserName); err != nil {
			return nil, err
		}
		winners = append(winners, w)
	}

	return winners, rows.Err()
}

func (s *SQLiteStore) HasWinners(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM winners)`).Scan(&exists)
	return exists, err
}

// InsertWinners stores winners in a single transaction and returns them
// with their assigned IDs.
func (s *SQLiteStore) InsertWinners(ctx context.Context, winners []Winner) ([]Winner, error) {
	defer observe("insert_winners")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]Winner, 0, len(winners))
	for _, w := range winners {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO winners (prize_level, user_name) VALUES (?, ?)
		`, w.PrizeLevel, w.UserName)
		if err != nil {
			return nil, sqliteErr(err)
		}

		w.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return out, nil
}

// DeleteWinners removes every winner and returns how many were removed.
func (s *SQLiteStore) DeleteWinners(ctx context.Context) (int64, error) {
	defer observe("delete_winners")()

	res, err := s.db.ExecContext(ctx, `DELETE FROM winners`)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// Songs returns the playlist ordered by ID.
func (s *SQLiteStore) Songs(ctx context.Context) ([]Song, error) {
	defer observe("songs")()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, artist, audio_url FROM songs ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	songs := []Song{}
	for rows.Next() {
		var song Song
		if err := rows.Scan(&song.ID, &song.Title, &song.Artist, &song.AudioURL); err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}

	return songs, rows.Err()
}

// SaveSong inserts song, or replaces the song with the same non-zero ID.
func (s *SQLiteStore) SaveSong(ctx context.Context, song Song) (*Song, error) {
	defer observe("save_song")()

	if song.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO songs (title, artist, audio_url) VALUES (?, ?, ?)
		`, song.Title, song.Artist, song.AudioURL)
		if err != nil {
			return nil, sqliteErr(err)
		}

		song.ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}

		return &song, nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO songs (id, title, artist, audio_url) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			audio_url = excluded.audio_url
	`, song.ID, song.Title, song.Artist, song.AudioURL)
	if err != nil {
		return nil, sqliteErr(err)
	}

	return &song, nil
}

func (s *SQLiteStore) DeleteSong(ctx context.Context, id int64) error {
	defer observe("delete_song")()

	res, err := s.db.ExecContext(ctx, `DELETE FROM songs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// sqliteErr maps constraint violations to ErrDuplicate.
func sqliteErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return ErrDuplicate
	}

	return err
}
