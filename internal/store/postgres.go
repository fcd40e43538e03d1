/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE unique_violation
const pgUniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and creates the schema if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}

	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS participants (
		id BIGSERIAL PRIMARY KEY,
		user_name TEXT UNIQUE NOT NULL,
		device_id TEXT UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS winners (
		id BIGSERIAL PRIMARY KEY,
		prize_level TEXT NOT NULL,
		user_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS songs (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_winners_prize_level ON winners(prize_level);
	`)

	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecentMessages returns up to limit messages, newest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	defer observe("recent_messages")()

	rows, err := s.pool.Query(ctx, `
		SELECT id, text, user_name, created_at
		FROM messages
		ORDER BY created_at DESC
		LIMIT $1
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

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) error {
	defer observe("insert_message")()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, text, user_name, created_at)
		VALUES ($1, $2, $3, $4)
	`, m.ID, m.Text, m.UserName, m.CreatedAt)

	return pgErr(err)
}

func (s *PostgresStore) Participants(ctx context.Context) ([]Participant, error) {
	defer observe("participants")()

	rows, err := s.pool.Query(ctx, `
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

func (s *PostgresStore) ParticipantByDevice(ctx context.Context, deviceID string) (*Participant, error) {
	defer observe("participant_by_device")()

	p := &Participant{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_name, device_id, created_at
		FROM participants WHERE device_id = $1
	`, deviceID).Scan(&p.UserName, &p.DeviceID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

func (s *PostgresStore) RegisterParticipant(ctx context.Context, userName, deviceID string) (*Participant, error) {
	defer observe("register_participant")()

	p := &Participant{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO participants (user_name, device_id)
		VALUES ($1, $2)
		RETURNING user_name, device_id, created_at
	`, userName, deviceID).Scan(&p.UserName, &p.DeviceID, &p.CreatedAt)
	if err != nil {
		return nil, pgErr(err)
	}

	return p, nil
}

func (s *PostgresStore) Winners(ctx context.Context) ([]Winner, error) {
	defer observe("winners")()

	rows, err := s.pool.Query(ctx, `
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

func (s *PostgresStore) HasWinners(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM winners)`).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) InsertWinners(ctx context.Context, winners []Winner) ([]Winner, error) {
	defer observe("insert_winners")()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := make([]Winner, 0, len(winners))
	for _, w := range winners {
		err := tx.QueryRow(ctx, `
			INSERT INTO winners (prize_level, user_name) VALUES ($1, $2)
			RETURNING id
		`, w.PrizeLevel, w.UserName).Scan(&w.ID)
		if err != nil {
			return nil, pgErr(err)
		}
		out = append(out, w)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *PostgresStore) DeleteWinners(ctx context.Context) (int64, error) {
	defer observe("delete_winners")()

	tag, err := s.pool.Exec(ctx, `DELETE FROM winners`)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Songs(ctx context.Context) ([]Song, error) {
	defer observe("songs")()

	rows, err := s.pool.Query(ctx, `
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

func (s *PostgresStore) SaveSong(ctx context.Context, song Song) (*Song, error) {
	defer observe("save_song")()

	if song.ID == 0 {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO songs (title, artist, audio_url) VALUES ($1, $2, $3)
			RETURNING id
		`, song.Title, song.Artist, song.AudioURL).Scan(&song.ID)
		if err != nil {
			return nil, pgErr(err)
		}

		return &song, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO songs (id, title, artist, audio_url) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			artist = EXCLUDED.artist,
			audio_url = EXCLUDED.audio_url
	`, song.ID, song.Title, song.Artist, song.AudioURL)
	if err != nil {
		return nil, pgErr(err)
	}

	// An explicit id bypasses the sequence, so move it past the largest id
	// or the next generated one may collide.
	_, err = tx.Exec(ctx, `
		SELECT setval(pg_get_serial_sequence('songs', 'id'), max(id)) FROM songs
	`)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &song, nil
}

func (s *PostgresStore) DeleteSong(ctx context.Context, id int64) error {
	defer observe("delete_song")()

	tag, err := s.pool.Exec(ctx, `DELETE FROM songs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// pgErr maps unique violations to ErrDuplicate.
func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return ErrDuplicate
	}

	return err
}
