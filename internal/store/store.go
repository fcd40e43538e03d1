/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/newyear/internal/metrics"
)

var (
	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = errors.New("record already exists")

	ErrNotFound = errors.New("record not found")
)

// Message is a wish posted to the wall.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant is a lottery sign-up, unique per device and per name.
type Participant struct {
	UserName  string    `json:"user_name"`
	DeviceID  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Winner struct {
	ID         int64  `json:"id"`
	PrizeLevel string `json:"prize_level"`
	UserName   string `json:"user_name"`
}

type Song struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	AudioURL string `json:"audio_url"`
}

// DataStore defines the persistent collections behind the party page.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Message operations
	RecentMessages(ctx context.Context, limit int) ([]Message, error)
	InsertMessage(ctx context.Context, m Message) error

	// Lottery operations
	Participants(ctx context.Context) ([]Participant, error)
	ParticipantByDevice(ctx context.Context, deviceID string) (*Participant, error)
	RegisterParticipant(ctx context.Context, userName, deviceID string) (*Participant, error)
	Winners(ctx context.Context) ([]Winner, error)
	HasWinners(ctx context.Context) (bool, error)
	InsertWinners(ctx context.Context, winners []Winner) ([]Winner, error)
	DeleteWinners(ctx context.Context) (int64, error)

	// Playlist operations
	Songs(ctx context.Context) ([]Song, error)
	SaveSong(ctx context.Context, s Song) (*Song, error)
	DeleteSong(ctx context.Context, id int64) error
}

// Open connects to the store named by dsn: "sqlite:<path>" or a
// postgres:// URL.
func Open(ctx context.Context, dsn string) (DataStore, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//"))
	default:
		return nil, fmt.Errorf("unsupported database %q (want sqlite:<path> or postgres://...)", dsn)
	}
}

// observe records the latency of one store operation.
func observe(op string) func() {
	start := time.Now()

	return func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
