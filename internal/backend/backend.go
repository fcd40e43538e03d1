/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package backend combines the store and the change feed into the data
// service the party page talks to. Every successful write is announced on
// the feed.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Seednode/newyear/internal/feed"
	"github.com/Seednode/newyear/internal/store"
)

// ErrNotConfigured is returned by every call when no database is set up.
var ErrNotConfigured = errors.New("backend not configured")

type Client struct {
	store store.DataStore
	feed  feed.Broker
	log   zerolog.Logger
}

// New returns a client. A nil ds yields an unconfigured client whose
// calls fail with ErrNotConfigured; subscriptions still work on fb.
func New(ds store.DataStore, fb feed.Broker, log zerolog.Logger) *Client {
	return &Client{store: ds, feed: fb, log: log}
}

// Configured reports whether a database is attached.
func (c *Client) Configured() bool {
	return c != nil && c.store != nil
}

func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	return c.store.Ping(ctx)
}

// Subscribe listens for changes to the given tables, or all of them.
func (c *Client) Subscribe(tables ...string) *feed.Subscription {
	return c.feed.Subscribe(tables...)
}

// publish announces a change. Failures are logged, not returned: the
// write itself already succeeded.
func (c *Client) publish(ctx context.Context, table string, op feed.Op, record any) {
	e, err := feed.NewEvent(table, op, record)
	if err == nil {
		err = c.feed.Publish(ctx, e)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("table", table).Str("op", string(op)).Msg("change not published")
	}
}

func (c *Client) RecentMessages(ctx context.Context, limit int) ([]store.Message, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	return c.store.RecentMessages(ctx, limit)
}

func (c *Client) InsertMessage(ctx context.Context, m store.Message) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	if err := c.store.InsertMessage(ctx, m); err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}

	c.publish(ctx, feed.TableMessages, feed.OpInsert, m)

	return nil
}

func (c *Client) Participants(ctx context.Context) ([]store.Participant, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	return c.store.Participants(ctx)
}

func (c *Client) ParticipantByDevice(ctx context.Context, deviceID string) (*store.Participant, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	return c.store.ParticipantByDevice(ctx, deviceID)
}

// RegisterParticipant returns an error wrapping store.ErrDuplicate when
// the name or device is already registered.
func (c *Client) RegisterParticipant(ctx context.Context, userName, deviceID string) (*store.Participant, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	p, err := c.store.RegisterParticipant(ctx, userName, deviceID)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", userName, err)
	}

	c.publish(ctx, feed.TableParticipants, feed.OpInsert, p)

	return p, nil
}

func (c *Client) Winners(ctx context.Context) ([]store.Winner, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	return c.store.Winners(ctx)
}

func (c *Client) HasWinners(ctx context.Context) (bool, error) {
	if !c.Configured() {
		return false, ErrNotConfigured
	}
	return c.store.HasWinners(ctx)
}

// InsertWinners stores winners in bulk and publishes one insert per row.
func (c *Client) InsertWinners(ctx context.Context, winners []store.Winner) ([]store.Winner, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	inserted, err := c.store.InsertWinners(ctx, winners)
	if err != nil {
		return nil, fmt.Errorf("insert winners: %w", err)
	}

	for _, w := range inserted {
		c.publish(ctx, feed.TableWinners, feed.OpInsert, w)
	}

	return inserted, nil
}

// DeleteWinners clears every winner and publishes a single delete.
func (c *Client) DeleteWinners(ctx context.Context) (int64, error) {
	if !c.Configured() {
		return 0, ErrNotConfigured
	}

	n, err := c.store.DeleteWinners(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete winners: %w", err)
	}

	c.publish(ctx, feed.TableWinners, feed.OpDelete, nil)

	return n, nil
}

func (c *Client) Songs(ctx context.Context) ([]store.Song, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	return c.store.Songs(ctx)
}

func (c *Client) SaveSong(ctx context.Context, s store.Song) (*store.Song, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	op := feed.OpUpdate
	if s.ID == 0 {
		op = feed.OpInsert
	}

	saved, err := c.store.SaveSong(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("save song: %w", err)
	}

	c.publish(ctx, feed.TableSongs, op, saved)

	return saved, nil
}

func (c *Client) DeleteSong(ctx context.Context, id int64) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	if err := c.store.DeleteSong(ctx, id); err != nil {
		return fmt.Errorf("delete song %d: %w", id, err)
	}

	c.publish(ctx, feed.TableSongs, feed.OpDelete, store.Song{ID: id})

	return nil
}

// Close releases the store and the feed.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
	if err := c.feed.Close(); err != nil {
		c.log.Warn().Err(err).Msg("closing feed")
	}
}
