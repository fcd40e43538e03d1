/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/newyear/internal/feed"
	"github.com/Seednode/newyear/internal/store"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	ds, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)

	c := New(ds, feed.NewLocalBroker(), zerolog.Nop())
	t.Cleanup(c.Close)

	return c
}

func nextEvent(t *testing.T, s *feed.Subscription) feed.Event {
	t.Helper()

	select {
	case e := <-s.C:
		return e
	case <-time.After(time.Second):
		t.Fatal("no change published")
		return feed.Event{}
	}
}

func TestClient_Unconfigured(t *testing.T) {
	c := New(nil, feed.NewLocalBroker(), zerolog.Nop())
	defer c.Close()
	ctx := context.Background()

	assert.False(t, c.Configured())
	assert.ErrorIs(t, c.Ping(ctx), ErrNotConfigured)
	assert.ErrorIs(t, c.InsertMessage(ctx, store.Message{ID: "x", Text: "hi"}), ErrNotConfigured)

	_, err := c.Participants(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = c.Songs(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_InsertMessagePublishes(t *testing.T) {
	c := newTestClient(t)
	sub := c.Subscribe(feed.TableMessages)
	defer sub.Close()

	require.NoError(t, c.InsertMessage(context.Background(), store.Message{ID: "01J", Text: "cheers"}))

	e := nextEvent(t, sub)
	assert.Equal(t, feed.OpInsert, e.Op)

	var m store.Message
	require.NoError(t, e.Decode(&m))
	assert.Equal(t, "01J", m.ID)
	assert.Equal(t, "cheers", m.Text)
}

func TestClient_RegisterDuplicateIsNotPublished(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	sub := c.Subscribe(feed.TableParticipants)
	defer sub.Close()

	_, err := c.RegisterParticipant(ctx, "alice", "dev-1")
	require.NoError(t, err)
	nextEvent(t, sub)

	_, err = c.RegisterParticipant(ctx, "alice", "dev-1")
	assert.ErrorIs(t, err, store.ErrDuplicate)

	select {
	case e := <-sub.C:
		t.Fatalf("duplicate registration published %+v", e)
	default:
	}
}

func TestClient_WinnersLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	sub := c.Subscribe(feed.TableWinners)
	defer sub.Close()

	_, err := c.InsertWinners(ctx, []store.Winner{
		{PrizeLevel: "Grand Prize", UserName: "alice"},
		{PrizeLevel: "First Prize", UserName: "bob"},
	})
	require.NoError(t, err)

	assert.Equal(t, feed.OpInsert, nextEvent(t, sub).Op)
	assert.Equal(t, feed.OpInsert, nextEvent(t, sub).Op)

	n, err := c.DeleteWinners(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, feed.OpDelete, nextEvent(t, sub).Op)
}

func TestClient_SongChanges(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	sub := c.Subscribe(feed.TableSongs)
	defer sub.Close()

	s, err := c.SaveSong(ctx, store.Song{Title: "Countdown", AudioURL: "https://example.com/c.mp3"})
	require.NoError(t, err)
	assert.Equal(t, feed.OpInsert, nextEvent(t, sub).Op)

	s.Title = "Countdown (live)"
	_, err = c.SaveSong(ctx, *s)
	require.NoError(t, err)
	assert.Equal(t, feed.OpUpdate, nextEvent(t, sub).Op)

	require.NoError(t, c.DeleteSong(ctx, s.ID))
	assert.Equal(t, feed.OpDelete, nextEvent(t, sub).Op)

	assert.ErrorIs(t, c.DeleteSong(ctx, s.ID), store.ErrNotFound)
}
