/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package barrage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastParams() Params {
	p := DefaultParams()
	p.MinDuration = 150 * time.Millisecond
	p.MaxDuration = 200 * time.Millisecond
	p.MinCooldown = 20 * time.Millisecond
	p.MaxCooldown = 30 * time.Millisecond
	p.MinInterval = time.Hour
	p.MaxInterval = time.Hour
	return p
}

func startWall(t *testing.T, p Params, seeds []Message) (*Wall, context.CancelFunc) {
	t.Helper()

	w := NewWall(p, seeds, WithRand(testRand(1)))
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(cancel)

	return w, cancel
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case e, ok := <-events:
		require.True(t, ok, "event channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wall event")
		return Event{}
	}
}

func TestWall_IngestSpawnsImmediately(t *testing.T) {
	w, _ := startWall(t, fastParams(), seedMessages())
	events, unsubscribe := w.Subscribe()
	defer unsubscribe()

	require.True(t, w.Ingest(Message{ID: "live-1", Text: "happy new year"}))

	e := nextEvent(t, events)
	assert.Equal(t, EventSpawned, e.Type)
	assert.Equal(t, "live-1", e.Bubble.ID)
	assert.Equal(t, "live-1", w.Pool()[0].ID)
}

func TestWall_ExpiresAndKeepsMessagePooled(t *testing.T) {
	w, _ := startWall(t, fastParams(), nil)
	events, unsubscribe := w.Subscribe()
	defer unsubscribe()

	require.True(t, w.Ingest(Message{ID: "m", Text: "short lived"}))

	spawned := nextEvent(t, events)
	require.Equal(t, EventSpawned, spawned.Type)
	assert.Len(t, w.Snapshot(), 1)

	expired := nextEvent(t, events)
	assert.Equal(t, EventExpired, expired.Type)
	assert.Equal(t, spawned.Bubble, expired.Bubble)
	assert.Empty(t, w.Snapshot())
	assert.Equal(t, []string{"m"}, ids(w.Pool()))
}

func TestWall_DuplicateIngestDoesNotDuplicatePool(t *testing.T) {
	w, _ := startWall(t, fastParams(), seedMessages())

	m := Message{ID: "echo", Text: "same id"}
	require.True(t, w.Ingest(m))
	require.True(t, w.Ingest(m))

	count := 0
	for _, p := range w.Pool() {
		if p.ID == "echo" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, w.Snapshot(), 1)
}

func TestWall_RejectsEmptyText(t *testing.T) {
	w, _ := startWall(t, fastParams(), []Message{{ID: "blank"}})

	assert.False(t, w.Ingest(Message{ID: "x"}))
	assert.Empty(t, w.Pool())
}

func TestWall_SelectionLoopShowsSeeds(t *testing.T) {
	p := fastParams()
	p.MinInterval = 5 * time.Millisecond
	p.MaxInterval = 10 * time.Millisecond
	p.MinDuration = time.Minute
	p.MaxDuration = time.Minute

	w, _ := startWall(t, p, seedMessages())
	events, unsubscribe := w.Subscribe()
	defer unsubscribe()

	seen := map[string]bool{}
	for len(seen) < 3 {
		e := nextEvent(t, events)
		require.Equal(t, EventSpawned, e.Type)
		require.False(t, seen[e.Bubble.ID], "%s spawned twice while active", e.Bubble.ID)
		seen[e.Bubble.ID] = true
	}

	assert.Len(t, w.Snapshot(), 3)
}

func TestWall_LoadHistory(t *testing.T) {
	w, _ := startWall(t, fastParams(), seedMessages())

	w.LoadHistory(context.Background(), []Message{
		{ID: "h2", Text: "newer"},
		{ID: "empty"},
		{ID: "h1", Text: "older"},
	})

	assert.Equal(t, []string{"h2", "h1", "sys-1", "sys-2", "sys-3"}, ids(w.Pool()))
}

func TestWall_StopTearsDown(t *testing.T) {
	w, cancel := startWall(t, fastParams(), seedMessages())
	events, _ := w.Subscribe()

	require.True(t, w.Ingest(Message{ID: "a", Text: "before stop"}))
	nextEvent(t, events)

	cancel()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("wall did not stop")
	}

	assert.False(t, w.Ingest(Message{ID: "b", Text: "after stop"}))
	assert.Empty(t, w.Snapshot())

	for range events {
	}

	late, unsubscribe := w.Subscribe()
	unsubscribe()
	_, ok := <-late
	assert.False(t, ok)
}

func zoneBusy(t *testing.T, w *Wall, zone int) bool {
	t.Helper()

	var busy bool
	require.True(t, w.inspect(func(e *Engine) { busy = e.Busy(zone) }))

	return busy
}

func TestWall_ZoneFreedOnlyAfterCooldown(t *testing.T) {
	p := fastParams()
	p.MinCooldown = 300 * time.Millisecond
	p.MaxCooldown = 300 * time.Millisecond

	w, _ := startWall(t, p, nil)
	events, unsubscribe := w.Subscribe()
	defer unsubscribe()

	require.True(t, w.Ingest(Message{ID: "m", Text: "cooling down"}))

	spawned := nextEvent(t, events)
	require.Equal(t, EventSpawned, spawned.Type)
	zone := spawned.Bubble.Zone
	assert.True(t, zoneBusy(t, w, zone))

	expired := nextEvent(t, events)
	require.Equal(t, EventExpired, expired.Type)
	assert.Empty(t, w.Snapshot())

	assert.True(t, zoneBusy(t, w, zone), "zone freed before the cooldown elapsed")
	for _, n := range Neighborhood(zone) {
		assert.True(t, zoneBusy(t, w, n))
	}

	assert.Eventually(t, func() bool {
		busy := true
		w.inspect(func(e *Engine) { busy = e.Busy(zone) })
		return !busy
	}, 2*time.Second, 10*time.Millisecond)

	for _, n := range Neighborhood(zone) {
		assert.False(t, zoneBusy(t, w, n))
	}
}

func TestWall_SpawnRearmsSelectionLoop(t *testing.T) {
	const interval = 300 * time.Millisecond

	p := fastParams()
	p.MinInterval = interval
	p.MaxInterval = interval
	p.MinDuration = time.Minute
	p.MaxDuration = time.Minute

	w, _ := startWall(t, p, seedMessages())
	events, unsubscribe := w.Subscribe()
	defer unsubscribe()

	// Without a re-arm the first tick would land 100ms after this wish.
	time.Sleep(200 * time.Millisecond)

	require.True(t, w.Ingest(Message{ID: "live", Text: "resets the loop"}))
	spawned := time.Now()

	e := nextEvent(t, events)
	require.Equal(t, "live", e.Bubble.ID)

	e = nextEvent(t, events)
	require.Equal(t, EventSpawned, e.Type)
	assert.NotEqual(t, "live", e.Bubble.ID)
	assert.GreaterOrEqual(t, time.Since(spawned), interval-50*time.Millisecond)
}

func TestWall_InspectAfterStop(t *testing.T) {
	w, cancel := startWall(t, fastParams(), nil)
	cancel()
	<-w.Done()

	assert.False(t, w.inspect(func(*Engine) {}))
}
