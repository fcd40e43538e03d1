/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Seednode/newyear/internal/backend"
	"github.com/Seednode/newyear/internal/barrage"
	"github.com/Seednode/newyear/internal/content"
	"github.com/Seednode/newyear/internal/feed"
	"github.com/Seednode/newyear/internal/lottery"
	"github.com/Seednode/newyear/internal/metrics"
	"github.com/Seednode/newyear/internal/store"
)

const (
	maxWishLength = 40
	anonymous     = "Anonymous"
)

var (
	errEmptyWish   = errors.New("wish is empty")
	errWishTooLong = fmt.Errorf("wish is longer than %d characters", maxWishLength)
	errTooSoon     = errors.New("please wait a moment before sending another wish")
	errWallStopped = errors.New("wishing wall is not running")
)

// party holds everything the page is served from.
type party struct {
	cfg     *Config
	log     zerolog.Logger
	content *content.Content
	backend *backend.Client
	wall    *barrage.Wall
	lottery *lottery.Service
	hub     *Hub
	limiter *cooldowns

	snapshots chan *Client

	mu      sync.Mutex
	closing bool
	writes  sync.WaitGroup
}

func newParty(ctx context.Context, cfg *Config, log zerolog.Logger) (*party, error) {
	c, err := content.Load(cfg.contentFile)
	if err != nil {
		return nil, err
	}

	deadline, err := cfg.deadlineTime()
	if err != nil {
		return nil, err
	}

	var ds store.DataStore
	if cfg.database != "" {
		ds, err = store.Open(ctx, cfg.database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		log.Info().Msg("connected to database")
	} else {
		log.Warn().Msg("no database configured, running with static content only")
	}

	var fb feed.Broker = feed.NewLocalBroker()
	if cfg.redis != "" {
		rb, err := feed.NewRedisBroker(ctx, cfg.redis, cfg.redisPrefix, log.With().Str("component", "feed").Logger())
		if err != nil {
			if ds != nil {
				ds.Close()
			}
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		fb = rb
		log.Info().Msg("connected to Redis")
	}

	seeds := make([]barrage.Message, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		seeds = append(seeds, barrage.Message{ID: s.ID, Text: s.Text})
	}

	be := backend.New(ds, fb, log.With().Str("component", "backend").Logger())

	return &party{
		cfg:     cfg,
		log:     log,
		content: c,
		backend: be,
		wall:    barrage.NewWall(cfg.barrage, seeds, barrage.WithLogger(log.With().Str("component", "wall").Logger())),
		lottery: lottery.New(be, c.Prizes, deadline, lottery.WithLogger(log.With().Str("component", "lottery").Logger())),
		hub:     newHub(log.With().Str("component", "hub").Logger()),
		limiter: newCooldowns(cfg.messageCooldown),

		snapshots: make(chan *Client),
	}, nil
}

// run starts the wall, the hub and their feeds. Everything stops when ctx
// is cancelled.
func (p *party) run(ctx context.Context) {
	go p.wall.Run(ctx)
	go p.hub.run(ctx)
	go p.forwardWall(ctx)
	go p.forwardFeed(ctx)
	go p.loadHistory(ctx)
}

// close waits for pending writes, then releases the backend. Wishes
// accepted afterwards are shown but not stored.
func (p *party) close() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true
	p.mu.Unlock()

	p.writes.Wait()
	p.backend.Close()
}

// beginWrite registers a background store write, unless close has begun.
func (p *party) beginWrite() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing {
		return false
	}
	p.writes.Add(1)

	return true
}

func (p *party) loadHistory(ctx context.Context) {
	if !p.backend.Configured() || p.cfg.historySize == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stored, err := p.backend.RecentMessages(ctx, p.cfg.historySize)
	if err != nil {
		p.log.Warn().Err(err).Msg("could not load message history")
		return
	}

	history := make([]barrage.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, barrage.Message{ID: m.ID, Text: m.Text})
	}

	p.wall.LoadHistory(ctx, history)
	p.log.Info().Int("messages", len(history)).Msg("message history loaded")
}

// forwardWall relays bubble events to every page, and answers snapshot
// requests in line with them so a new page never misses a change.
func (p *party) forwardWall(ctx context.Context) {
	events, cancel := p.wall.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			p.hub.publish(e)
		case c := <-p.snapshots:
			p.hub.reply(c, wallSnapshot{
				Type:    "snapshot",
				Now:     time.Now().UnixMilli(),
				Bubbles: p.wall.Snapshot(),
			})
		}
	}
}

// sendSnapshot queues the active bubbles for c, which must already be
// registered with the hub.
func (p *party) sendSnapshot(c *Client) {
	select {
	case p.snapshots <- c:
	case <-p.wall.Done():
	}
}

type participantJoined struct {
	Type     string `json:"type"` // "participant_joined"
	UserName string `json:"user_name"`
}

type winnerDrawn struct {
	Type       string `json:"type"` // "winner"
	PrizeLevel string `json:"prize_level"`
	UserName   string `json:"user_name"`
}

type playlistChanged struct {
	Type  string       `json:"type"` // "playlist"
	Songs []store.Song `json:"songs"`
}

type wallSnapshot struct {
	Type    string           `json:"type"` // "snapshot"
	Now     int64            `json:"now"`  // unix milliseconds
	Bubbles []barrage.Bubble `json:"bubbles"`
}

type wishAccepted struct {
	Type string `json:"type"` // "wish_accepted"
	ID   string `json:"id"`
}

// forwardFeed applies stored changes: new messages join the wall, and
// lottery and playlist changes go out to every page.
func (p *party) forwardFeed(ctx context.Context) {
	sub := p.backend.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			p.applyChange(ctx, e)
		}
	}
}

func (p *party) applyChange(ctx context.Context, e feed.Event) {
	switch {
	case e.Table == feed.TableMessages && e.Op == feed.OpInsert:
		var m store.Message
		if err := e.Decode(&m); err != nil {
			p.log.Warn().Err(err).Msg("undecodable message")
			return
		}
		p.wall.Ingest(barrage.Message{ID: m.ID, Text: m.Text})

	case e.Table == feed.TableParticipants && e.Op == feed.OpInsert:
		var pt store.Participant
		if err := e.Decode(&pt); err != nil {
			p.log.Warn().Err(err).Msg("undecodable participant")
			return
		}
		p.hub.publish(participantJoined{Type: "participant_joined", UserName: pt.UserName})

	case e.Table == feed.TableWinners && e.Op == feed.OpInsert:
		var w store.Winner
		if err := e.Decode(&w); err != nil {
			p.log.Warn().Err(err).Msg("undecodable winner")
			return
		}
		p.hub.publish(winnerDrawn{Type: "winner", PrizeLevel: w.PrizeLevel, UserName: w.UserName})

	case e.Table == feed.TableWinners && e.Op == feed.OpDelete:
		p.hub.publish(SimpleMessage{Type: "winners_cleared"})

	case e.Table == feed.TableSongs:
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		p.hub.publish(playlistChanged{Type: "playlist", Songs: p.playlist(ctx)})
	}
}

// postWish validates text, shows it on the wall right away and stores it
// in the background.
func (p *party) postWish(deviceID, userName, text string) (barrage.Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return barrage.Message{}, errEmptyWish
	case utf8.RuneCountInString(text) > maxWishLength:
		return barrage.Message{}, errWishTooLong
	case !p.limiter.allow(deviceID):
		return barrage.Message{}, errTooSoon
	}

	userName = strings.TrimSpace(userName)
	if userName == "" {
		userName = anonymous
	}

	m := barrage.Message{ID: ulid.Make().String(), Text: text}

	if !p.wall.Ingest(m) {
		return barrage.Message{}, errWallStopped
	}

	if !p.backend.Configured() {
		metrics.MessagesPosted.WithLabelValues("offline").Inc()
		return m, nil
	}

	if !p.beginWrite() {
		metrics.MessagesPosted.WithLabelValues("failed").Inc()
		p.log.Warn().Str("id", m.ID).Msg("shutting down, wish not stored")
		return m, nil
	}

	go func() {
		defer p.writes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := p.backend.InsertMessage(ctx, store.Message{
			ID:        m.ID,
			Text:      m.Text,
			UserName:  userName,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			metrics.MessagesPosted.WithLabelValues("failed").Inc()
			p.log.Warn().Err(err).Str("id", m.ID).Msg("wish not stored")
			return
		}

		metrics.MessagesPosted.WithLabelValues("stored").Inc()
	}()

	return m, nil
}

// handleClientMessage answers a websocket message from c.
func (p *party) handleClientMessage(c *Client, msg ClientMessage) any {
	switch msg.Type {
	case "wish":
		m, err := p.postWish(c.deviceID, msg.UserName, msg.Text)
		if err != nil {
			return SimpleMessage{Type: "error", Message: err.Error()}
		}
		return wishAccepted{Type: "wish_accepted", ID: m.ID}
	default:
		return nil
	}
}

// playlist returns the stored songs, or the built-in playlist when there
// are none or the store cannot be reached.
func (p *party) playlist(ctx context.Context) []store.Song {
	songs, err := p.backend.Songs(ctx)
	if err != nil && !errors.Is(err, backend.ErrNotConfigured) {
		p.log.Warn().Err(err).Msg("could not load playlist")
	}
	if len(songs) > 0 {
		return songs
	}

	offline := make([]store.Song, 0, len(p.content.Playlist))
	for _, t := range p.content.Playlist {
		offline = append(offline, store.Song{ID: t.ID, Title: t.Title, Artist: t.Artist, AudioURL: t.AudioURL})
	}

	return offline
}

// cooldowns tracks the last wish from each device.
type cooldowns struct {
	mu     sync.Mutex
	wait   time.Duration
	last   map[string]time.Time
	pruned time.Time
	now    func() time.Time
}

func newCooldowns(wait time.Duration) *cooldowns {
	return &cooldowns{
		wait: wait,
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// allow reports whether id may send now, and if so starts its cooldown.
func (c *cooldowns) allow(id string) bool {
	if c.wait <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if now.Sub(c.pruned) > time.Minute {
		for k, t := range c.last {
			if now.Sub(t) >= c.wait {
				delete(c.last, k)
			}
		}
		c.pruned = now
	}

	if t, ok := c.last[id]; ok && now.Sub(t) < c.wait {
		return false
	}

	c.last[id] = now

	return true
}
