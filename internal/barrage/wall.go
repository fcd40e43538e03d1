/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package barrage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/Seednode/newyear/internal/metrics"
)

// EventType discriminates wall events.
type EventType string

const (
	EventSpawned EventType = "bubble_spawned"
	EventExpired EventType = "bubble_expired"
)

// Event is sent to subscribers whenever the active set changes.
type Event struct {
	Type   EventType `json:"type"`
	Bubble Bubble    `json:"bubble"`
}

type subscriber struct {
	ch chan Event
}

type timerFired struct {
	token int
	id    string
	zone  int
}

// Wall drives an Engine: it picks candidates from the pool on a randomized
// interval, spawns fresh messages immediately, and expires and releases
// bubbles on their timers. All state is owned by the Run goroutine.
type Wall struct {
	params Params
	log    zerolog.Logger
	rng    *rand.Rand

	engine *Engine
	pool   *Pool

	ingest    chan Message
	history   chan []Message
	expired   chan timerFired
	released  chan timerFired
	snapshots chan chan []Bubble
	pools     chan chan []Message
	inspects  chan func(*Engine)
	subscribe chan *subscriber
	unsub     chan *subscriber
	done      chan struct{}

	subs      map[*subscriber]struct{}
	timers    map[int]*time.Timer
	nextToken int
	loop      *time.Timer
}

// Option configures a Wall.
type Option func(*Wall)

// WithRand replaces the random source, for reproducible placement.
func WithRand(rng *rand.Rand) Option {
	return func(w *Wall) {
		w.rng = rng
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(w *Wall) {
		w.log = log
	}
}

func NewWall(params Params, seeds []Message, opts ...Option) *Wall {
	w := &Wall{
		params:    params,
		log:       zerolog.Nop(),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		ingest:    make(chan Message),
		history:   make(chan []Message),
		expired:   make(chan timerFired),
		released:  make(chan timerFired),
		snapshots: make(chan chan []Bubble),
		pools:     make(chan chan []Message),
		inspects:  make(chan func(*Engine)),
		subscribe: make(chan *subscriber),
		unsub:     make(chan *subscriber),
		done:      make(chan struct{}),
		subs:      make(map[*subscriber]struct{}),
		timers:    make(map[int]*time.Timer),
	}

	for _, opt := range opts {
		opt(w)
	}

	nonEmpty := make([]Message, 0, len(seeds))
	for _, m := range seeds {
		if m.Text != "" {
			nonEmpty = append(nonEmpty, m)
		}
	}

	w.engine = NewEngine(params, w.rng)
	w.pool = NewPool(params.PoolSize, nonEmpty)

	return w
}

// Run processes wall events until ctx is cancelled.
func (w *Wall) Run(ctx context.Context) {
	w.loop = time.NewTimer(w.interval())

	defer w.teardown()

	for {
		select {
		case <-ctx.Done():
			return

		case m := <-w.ingest:
			// The feed echo of a posted wish shares its id and is not shown twice.
			if !w.pool.Add(m) {
				continue
			}
			w.log.Debug().Str("id", m.ID).Msg("message pooled")
			w.spawn(m)

		case h := <-w.history:
			w.pool.Load(h)
			w.log.Debug().Int("pool", w.pool.Len()).Msg("history loaded")

		case <-w.loop.C:
			w.tick()
			w.loop.Reset(w.interval())

		case f := <-w.expired:
			delete(w.timers, f.token)
			w.expire(f.id)

		case f := <-w.released:
			delete(w.timers, f.token)
			w.engine.Release(f.zone)

		case reply := <-w.snapshots:
			reply <- w.engine.Active()

		case reply := <-w.pools:
			reply <- w.pool.Messages()

		case f := <-w.inspects:
			f(w.engine)

		case s := <-w.subscribe:
			w.subs[s] = struct{}{}

		case s := <-w.unsub:
			if _, ok := w.subs[s]; ok {
				delete(w.subs, s)
				close(s.ch)
			}
		}
	}
}

func (w *Wall) teardown() {
	close(w.done)

	w.loop.Stop()
	for _, t := range w.timers {
		t.Stop()
	}
	clear(w.timers)

	for s := range w.subs {
		close(s.ch)
	}
	clear(w.subs)

	metrics.ActiveBubbles.Set(0)
}

func (w *Wall) tick() {
	m, ok := w.pool.Pick(w.rng, w.engine.IsActive)
	if !ok {
		w.declined(Message{}, ErrEmptyPool)
		return
	}

	w.spawn(m)
}

func (w *Wall) spawn(m Message) {
	b, err := w.engine.AttemptSpawn(m)
	if err != nil {
		w.declined(m, err)
		return
	}

	metrics.BubblesSpawned.Inc()
	metrics.ActiveBubbles.Set(float64(w.engine.Len()))

	w.log.Debug().
		Str("id", b.ID).
		Int("zone", b.Zone).
		Dur("duration", b.Duration).
		Msg("bubble spawned")

	w.after(b.Duration, w.expired, timerFired{id: b.ID, zone: b.Zone})
	w.publish(Event{Type: EventSpawned, Bubble: b})
	w.restart()
}

func (w *Wall) expire(id string) {
	b, ok := w.engine.Expire(id)
	if !ok {
		return
	}

	metrics.ActiveBubbles.Set(float64(w.engine.Len()))

	w.after(between(w.rng, w.params.MinCooldown, w.params.MaxCooldown), w.released, timerFired{id: b.ID, zone: b.Zone})
	w.publish(Event{Type: EventExpired, Bubble: b})
	w.restart()
}

func (w *Wall) declined(m Message, err error) {
	reason := "unknown"
	switch {
	case errors.Is(err, ErrEmptyText):
		reason = "empty_text"
	case errors.Is(err, ErrAlreadyActive):
		reason = "already_active"
	case errors.Is(err, ErrAtCapacity):
		reason = "capacity"
	case errors.Is(err, ErrNoZone):
		reason = "no_zone"
	case errors.Is(err, ErrEmptyPool):
		reason = "empty_pool"
	}

	metrics.SpawnsDeclined.WithLabelValues(reason).Inc()
	w.log.Debug().Str("id", m.ID).Str("reason", reason).Msg("spawn declined")
}

// restart re-arms the selection loop with a fresh interval.
func (w *Wall) restart() {
	w.loop.Reset(w.interval())
}

func (w *Wall) interval() time.Duration {
	return between(w.rng, w.params.MinInterval, w.params.MaxInterval)
}

// after delivers f on ch once d has elapsed, unless the wall stopped first.
func (w *Wall) after(d time.Duration, ch chan<- timerFired, f timerFired) {
	w.nextToken++
	f.token = w.nextToken

	w.timers[f.token] = time.AfterFunc(d, func() {
		select {
		case ch <- f:
		case <-w.done:
		}
	})
}

func (w *Wall) publish(e Event) {
	for s := range w.subs {
		select {
		case s.ch <- e:
		default:
			w.log.Warn().Str("event", string(e.Type)).Msg("subscriber too slow, event dropped")
		}
	}
}

// Ingest pools m and attempts to show it right away. Messages already in
// the pool are ignored. It reports false if m has no text or the wall has
// stopped.
func (w *Wall) Ingest(m Message) bool {
	if m.Text == "" {
		return false
	}

	select {
	case w.ingest <- m:
		return true
	case <-w.done:
		return false
	}
}

// LoadHistory appends stored messages, newest first, behind anything
// already pooled.
func (w *Wall) LoadHistory(ctx context.Context, history []Message) {
	filtered := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Text != "" {
			filtered = append(filtered, m)
		}
	}

	select {
	case w.history <- filtered:
	case <-w.done:
	case <-ctx.Done():
	}
}

// Snapshot returns the bubbles currently on screen.
func (w *Wall) Snapshot() []Bubble {
	reply := make(chan []Bubble, 1)

	select {
	case w.snapshots <- reply:
		return <-reply
	case <-w.done:
		return []Bubble{}
	}
}

// Pool returns the candidate messages.
func (w *Wall) Pool() []Message {
	reply := make(chan []Message, 1)

	select {
	case w.pools <- reply:
		return <-reply
	case <-w.done:
		return []Message{}
	}
}

// inspect runs f on the actor goroutine and waits for it to return. It
// reports false if the wall has stopped.
func (w *Wall) inspect(f func(*Engine)) bool {
	done := make(chan struct{})

	select {
	case w.inspects <- func(e *Engine) {
		f(e)
		close(done)
	}:
		<-done
		return true
	case <-w.done:
		return false
	}
}

// Subscribe returns a channel of wall events and a function that ends the
// subscription. The channel is closed when either happens or the wall stops.
func (w *Wall) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 32)}

	select {
	case w.subscribe <- s:
	case <-w.done:
		close(s.ch)
		return s.ch, func() {}
	}

	return s.ch, func() {
		select {
		case w.unsub <- s:
		case <-w.done:
		}
	}
}

// Done is closed once Run has returned.
func (w *Wall) Done() <-chan struct{} {
	return w.done
}
