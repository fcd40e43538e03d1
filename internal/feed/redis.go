/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package feed

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Seednode/newyear/internal/metrics"
)

// RedisBroker publishes events over Redis pub/sub so several instances
// share one feed. Each table maps to the channel "<prefix>:<table>".
type RedisBroker struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// NewRedisBroker connects to redisURL and verifies the connection.
func NewRedisBroker(ctx context.Context, redisURL, prefix string, log zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	if prefix == "" {
		prefix = "newyear"
	}

	return &RedisBroker{
		client: client,
		prefix: prefix,
		log:    log,
		subs:   make(map[*redis.PubSub]struct{}),
	}, nil
}

func (b *RedisBroker) channel(table string) string {
	return b.prefix + ":" + table
}

func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, b.channel(e.Table), data).Err(); err != nil {
		return err
	}

	metrics.FeedEvents.WithLabelValues(e.Table, string(e.Op)).Inc()

	return nil
}

func (b *RedisBroker) Subscribe(tables ...string) *Subscription {
	s := newSubscription(tables, subscriptionBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(s.ch)
		return s
	}

	ctx := context.Background()

	var ps *redis.PubSub
	if len(tables) == 0 {
		ps = b.client.PSubscribe(ctx, b.prefix+":*")
	} else {
		channels := make([]string, 0, len(tables))
		for _, t := range tables {
			channels = append(channels, b.channel(t))
		}
		ps = b.client.Subscribe(ctx, channels...)
	}

	b.subs[ps] = struct{}{}
	s.stop = func() {
		b.mu.Lock()
		delete(b.subs, ps)
		b.mu.Unlock()

		_ = ps.Close()
	}

	go b.forward(ps, s)

	return s
}

// forward decodes messages from ps onto s until ps is closed.
func (b *RedisBroker) forward(ps *redis.PubSub, s *Subscription) {
	defer close(s.ch)

	for msg := range ps.Channel() {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("undecodable feed event")
			continue
		}

		if e.Table == "" {
			e.Table = strings.TrimPrefix(msg.Channel, b.prefix+":")
		}

		if !s.wants(e.Table) {
			continue
		}

		select {
		case s.ch <- e:
		default:
		}
	}
}

// Close ends every subscription and the Redis connection.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	subs := make([]*redis.PubSub, 0, len(b.subs))
	for ps := range b.subs {
		subs = append(subs, ps)
	}
	clear(b.subs)
	b.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}

	return b.client.Close()
}
