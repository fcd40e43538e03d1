/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package feed

import (
	"context"
	"sync"

	"github.com/Seednode/newyear/internal/metrics"
)

const subscriptionBuffer = 64

// LocalBroker fans events out to subscribers in the same process.
// Subscribers that fall behind miss events rather than block publishers.
type LocalBroker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{
		subs: make(map[*Subscription]struct{}),
	}
}

func (b *LocalBroker) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	metrics.FeedEvents.WithLabelValues(e.Table, string(e.Op)).Inc()

	for s := range b.subs {
		if !s.wants(e.Table) {
			continue
		}

		select {
		case s.ch <- e:
		default:
		}
	}

	return nil
}

func (b *LocalBroker) Subscribe(tables ...string) *Subscription {
	s := newSubscription(tables, subscriptionBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(s.ch)
		return s
	}

	b.subs[s] = struct{}{}
	s.stop = func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
	}

	return s
}

// Close ends every subscription.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for s := range b.subs {
		close(s.ch)
	}
	clear(b.subs)

	return nil
}
