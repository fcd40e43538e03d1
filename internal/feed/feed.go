/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package feed carries change notifications for the stored collections.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
)

// ErrClosed is returned when publishing to a closed broker.
var ErrClosed = errors.New("feed closed")

// Tables that publish changes.
const (
	TableMessages     = "messages"
	TableParticipants = "participants"
	TableWinners      = "winners"
	TableSongs        = "songs"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event describes one change to a table. Record holds the new row for
// inserts and updates, and the old row (or nothing) for deletes.
type Event struct {
	Table  string          `json:"table"`
	Op     Op              `json:"op"`
	Record json.RawMessage `json:"record,omitempty"`
}

// NewEvent marshals record into an Event.
func NewEvent(table string, op Op, record any) (Event, error) {
	e := Event{Table: table, Op: op}
	if record == nil {
		return e, nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return Event{}, err
	}
	e.Record = data

	return e, nil
}

// Decode unmarshals the event's record into v.
func (e Event) Decode(v any) error {
	if len(e.Record) == 0 {
		return errors.New("event has no record")
	}

	return json.Unmarshal(e.Record, v)
}

// Broker publishes events and fans them out to subscribers.
type Broker interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(tables ...string) *Subscription
	Close() error
}

// Subscription delivers events for a set of tables on C until closed.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	tables []string
	once   sync.Once
	stop   func()
}

func newSubscription(tables []string, size int) *Subscription {
	ch := make(chan Event, size)

	return &Subscription{
		C:      ch,
		ch:     ch,
		tables: tables,
	}
}

// wants reports whether the subscription listens to table. No tables
// means every table.
func (s *Subscription) wants(table string) bool {
	return len(s.tables) == 0 || slices.Contains(s.tables, table)
}

// Close ends the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
