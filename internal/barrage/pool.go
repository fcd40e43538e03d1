/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package barrage

import (
	"math/rand/v2"
	"slices"
)

// Pool is the set of messages eligible for display, deduplicated by ID.
// Seed messages are kept forever; other messages are capped at size,
// newest first.
type Pool struct {
	size     int
	external []Message
	seeds    []Message
}

func NewPool(size int, seeds []Message) *Pool {
	p := &Pool{size: size}

	for _, m := range seeds {
		if m.ID == "" || p.Contains(m.ID) {
			continue
		}
		p.seeds = append(p.seeds, m)
	}

	return p
}

// Add prepends m. It reports false when m has no ID or is already pooled.
func (p *Pool) Add(m Message) bool {
	if m.ID == "" || p.Contains(m.ID) {
		return false
	}

	p.external = slices.Insert(p.external, 0, m)
	if len(p.external) > p.size {
		p.external = p.external[:p.size]
	}

	return true
}

// Load appends history, which must be ordered newest first.
func (p *Pool) Load(history []Message) {
	for _, m := range history {
		if len(p.external) >= p.size {
			return
		}
		if m.ID == "" || p.Contains(m.ID) {
			continue
		}
		p.external = append(p.external, m)
	}
}

func (p *Pool) Contains(id string) bool {
	has := func(m Message) bool { return m.ID == id }

	return slices.ContainsFunc(p.external, has) || slices.ContainsFunc(p.seeds, has)
}

// Messages returns the pool, newest external messages first, seeds last.
func (p *Pool) Messages() []Message {
	out := make([]Message, 0, len(p.external)+len(p.seeds))
	out = append(out, p.external...)

	return append(out, p.seeds...)
}

func (p *Pool) Len() int {
	return len(p.external) + len(p.seeds)
}

// Pick returns a uniformly random message for which skip reports false.
func (p *Pool) Pick(rng *rand.Rand, skip func(id string) bool) (Message, bool) {
	candidates := make([]Message, 0, p.Len())

	for _, m := range p.Messages() {
		if !skip(m.ID) {
			candidates = append(candidates, m)
		}
	}

	if len(candidates) == 0 {
		return Message{}, false
	}

	return candidates[rng.IntN(len(candidates))], true
}
