/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package barrage

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"time"
)

// Reasons a spawn attempt is declined. None of them are failures.
var (
	ErrEmptyText     = errors.New("message has no text")
	ErrAlreadyActive = errors.New("message is already on screen")
	ErrAtCapacity    = errors.New("too many bubbles on screen")
	ErrNoZone        = errors.New("no free zone without conflicts")
	ErrEmptyPool     = errors.New("no candidate messages")
)

// Message is a candidate for display.
type Message struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Size is the display size class of a bubble.
type Size string

const (
	SizeSmall  Size = "sm"
	SizeMedium Size = "md"
	SizeLarge  Size = "lg"
)

// Style is one entry of the bubble palette.
type Style struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Border string `json:"border"`
	Text   string `json:"text"`
}

// Palette lists the bubble styles a spawn picks from.
var Palette = []Style{
	{From: "#2563eb", To: "#1e40af", Border: "#60a5fa", Text: "#ffffff"},
	{From: "#9333ea", To: "#6b21a8", Border: "#c084fc", Text: "#ffffff"},
	{From: "#4f46e5", To: "#3730a3", Border: "#818cf8", Text: "#ffffff"},
	{From: "#facc15", To: "#f59e0b", Border: "#fef08a", Text: "#451a03"},
	{From: "#fb923c", To: "#ef4444", Border: "#fed7aa", Text: "#431407"},
	{From: "#a3e635", To: "#22c55e", Border: "#d9f99d", Text: "#052e16"},
	{From: "#ec4899", To: "#e11d48", Border: "#f9a8d4", Text: "#ffffff"},
	{From: "#c026d3", To: "#7e22ce", Border: "#e879f9", Text: "#ffffff"},
	{From: "#06b6d4", To: "#0d9488", Border: "#67e8f9", Text: "#ffffff"},
	{From: "#10b981", To: "#0f766e", Border: "#6ee7b7", Text: "#ffffff"},
	{From: "#7c3aed", To: "#86198f", Border: "#a78bfa", Text: "#ffffff"},
}

// Bubble is a message currently placed on screen.
type Bubble struct {
	ID         string        `json:"id"`
	Text       string        `json:"text"`
	Zone       int           `json:"zone"`
	Top        float64       `json:"top"`
	Left       float64       `json:"left"`
	Style      Style         `json:"style"`
	Size       Size          `json:"size"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	ExpiresAt  int64         `json:"expires_at"` // unix milliseconds
	DriftDelay float64       `json:"drift_delay"`
	DriftSpeed float64       `json:"drift_speed"`
	Rotate     float64       `json:"rotate"`
	ZIndex     int           `json:"z_index"`
}

// Engine places bubbles on the grid. It is not safe for concurrent use;
// a Wall owns one and drives it from a single goroutine.
type Engine struct {
	params Params
	rng    *rand.Rand
	busy   [Rows * Cols]int
	active []Bubble
	now    func() time.Time
}

func NewEngine(params Params, rng *rand.Rand) *Engine {
	return &Engine{
		params: params,
		rng:    rng,
		active: make([]Bubble, 0, params.MaxBubbles),
		now:    time.Now,
	}
}

// AttemptSpawn places msg on a free, non-conflicting zone and marks the
// zone's neighborhood busy. A non-nil error means the spawn was declined
// and nothing changed.
func (e *Engine) AttemptSpawn(msg Message) (Bubble, error) {
	if msg.Text == "" {
		return Bubble{}, ErrEmptyText
	}
	if e.IsActive(msg.ID) {
		return Bubble{}, ErrAlreadyActive
	}
	if len(e.active) >= e.params.MaxBubbles {
		return Bubble{}, ErrAtCapacity
	}

	free := make([]int, 0, len(zones))
	for i := range zones {
		if e.busy[i] == 0 {
			free = append(free, i)
		}
	}
	e.rng.Shuffle(len(free), func(i, j int) {
		free[i], free[j] = free[j], free[i]
	})

	for _, idx := range free {
		z := zones[idx]
		left, top := clampPosition(
			z.Left+(e.rng.Float64()-0.5)*e.params.Jitter,
			z.Top+(e.rng.Float64()-0.5)*e.params.Jitter,
		)

		if e.conflicts(left, top) {
			continue
		}

		e.mark(idx, 1)

		b := e.newBubble(msg, idx, left, top)
		e.active = append(e.active, b)

		return b, nil
	}

	return Bubble{}, ErrNoZone
}

func (e *Engine) conflicts(left, top float64) bool {
	for _, b := range e.active {
		dx := left - b.Left
		dy := (top - b.Top) * e.params.VerticalWeight

		if math.Hypot(dx, dy) < e.params.ConflictDistance {
			return true
		}
	}

	return false
}

func (e *Engine) newBubble(msg Message, idx int, left, top float64) Bubble {
	size := SizeSmall
	if e.rng.Float64() > 0.85 {
		size = SizeLarge
	} else if e.rng.Float64() > 0.5 {
		size = SizeMedium
	}

	d := between(e.rng, e.params.MinDuration, e.params.MaxDuration)

	return Bubble{
		ID:         msg.ID,
		Text:       msg.Text,
		Zone:       idx,
		Top:        top,
		Left:       left,
		Style:      Palette[e.rng.IntN(len(Palette))],
		Size:       size,
		Duration:   d,
		DurationMS: d.Milliseconds(),
		ExpiresAt:  e.now().Add(d).UnixMilli(),
		DriftDelay: e.rng.Float64() * 1.5,
		DriftSpeed: 8 + e.rng.Float64()*4,
		Rotate:     (e.rng.Float64() - 0.5) * 4,
		ZIndex:     50 + idx,
	}
}

// Expire removes the bubble for id from the active set. Its neighborhood
// stays busy until Release is called for the returned bubble's zone.
func (e *Engine) Expire(id string) (Bubble, bool) {
	i := slices.IndexFunc(e.active, func(b Bubble) bool { return b.ID == id })
	if i < 0 {
		return Bubble{}, false
	}

	b := e.active[i]
	e.active = slices.Delete(e.active, i, i+1)

	return b, true
}

// Release frees the neighborhood anchored at zone.
func (e *Engine) Release(zone int) {
	e.mark(zone, -1)
}

// busy cells are reference counted so overlapping neighborhoods free independently
func (e *Engine) mark(zone, delta int) {
	for _, n := range Neighborhood(zone) {
		e.busy[n] = max(e.busy[n]+delta, 0)
	}
}

// Busy reports whether zone is reserved by an active or cooling bubble.
func (e *Engine) Busy(zone int) bool {
	return e.busy[zone] > 0
}

func (e *Engine) IsActive(id string) bool {
	return slices.ContainsFunc(e.active, func(b Bubble) bool { return b.ID == id })
}

// Active returns a copy of the active bubbles in spawn order.
func (e *Engine) Active() []Bubble {
	return slices.Clone(e.active)
}

func (e *Engine) Len() int {
	return len(e.active)
}

func between(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}

	return lo + time.Duration(rng.Int64N(int64(hi-lo)))
}
