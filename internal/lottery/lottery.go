/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package lottery runs the new year's sign-up and prize draw.
package lottery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Seednode/newyear/internal/backend"
	"github.com/Seednode/newyear/internal/content"
	"github.com/Seednode/newyear/internal/metrics"
	"github.com/Seednode/newyear/internal/store"
)

const MaxNameLength = 40

var (
	ErrEmptyName    = errors.New("name is empty")
	ErrNameTooLong  = fmt.Errorf("name is longer than %d characters", MaxNameLength)
	ErrClosed       = errors.New("sign-up is closed")
	ErrNameTaken    = errors.New("name is registered to another device")
	ErrNoEntrants   = errors.New("nobody has signed up")
	ErrAlreadyDrawn = errors.New("winners have already been drawn")
)

// Backend is the subset of the data service the lottery needs.
type Backend interface {
	Participants(ctx context.Context) ([]store.Participant, error)
	ParticipantByDevice(ctx context.Context, deviceID string) (*store.Participant, error)
	RegisterParticipant(ctx context.Context, userName, deviceID string) (*store.Participant, error)
	Winners(ctx context.Context) ([]store.Winner, error)
	HasWinners(ctx context.Context) (bool, error)
	InsertWinners(ctx context.Context, winners []store.Winner) ([]store.Winner, error)
	DeleteWinners(ctx context.Context) (int64, error)
}

type Countdown struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Zero reports whether the countdown has run out.
func (c Countdown) Zero() bool {
	return c == Countdown{}
}

func countdown(remaining time.Duration) Countdown {
	if remaining <= 0 {
		return Countdown{}
	}

	s := int(remaining / time.Second)

	return Countdown{
		Days:    s / 86400,
		Hours:   s / 3600 % 24,
		Minutes: s / 60 % 60,
		Seconds: s % 60,
	}
}

// State is the lottery as seen from one device.
type State struct {
	Participants []string          `json:"participants"`
	Winners      map[string]string `json:"winners"`
	Drawn        bool              `json:"drawn"`
	Registered   string            `json:"registered,omitempty"`
	Closed       bool              `json:"closed"`
	Countdown    Countdown         `json:"countdown"`
}

// Registration is the outcome of a successful sign-up. Already is set when
// the device had signed up before.
type Registration struct {
	UserName string `json:"user_name"`
	Already  bool   `json:"already"`
}

type Service struct {
	backend  Backend
	prizes   []content.Prize
	deadline time.Time
	now      func() time.Time
	log      zerolog.Logger

	// draw serializes Draw and Reset.
	draw sync.Mutex

	mu     sync.Mutex
	rng    *rand.Rand
	forced bool
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(s *Service) {
		s.rng = rng
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// New returns a lottery drawing prizes in order, with sign-up open until
// deadline.
func New(b Backend, prizes []content.Prize, deadline time.Time, opts ...Option) *Service {
	s := &Service{
		backend:  b,
		prizes:   prizes,
		deadline: deadline,
		now:      time.Now,
		log:      zerolog.Nop(),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) Prizes() []content.Prize {
	return s.prizes
}

// Countdown returns the time left until the deadline, zeroed once it has
// passed or a draw has forced it.
func (s *Service) Countdown() Countdown {
	s.mu.Lock()
	forced := s.forced
	s.mu.Unlock()

	if forced {
		return Countdown{}
	}

	return countdown(s.deadline.Sub(s.now()))
}

// Closed reports whether sign-up has ended.
func (s *Service) Closed() bool {
	return s.Countdown().Zero()
}

// State gathers the lottery for deviceID. Without a database the state
// carries only the countdown. Other backend failures are returned along
// with whatever could be read.
func (s *Service) State(ctx context.Context, deviceID string) (State, error) {
	st := State{
		Participants: []string{},
		Winners:      map[string]string{},
		Countdown:    s.Countdown(),
	}
	st.Closed = st.Countdown.Zero()

	var errs []error

	participants, err := s.backend.Participants(ctx)
	if errors.Is(err, backend.ErrNotConfigured) {
		return st, nil
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("list participants: %w", err))
	}
	for _, p := range participants {
		st.Participants = append(st.Participants, p.UserName)
	}

	if deviceID != "" {
		p, err := s.backend.ParticipantByDevice(ctx, deviceID)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("look up device: %w", err))
		case p != nil:
			st.Registered = p.UserName
		}
	}

	winners, err := s.backend.Winners(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list winners: %w", err))
	}
	for _, w := range winners {
		st.Winners[w.PrizeLevel] = w.UserName
	}
	st.Drawn = len(winners) > 0

	return st, errors.Join(errs...)
}

// Register signs name up for deviceID. A device signs up once; asking again
// returns its existing name.
func (s *Service) Register(ctx context.Context, name, deviceID string) (reg Registration, err error) {
	defer func() {
		result := "registered"
		switch {
		case errors.Is(err, ErrNameTaken):
			result = "taken"
		case err != nil:
			result = "rejected"
		case reg.Already:
			result = "already"
		}
		metrics.Registrations.WithLabelValues(result).Inc()
	}()

	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return Registration{}, ErrEmptyName
	case utf8.RuneCountInString(name) > MaxNameLength:
		return Registration{}, ErrNameTooLong
	}

	existing, err := s.backend.ParticipantByDevice(ctx, deviceID)
	if err != nil {
		return Registration{}, err
	}
	if existing != nil {
		return Registration{UserName: existing.UserName, Already: true}, nil
	}

	if s.Closed() {
		return Registration{}, ErrClosed
	}

	p, err := s.backend.RegisterParticipant(ctx, name, deviceID)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with this device, or someone else holds the name.
		existing, lookupErr := s.backend.ParticipantByDevice(ctx, deviceID)
		if lookupErr != nil {
			return Registration{}, lookupErr
		}
		if existing != nil {
			return Registration{UserName: existing.UserName, Already: true}, nil
		}
		return Registration{}, ErrNameTaken
	}
	if err != nil {
		return Registration{}, err
	}

	s.log.Info().Str("user", p.UserName).Msg("participant registered")

	return Registration{UserName: p.UserName}, nil
}

// Draw ends sign-up and assigns each prize, in order, to a distinct random
// participant while participants remain.
func (s *Service) Draw(ctx context.Context) ([]store.Winner, error) {
	s.draw.Lock()
	defer s.draw.Unlock()

	s.mu.Lock()
	s.forced = true
	s.mu.Unlock()

	participants, err := s.backend.Participants(ctx)
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, ErrNoEntrants
	}

	drawn, err := s.backend.HasWinners(ctx)
	if err != nil {
		return nil, err
	}
	if drawn {
		return nil, ErrAlreadyDrawn
	}

	names := make([]string, len(participants))
	for i, p := range participants {
		names[i] = p.UserName
	}

	s.mu.Lock()
	s.rng.Shuffle(len(names), func(i, j int) {
		names[i], names[j] = names[j], names[i]
	})
	s.mu.Unlock()

	winners := make([]store.Winner, 0, len(s.prizes))
	for i, prize := range s.prizes {
		if i >= len(names) {
			break
		}
		winners = append(winners, store.Winner{PrizeLevel: prize.Level, UserName: names[i]})
	}

	inserted, err := s.backend.InsertWinners(ctx, winners)
	if errors.Is(err, store.ErrDuplicate) {
		// Another instance sharing the database drew first.
		return nil, ErrAlreadyDrawn
	}
	if err != nil {
		return nil, err
	}

	metrics.Draws.Inc()
	s.log.Info().Int("participants", len(names)).Int("winners", len(inserted)).Msg("lottery drawn")

	return inserted, nil
}

// Reset clears the winners and lets the countdown run again.
func (s *Service) Reset(ctx context.Context) error {
	s.draw.Lock()
	defer s.draw.Unlock()

	s.mu.Lock()
	s.forced = false
	s.mu.Unlock()

	n, err := s.backend.DeleteWinners(ctx)
	if err != nil {
		return err
	}

	s.log.Info().Int64("removed", n).Msg("lottery reset")

	return nil
}
