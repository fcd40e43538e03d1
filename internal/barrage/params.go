/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package barrage

import (
	"errors"
	"fmt"
	"time"
)

// Params holds the tuning constants for placement and timing.
type Params struct {
	MaxBubbles       int
	ConflictDistance float64
	VerticalWeight   float64
	Jitter           float64

	MinDuration time.Duration
	MaxDuration time.Duration
	MinCooldown time.Duration
	MaxCooldown time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration

	PoolSize int
}

// DefaultParams returns the values the wall was tuned with.
func DefaultParams() Params {
	return Params{
		MaxBubbles:       12,
		ConflictDistance: 18,
		VerticalWeight:   3,
		Jitter:           3,
		MinDuration:      8 * time.Second,
		MaxDuration:      13 * time.Second,
		MinCooldown:      500 * time.Millisecond,
		MaxCooldown:      2 * time.Second,
		MinInterval:      1500 * time.Millisecond,
		MaxInterval:      5500 * time.Millisecond,
		PoolSize:         50,
	}
}

// Validate reports the first inconsistent setting.
func (p Params) Validate() error {
	switch {
	case p.MaxBubbles < 1:
		return fmt.Errorf("max bubbles must be at least 1: %d", p.MaxBubbles)
	case p.ConflictDistance < 0:
		return fmt.Errorf("conflict distance must not be negative: %v", p.ConflictDistance)
	case p.VerticalWeight <= 0:
		return fmt.Errorf("vertical weight must be positive: %v", p.VerticalWeight)
	case p.MinDuration <= 0 || p.MaxDuration < p.MinDuration:
		return errors.New("bubble duration bounds are invalid")
	case p.MinCooldown < 0 || p.MaxCooldown < p.MinCooldown:
		return errors.New("cooldown bounds are invalid")
	case p.MinInterval <= 0 || p.MaxInterval < p.MinInterval:
		return errors.New("spawn interval bounds are invalid")
	case p.PoolSize < 1:
		return fmt.Errorf("pool size must be at least 1: %d", p.PoolSize)
	}

	return nil
}
