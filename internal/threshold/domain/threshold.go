// Package domain evaluates regulatory threshold states from running totals.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	"github.com/smallbiznis/pitboss/internal/gamingday"
	"github.com/smallbiznis/pitboss/pkg/domainerr"
	"gorm.io/gorm"
)

// State is a per-direction threshold classification.
type State string

const (
	StateNone        State = "none"
	StateApproaching State = "approaching"
	StateCrossed     State = "crossed"
)

// Level orders states so they can only move upward within a gaming day.
func (s State) Level() int {
	switch s {
	case StateCrossed:
		return 2
	case StateApproaching:
		return 1
	default:
		return 0
	}
}

// Max returns the higher of two states.
func Max(a, b State) State {
	if b.Level() > a.Level() {
		return b
	}
	if a == "" {
		return StateNone
	}
	return a
}

// Config holds the threshold parameters of an organization.
type Config struct {
	// CrossedAmount is the limit in minor units. A total strictly above it
	// is crossed.
	CrossedAmount int64
	// ApproachingFraction of CrossedAmount at or above which a total is
	// approaching.
	ApproachingFraction decimal.Decimal
}

var (
	ErrInvalidCrossedAmount       = errors.New("threshold_invalid_crossed_amount")
	ErrInvalidApproachingFraction = errors.New("threshold_invalid_approaching_fraction")
)

func (c Config) Validate() error {
	if c.CrossedAmount <= 0 {
		return ErrInvalidCrossedAmount
	}
	if c.ApproachingFraction.IsNegative() || c.ApproachingFraction.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidApproachingFraction
	}
	return nil
}

// ApproachingFloor is the smallest total classified as approaching.
func (c Config) ApproachingFloor() decimal.Decimal {
	return c.ApproachingFraction.Mul(decimal.NewFromInt(c.CrossedAmount))
}

// Evaluate classifies a single directional total.
func Evaluate(total int64, cfg Config) State {
	if total > cfg.CrossedAmount {
		return StateCrossed
	}
	if total > 0 && decimal.NewFromInt(total).GreaterThanOrEqual(cfg.ApproachingFloor()) {
		return StateApproaching
	}
	return StateNone
}

// DirectionalState holds one state per direction.
type DirectionalState struct {
	In  State `json:"in"`
	Out State `json:"out"`
}

// For returns the state of one direction.
func (d DirectionalState) For(direction compliancedomain.Direction) State {
	if direction == compliancedomain.DirectionOut {
		return d.Out
	}
	return d.In
}

// EvaluateTotals classifies each direction independently.
func EvaluateTotals(totals compliancedomain.Totals, cfg Config) DirectionalState {
	return DirectionalState{
		In:  Evaluate(totals.In, cfg),
		Out: Evaluate(totals.Out, cfg),
	}
}

// Transition is an upward state change observed for one direction.
type Transition struct {
	Direction compliancedomain.Direction `json:"direction"`
	From      State                      `json:"from"`
	To        State                      `json:"to"`
	Total     int64                      `json:"total"`
}

// ObserveKey identifies the monitored player day.
type ObserveKey struct {
	OrgID     snowflake.ID
	PlayerID  snowflake.ID
	GamingDay gamingday.Day
}

// Observer records running totals inside the caller's transaction.
type Observer interface {
	ObserveTx(ctx context.Context, tx *gorm.DB, key ObserveKey, totals compliancedomain.Totals, cfg Config) (DirectionalState, []Transition, error)
}

type Service interface {
	Observer
	GetState(ctx context.Context, playerID string, day gamingday.Day) (DirectionalState, error)
}

var (
	ErrInvalidOrganization = domainerr.Validation("invalid_organization")
	ErrInvalidPlayer       = domainerr.Validation("invalid_player")
)
