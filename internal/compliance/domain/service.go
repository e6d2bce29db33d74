package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/pitboss/internal/gamingday"
	"github.com/smallbiznis/pitboss/pkg/domainerr"
)

type FinancialEventRequest struct {
	// EventID is the caller's identity for the event. Resubmitting the same
	// EventID never produces a second derived entry. Generated when empty.
	EventID      string         `json:"event_id"`
	PlayerID     string         `json:"player_id"`
	VisitID      string         `json:"visit_id"`
	RatingSlipID string         `json:"rating_slip_id"`
	Direction    Direction      `json:"direction"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	Channel      Channel        `json:"channel"`
	IsCorrection bool           `json:"is_correction"`
	OccurredAt   time.Time      `json:"occurred_at"`
	RecordedBy   string         `json:"recorded_by"`
	Metadata     map[string]any `json:"metadata"`
}

type RecordResult struct {
	Event FinancialEvent `json:"event"`
	// Entry is nil when the event is not eligible for derivation.
	Entry        *Entry `json:"entry"`
	Deduplicated bool   `json:"deduplicated"`
}

type ManualEntryRequest struct {
	PlayerID   string    `json:"player_id"`
	VisitID    string    `json:"visit_id"`
	Amount     int64     `json:"amount"`
	Direction  Direction `json:"direction"`
	Category   string    `json:"category"`
	Note       string    `json:"note"`
	StaffID    string    `json:"staff_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Service interface {
	RecordFinancialEvent(context.Context, FinancialEventRequest) (*RecordResult, error)
	RecordManualEntry(context.Context, ManualEntryRequest) (*Entry, error)
	GetRunningTotals(ctx context.Context, playerID string, day gamingday.Day) (Totals, error)
	VisitTotals(ctx context.Context, visitID string) (Totals, error)
	ListEntries(ctx context.Context, playerID string, day gamingday.Day) ([]Entry, error)
}

var (
	ErrInvalidOrganization = domainerr.Validation("invalid_organization")
	ErrInvalidEventID      = domainerr.Validation("invalid_event_id")
	ErrInvalidPlayer       = domainerr.Validation("invalid_player")
	ErrInvalidVisit        = domainerr.Validation("invalid_visit")
	ErrInvalidRatingSlip   = domainerr.Validation("invalid_rating_slip")
	ErrInvalidDirection    = domainerr.Validation("invalid_direction")
	ErrInvalidAmount       = domainerr.Validation("invalid_amount")
	ErrInvalidCurrency     = domainerr.Validation("invalid_currency")
	ErrInvalidChannel      = domainerr.Validation("invalid_channel")
	ErrInvalidCategory     = domainerr.Validation("invalid_category")
	ErrDirectionMismatch   = domainerr.Validation("direction_mismatch")
	ErrNoteRequired        = domainerr.Validation("note_required")
	ErrStaffRequired       = domainerr.Validation("staff_required")
	ErrInvalidGamingDay    = domainerr.Validation("invalid_gaming_day")

	ErrManualEntryNotPermittedForDerivedCategory = domainerr.Validation("manual_entry_not_permitted_for_derived_category")

	ErrVisitNotFound      = domainerr.NotFound("visit_not_found")
	ErrVisitClosed        = domainerr.State("visit_closed")
	ErrPlayerMismatch     = domainerr.Validation("player_mismatch")
	ErrSlipNotInVisit     = domainerr.Validation("rating_slip_not_in_visit")
	ErrEventIdentityTaken = domainerr.Conflict("event_identity_taken")
)
