package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pitboss/pkg/domainerr"
	"gorm.io/gorm"
)

type OpenRequest struct {
	VisitID string `json:"visit_id"`
	TableID string `json:"table_id"`
	Seat    string `json:"seat"`
}

type MoveRequest struct {
	SlipID  string `json:"slip_id"`
	TableID string `json:"table_id"`
	Seat    string `json:"seat"`
}

type MoveResult struct {
	Closed RatingSlip `json:"closed"`
	Opened RatingSlip `json:"opened"`
}

type Service interface {
	Open(ctx context.Context, req OpenRequest) (*RatingSlip, error)
	Pause(ctx context.Context, slipID string) (*RatingSlip, error)
	Resume(ctx context.Context, slipID string) (*RatingSlip, error)
	Move(ctx context.Context, req MoveRequest) (*MoveResult, error)
	Close(ctx context.Context, slipID string) (*RatingSlip, error)

	Get(ctx context.Context, slipID string) (*RatingSlip, error)
	// Current returns the visit's open or paused slip, or nil.
	Current(ctx context.Context, visitID string) (*RatingSlip, error)
	// ListForVisit returns slips most recent first. limit <= 0 returns all.
	ListForVisit(ctx context.Context, visitID string, limit int) ([]RatingSlip, error)
	VisitElapsed(ctx context.Context, visitID string) (Elapsed, error)

	// CloseOpenSlipsTx closes non-closed slips of a visit on tx. The caller holds the visit lock.
	CloseOpenSlipsTx(ctx context.Context, tx *gorm.DB, orgID, visitID snowflake.ID, at time.Time) (int, error)
}

var (
	ErrInvalidOrganization = domainerr.Validation("invalid_organization")
	ErrInvalidVisit        = domainerr.Validation("invalid_visit")
	ErrInvalidSlip         = domainerr.Validation("invalid_rating_slip")
	ErrInvalidTable        = domainerr.Validation("invalid_table")
	ErrInvalidMoveTarget   = domainerr.Validation("invalid_move_target")

	ErrVisitNotFound = domainerr.NotFound("visit_not_found")
	ErrSlipNotFound  = domainerr.NotFound("rating_slip_not_found")

	ErrVisitClosed      = domainerr.State("visit_closed")
	ErrVisitNotPlayable = domainerr.State("visit_not_playable")
	ErrSlipNotOpen      = domainerr.State("rating_slip_not_open")
	ErrSlipNotPaused    = domainerr.State("rating_slip_not_paused")

	ErrSlipClosed      = domainerr.Conflict("rating_slip_closed")
	ErrSlipAlreadyOpen = domainerr.Conflict("rating_slip_already_open")

	ErrDuplicateOpenSlip = domainerr.Integrity("duplicate_open_rating_slip")
)
