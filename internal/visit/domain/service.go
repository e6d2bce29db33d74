package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pitboss/pkg/domainerr"
	"gorm.io/gorm"
)

type StartRequest struct {
	PlayerID string `json:"player_id"`
	Kind     Kind   `json:"kind"`
	Note     string `json:"note"`
}

type StartResult struct {
	Visit      Visit `json:"visit"`
	IsNew      bool  `json:"is_new"`
	RolledOver bool  `json:"rolled_over"`
	// PreviousVisitID is the visit closed by rollover, if any.
	PreviousVisitID *snowflake.ID `json:"previous_visit_id,omitempty"`
}

type Service interface {
	StartOrResume(ctx context.Context, req StartRequest) (*StartResult, error)
	Close(ctx context.Context, visitID string, reason CloseReason) (*Visit, error)
	Classify(ctx context.Context, visitID string) (Archetype, error)
	Get(ctx context.Context, visitID string) (*Visit, error)
	// GetActiveForPlayer returns the player's open visit for the current gaming day, or nil.
	GetActiveForPlayer(ctx context.Context, playerID string) (*Visit, error)
}

// SlipCloser closes whatever rating slip is still open on a visit inside the caller's transaction.
type SlipCloser interface {
	CloseOpenSlipsTx(ctx context.Context, tx *gorm.DB, orgID, visitID snowflake.ID, at time.Time) (int, error)
}

var (
	ErrInvalidOrganization       = domainerr.Validation("invalid_organization")
	ErrInvalidVisit              = domainerr.Validation("invalid_visit")
	ErrInvalidPlayer             = domainerr.Validation("invalid_player")
	ErrInvalidVisitKind          = domainerr.Validation("invalid_visit_kind")
	ErrInvalidCloseReason        = domainerr.Validation("invalid_close_reason")
	ErrSubjectRequiredForAccrual = domainerr.Validation("subject_required_for_accrual")
	ErrPlayerRequired            = domainerr.Validation("player_required")
	ErrAnonymousVisitHasPlayer   = domainerr.Validation("anonymous_visit_has_player")

	ErrVisitNotFound      = domainerr.NotFound("visit_not_found")
	ErrVisitAlreadyClosed = domainerr.State("visit_already_closed")

	ErrDuplicateActiveVisit = domainerr.Integrity("duplicate_active_visit")
)
