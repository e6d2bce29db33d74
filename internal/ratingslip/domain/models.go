// Package domain holds rating slips: contiguous play at one table seat within a visit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusPaused Status = "paused"
	StatusClosed Status = "closed"
)

type CloseReason string

const (
	CloseReasonClosed      CloseReason = "closed"
	CloseReasonMoved       CloseReason = "moved"
	CloseReasonVisitClosed CloseReason = "visit_closed"
)

// RatingSlip is immutable once closed. FinalDurationSeconds is written exactly
// once, at close.
type RatingSlip struct {
	ID                   snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID                snowflake.ID  `gorm:"not null;index:ix_rating_slips_org_visit,priority:1" json:"org_id"`
	VisitID              snowflake.ID  `gorm:"not null;index:ix_rating_slips_org_visit,priority:2;uniqueIndex:ux_rating_slips_open_per_visit,where:status <> 'closed'" json:"visit_id"`
	TableID              string        `gorm:"type:text;not null" json:"table_id"`
	Seat                 string        `gorm:"type:text" json:"seat,omitempty"`
	Status               Status        `gorm:"type:text;not null" json:"status"`
	StartTime            time.Time     `gorm:"not null" json:"start_time"`
	EndTime              *time.Time    `json:"end_time,omitempty"`
	AccumulatedSeconds   int64         `gorm:"not null;default:0" json:"accumulated_seconds"`
	FinalDurationSeconds *int64        `json:"final_duration_seconds,omitempty"`
	PreviousSlipID       *snowflake.ID `json:"previous_slip_id,omitempty"`
	MoveGroupID          snowflake.ID  `gorm:"not null;index" json:"move_group_id"`
	CloseReason          *CloseReason  `gorm:"type:text" json:"close_reason,omitempty"`
	CreatedAt            time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (RatingSlip) TableName() string { return "rating_slips" }

func (s RatingSlip) Closed() bool { return s.Status == StatusClosed }

// PauseInterval is one pause of a slip. EndedAt is nil until resumed.
type PauseInterval struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null" json:"org_id"`
	SlipID    snowflake.ID `gorm:"not null;index" json:"slip_id"`
	StartedAt time.Time    `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}

// TableName sets the database table name.
func (PauseInterval) TableName() string { return "rating_slip_pauses" }
