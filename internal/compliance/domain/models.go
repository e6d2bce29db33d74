// Package domain contains the financial event and compliance ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pitboss/internal/gamingday"
	"gorm.io/datatypes"
)

// Direction is the side of the cage a cash movement lands on.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Channel is the source channel of a financial event.
type Channel string

const (
	ChannelBuyIn                Channel = "buy_in"
	ChannelMarkerIssue          Channel = "marker_issue"
	ChannelFrontMoneyDeposit    Channel = "front_money_deposit"
	ChannelCashOut              Channel = "cash_out"
	ChannelChipRedemption       Channel = "chip_redemption"
	ChannelFrontMoneyWithdrawal Channel = "front_money_withdrawal"
)

// channelDirections is the fixed mapping of derivable channels to directions.
var channelDirections = map[Channel]Direction{
	ChannelBuyIn:                DirectionIn,
	ChannelMarkerIssue:          DirectionIn,
	ChannelFrontMoneyDeposit:    DirectionIn,
	ChannelCashOut:              DirectionOut,
	ChannelChipRedemption:       DirectionOut,
	ChannelFrontMoneyWithdrawal: DirectionOut,
}

// DirectionForChannel returns the derived direction of a channel.
func DirectionForChannel(channel Channel) (Direction, bool) {
	direction, ok := channelDirections[channel]
	return direction, ok
}

// IsDerivableCategory reports whether entries of this category may only be
// produced by derivation.
func IsDerivableCategory(category string) bool {
	_, ok := channelDirections[Channel(category)]
	return ok
}

// Provenance records how a compliance entry came to exist.
type Provenance string

const (
	ProvenanceDerived Provenance = "derived"
	ProvenanceManual  Provenance = "manual"
)

// FinancialEvent is an append-only cash movement.
type FinancialEvent struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	OrgID        snowflake.ID      `gorm:"not null;index:ix_financial_events_org_visit,priority:1"`
	PlayerID     *snowflake.ID     `gorm:"index"`
	VisitID      snowflake.ID      `gorm:"not null;index:ix_financial_events_org_visit,priority:2"`
	RatingSlipID *snowflake.ID     `gorm:""`
	Direction    Direction         `gorm:"type:text;not null"`
	Amount       int64             `gorm:"not null"`
	Currency     string            `gorm:"type:text;not null"`
	Channel      Channel           `gorm:"type:text;not null"`
	IsCorrection bool              `gorm:"not null;default:false"`
	OccurredAt   time.Time         `gorm:"not null"`
	RecordedBy   *string           `gorm:"type:text"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (FinancialEvent) TableName() string { return "financial_events" }

// Entry is one contribution to the compliance ledger.
type Entry struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrgID          snowflake.ID  `gorm:"not null;uniqueIndex:ux_compliance_entries_idempotency,priority:1;index:ix_compliance_entries_player_day,priority:1"`
	IdempotencyKey string        `gorm:"type:text;not null;uniqueIndex:ux_compliance_entries_idempotency,priority:2"`
	PlayerID       *snowflake.ID `gorm:"index:ix_compliance_entries_player_day,priority:2"`
	VisitID        *snowflake.ID `gorm:"index"`
	GamingDay      gamingday.Day `gorm:"type:text;not null;index:ix_compliance_entries_player_day,priority:3"`
	Direction      Direction     `gorm:"type:text;not null"`
	Amount         int64         `gorm:"not null"`
	Currency       string        `gorm:"type:text;not null"`
	Category       string        `gorm:"type:text;not null"`
	Provenance     Provenance    `gorm:"type:text;not null"`
	SourceEventID  *snowflake.ID `gorm:""`
	Note           *string       `gorm:"type:text"`
	StaffID        *string       `gorm:"type:text"`
	OccurredAt     time.Time     `gorm:"not null"`
	CreatedAt      time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "compliance_entries" }

// SourceIdempotencyKey is the derivation key for a financial event.
func SourceIdempotencyKey(eventID snowflake.ID) string {
	return "source:" + eventID.String()
}

// ManualIdempotencyKey is the key of an operator-entered entry.
func ManualIdempotencyKey(entryID snowflake.ID) string {
	return "manual:" + entryID.String()
}

// Totals are directional running totals. In and Out are never netted.
type Totals struct {
	In  int64 `json:"total_in"`
	Out int64 `json:"total_out"`
}

// For returns the total of one direction.
func (t Totals) For(direction Direction) int64 {
	if direction == DirectionOut {
		return t.Out
	}
	return t.In
}
