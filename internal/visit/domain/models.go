// Package domain holds the visit model: one player's presence on one gaming day.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pitboss/internal/gamingday"
)

// Kind is the tagged variant of a visit. Each kind fixes its archetype flags.
type Kind string

const (
	KindRated      Kind = "rated"
	KindUnrated    Kind = "unrated"
	KindRewardOnly Kind = "reward_only"
	KindGhost      Kind = "ghost"
)

type IdentityScope string

const (
	IdentityIdentified IdentityScope = "identified"
	IdentityAnonymous  IdentityScope = "anonymous"
)

type EngagementMode string

const (
	EngagementActivePlay EngagementMode = "active_play"
	EngagementRewardOnly EngagementMode = "reward_only"
)

// Archetype is the classification of a visit.
type Archetype struct {
	Kind            Kind           `json:"kind"`
	IdentityScope   IdentityScope  `json:"identity_scope"`
	EngagementMode  EngagementMode `json:"engagement_mode"`
	AccrualEligible bool           `json:"accrual_eligible"`
}

var archetypes = map[Kind]Archetype{
	KindRated:      {Kind: KindRated, IdentityScope: IdentityIdentified, EngagementMode: EngagementActivePlay, AccrualEligible: true},
	KindUnrated:    {Kind: KindUnrated, IdentityScope: IdentityIdentified, EngagementMode: EngagementActivePlay},
	KindRewardOnly: {Kind: KindRewardOnly, IdentityScope: IdentityIdentified, EngagementMode: EngagementRewardOnly},
	KindGhost:      {Kind: KindGhost, IdentityScope: IdentityAnonymous, EngagementMode: EngagementActivePlay},
}

// Archetype returns the flags of a kind.
func (k Kind) Archetype() (Archetype, bool) {
	a, ok := archetypes[k]
	return a, ok
}

func (k Kind) Valid() bool {
	_, ok := archetypes[k]
	return ok
}

func (k Kind) Identified() bool {
	return archetypes[k].IdentityScope == IdentityIdentified
}

// Playable reports whether rating slips may be opened for the kind.
func (k Kind) Playable() bool {
	return archetypes[k].EngagementMode == EngagementActivePlay
}

type CloseReason string

const (
	CloseReasonCheckout       CloseReason = "checkout"
	CloseReasonRollover       CloseReason = "rollover"
	CloseReasonAdministrative CloseReason = "administrative"
)

func (r CloseReason) Valid() bool {
	switch r {
	case CloseReasonCheckout, CloseReasonRollover, CloseReasonAdministrative:
		return true
	default:
		return false
	}
}

// Visit is at most one active row per (org, player, gaming day); ghost visits
// have no player and are never deduplicated.
type Visit struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID  `gorm:"not null;uniqueIndex:ux_visits_active_player_day,priority:1,where:ended_at IS NULL;index:ix_visits_org_open,priority:1" json:"org_id"`
	PlayerID    *snowflake.ID `gorm:"uniqueIndex:ux_visits_active_player_day,priority:2,where:ended_at IS NULL" json:"player_id,omitempty"`
	GamingDay   gamingday.Day `gorm:"type:text;not null;uniqueIndex:ux_visits_active_player_day,priority:3,where:ended_at IS NULL" json:"gaming_day"`
	Kind        Kind          `gorm:"type:text;not null" json:"kind"`
	GroupID     snowflake.ID  `gorm:"not null;index" json:"group_id"`
	StartedAt   time.Time     `gorm:"not null" json:"started_at"`
	EndedAt     *time.Time    `gorm:"index:ix_visits_org_open,priority:2" json:"ended_at,omitempty"`
	CloseReason *CloseReason  `gorm:"type:text" json:"close_reason,omitempty"`
	Note        *string       `gorm:"type:text" json:"note,omitempty"`
	CreatedAt   time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Visit) TableName() string { return "visits" }

func (v Visit) Active() bool { return v.EndedAt == nil }
