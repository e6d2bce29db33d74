package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	"github.com/smallbiznis/pitboss/internal/gamingday"
)

// StateRecord is the current threshold state of one direction for a player's
// gaming day. Level only ever increases for a given key.
type StateRecord struct {
	OrgID     snowflake.ID               `gorm:"primaryKey;autoIncrement:false"`
	PlayerID  snowflake.ID               `gorm:"primaryKey;autoIncrement:false"`
	GamingDay gamingday.Day              `gorm:"primaryKey;type:text"`
	Direction compliancedomain.Direction `gorm:"primaryKey;type:text"`
	State     State                      `gorm:"type:text;not null"`
	Level     int                        `gorm:"not null"`
	Total     int64                      `gorm:"not null"`
	UpdatedAt time.Time                  `gorm:"not null"`
}

// TableName sets the database table name.
func (StateRecord) TableName() string { return "threshold_states" }
