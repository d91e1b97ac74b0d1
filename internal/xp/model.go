package xp

import (
	"time"

	"gorm.io/datatypes"
)

const xpPerLevel = 100

// Counters maps a counter key to its count.
type Counters map[string]int64

// Account is the per-(square, user) experience record. Level is always derived from TotalXP.
type Account struct {
	SquareID       string                       `gorm:"column:square_id;primaryKey;size:190;not null" json:"square_id"`
	UserID         string                       `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	DisplayName    string                       `gorm:"column:display_name;size:320" json:"display_name"`
	AvatarRef      string                       `gorm:"column:avatar_ref;size:512" json:"avatar_ref"`
	TotalXP        int64                        `gorm:"column:total_xp;not null;default:0" json:"total_xp"`
	ActionCounters datatypes.JSONType[Counters] `gorm:"column:action_counters_json" json:"action_counters"`
	DailyUsage     datatypes.JSONType[Counters] `gorm:"column:daily_usage_json" json:"-"`
	UpdatedAt      time.Time                    `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "xp_accounts"
}

// Level derives the account level.
func (a Account) Level() int64 {
	return Level(a.TotalXP)
}

// Exists reports whether the account has ever been persisted.
func (a Account) Exists() bool {
	return !a.UpdatedAt.IsZero()
}

// Level is floor(totalXP/100)+1. It is never stored.
func Level(totalXP int64) int64 {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP/xpPerLevel + 1
}

// Reason explains why an award did not apply.
type Reason string

const ReasonDailyCapReached Reason = "daily_cap_reached"

// AwardResult reports the outcome of one award call.
type AwardResult struct {
	Applied bool
	Reason  Reason
	AddedXP int64
	Account Account
}

func counterCopy(source Counters) Counters {
	copied := make(Counters, len(source))
	for key, value := range source {
		copied[key] = value
	}
	return copied
}
