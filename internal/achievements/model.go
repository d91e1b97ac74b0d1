package achievements

import "time"

// Unlock records that a user earned an achievement in a square. Rows are only ever inserted.
type Unlock struct {
	SquareID      string    `gorm:"column:square_id;primaryKey;size:190;not null"`
	UserID        string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	AchievementID string    `gorm:"column:achievement_id;primaryKey;size:64;not null"`
	UnlockedAt    time.Time `gorm:"column:unlocked_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Unlock) TableName() string {
	return "achievement_unlocks"
}

// Unlocked joins a persisted unlock with its catalog metadata.
type Unlocked struct {
	Definition Definition
	UnlockedAt time.Time
}
