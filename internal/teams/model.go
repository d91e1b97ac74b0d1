package teams

import (
	"time"
)

const (
	maxNameLength  = 60
	maxSportLength = 40
)

// Team is a captained group of square members. The captain is always a member.
type Team struct {
	ID            string    `gorm:"column:team_id;primaryKey;size:64" json:"id"`
	SquareID      string    `gorm:"column:square_id;size:190;not null;index:idx_teams_square_created,priority:1" json:"square_id"`
	Name          string    `gorm:"column:name;size:240;not null" json:"name"`
	Slug          string    `gorm:"column:slug;size:240;not null" json:"slug"`
	Sport         string    `gorm:"column:sport;size:160" json:"sport"`
	CaptainUserID string    `gorm:"column:captain_user_id;size:190;not null" json:"captain_user_id"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_teams_square_created,priority:2" json:"created_at"`
	Members       []Member  `gorm:"foreignKey:TeamID;references:ID" json:"members"`
}

// TableName provides the explicit table binding for GORM.
func (Team) TableName() string {
	return "teams"
}

// HasMember reports whether userID belongs to the team.
func (t Team) HasMember(userID string) bool {
	for _, member := range t.Members {
		if member.UserID == userID {
			return true
		}
	}
	return false
}

// IsCaptain reports whether userID captains the team.
func (t Team) IsCaptain(userID string) bool {
	return userID != "" && t.CaptainUserID == userID
}

// Member binds a user to a team.
type Member struct {
	TeamID   string    `gorm:"column:team_id;primaryKey;size:64" json:"-"`
	UserID   string    `gorm:"column:user_id;primaryKey;size:190" json:"user_id"`
	SquareID string    `gorm:"column:square_id;size:190;not null;index" json:"-"`
	JoinedAt time.Time `gorm:"column:joined_at;not null;autoCreateTime:false" json:"joined_at"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "team_members"
}
