package challenges

import "time"

// Status is the lifecycle state of a challenge. Only StatusPending has outgoing transitions.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Challenge is a team-vs-team match proposal.
type Challenge struct {
	Seq             int64     `gorm:"column:seq;primaryKey;autoIncrement" json:"-"`
	ID              string    `gorm:"column:challenge_id;size:64;not null;uniqueIndex" json:"id"`
	SquareID        string    `gorm:"column:square_id;size:190;not null;index:idx_challenges_square_seq,priority:1" json:"square_id"`
	FromTeamID      string    `gorm:"column:from_team_id;size:64;not null" json:"from_team_id"`
	FromTeamName    string    `gorm:"column:from_team_name;size:240" json:"from_team_name"`
	ToTeamID        string    `gorm:"column:to_team_id;size:64;not null" json:"to_team_id"`
	ToTeamName      string    `gorm:"column:to_team_name;size:240" json:"to_team_name"`
	Status          Status    `gorm:"column:status;size:16;not null" json:"status"`
	WhenLabel       string    `gorm:"column:when_label;size:320" json:"when_label"`
	Note            string    `gorm:"column:note;type:text" json:"note"`
	CreatedByUserID string    `gorm:"column:created_by_user_id;size:190;not null" json:"created_by_user_id"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Challenge) TableName() string {
	return "challenges"
}

// Outcome is the result of a transition attempt. Applied is false when the challenge was no
// longer pending; Challenges is the square's list after the attempt.
type Outcome struct {
	Challenges []Challenge
	Challenge  Challenge
	Applied    bool
}
