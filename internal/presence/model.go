package presence

import "time"

// DefaultTTL is how long a check-in stays active when the caller gives no duration.
const DefaultTTL = 20 * time.Minute

// Entry records that a user is at a square until ExpiresAt. An entry is active while now < ExpiresAt.
type Entry struct {
	SquareID    string    `gorm:"column:square_id;primaryKey;size:190;not null" json:"square_id"`
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	DisplayName string    `gorm:"column:display_name;size:320" json:"display_name"`
	AvatarRef   string    `gorm:"column:avatar_ref;size:512" json:"avatar_ref"`
	CheckedInAt time.Time `gorm:"column:checked_in_at;not null;autoCreateTime:false" json:"checked_in_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "presence_entries"
}

// ActiveAt reports whether the entry still counts as present at now. The expiry instant itself is
// still inside the window.
func (e Entry) ActiveAt(now time.Time) bool {
	return !now.After(e.ExpiresAt)
}

// CheckInResult carries the roster after a check-in. Arrived is false when an active entry was
// only renewed.
type CheckInResult struct {
	Entry   Entry
	Roster  []Entry
	Arrived bool
}
