package leaderboard

import (
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/xp"
)

// Standing is one ranked row.
type Standing struct {
	Rank        int       `json:"rank"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarRef   string    `json:"avatar_ref"`
	TotalXP     int64     `json:"total_xp"`
	Level       int64     `json:"level"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Rank orders accounts by total XP, then most recent update, then user id so the order is total.
func Rank(accounts []xp.Account) []Standing {
	ordered := append([]xp.Account(nil), accounts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ranksBefore(ordered[i], ordered[j])
	})
	standings := make([]Standing, 0, len(ordered))
	for index, account := range ordered {
		standings = append(standings, Standing{
			Rank:        index + 1,
			UserID:      account.UserID,
			DisplayName: account.DisplayName,
			AvatarRef:   account.AvatarRef,
			TotalXP:     account.TotalXP,
			Level:       account.Level(),
			UpdatedAt:   account.UpdatedAt,
		})
	}
	return standings
}

func ranksBefore(a, b xp.Account) bool {
	if a.TotalXP != b.TotalXP {
		return a.TotalXP > b.TotalXP
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.UserID < b.UserID
}
