package achievements

import (
	"context"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
)

// Probe exposes the live state predicates may inspect.
type Probe interface {
	ActionCounters(ctx context.Context, squareID square.ID, userID square.UserID) (map[xp.ActionKind]int64, error)
	RankOf(ctx context.Context, squareID square.ID, userID square.UserID) (int, bool, error)
}

// Predicate decides whether a user currently qualifies for an achievement.
type Predicate func(ctx context.Context, probe Probe, squareID square.ID, userID square.UserID) (bool, error)

// Definition is one static catalog entry.
type Definition struct {
	ID          string
	Title       string
	Description string
	Icon        string
	Predicate   Predicate
}

// Catalog is an ordered set of definitions. Evaluation follows declaration order.
type Catalog []Definition

// DefaultCatalog returns the achievements every square offers.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: "first_checkin", Title: "First Check-in", Description: "Checked in at this square for the first time.", Icon: "map-pin", Predicate: counterAtLeast(xp.ActionCheckIn, 1)},
		{ID: "regular_10", Title: "Regular", Description: "Checked in 10 times.", Icon: "calendar-check", Predicate: counterAtLeast(xp.ActionCheckIn, 10)},
		{ID: "chatter_25", Title: "Chatterbox", Description: "Sent 25 chat messages.", Icon: "message-circle", Predicate: counterAtLeast(xp.ActionChatMessage, 25)},
		{ID: "first_photo", Title: "Shutterbug", Description: "Posted a first photo.", Icon: "camera", Predicate: counterAtLeast(xp.ActionPhotoPost, 1)},
		{ID: "team_founder", Title: "Team Founder", Description: "Created a first team.", Icon: "users", Predicate: counterAtLeast(xp.ActionTeamCreate, 1)},
		{ID: "first_challenge", Title: "Gauntlet Thrown", Description: "Created a first challenge.", Icon: "swords", Predicate: counterAtLeast(xp.ActionChallengeCreate, 1)},
		{ID: "challenger_3", Title: "Game On", Description: "Accepted 3 challenges.", Icon: "handshake", Predicate: counterAtLeast(xp.ActionChallengeAccept, 3)},
		{ID: "top_10", Title: "Top 10", Description: "Reached the top 10 of the leaderboard.", Icon: "crown", Predicate: rankAtMost(10)},
	}
}

// Lookup finds a definition by id.
func (c Catalog) Lookup(id string) (Definition, bool) {
	for _, definition := range c {
		if definition.ID == id {
			return definition, true
		}
	}
	return Definition{}, false
}

// Only returns the subset of definitions whose ids are listed, keeping catalog order.
func (c Catalog) Only(ids ...string) Catalog {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	subset := Catalog{}
	for _, definition := range c {
		if wanted[definition.ID] {
			subset = append(subset, definition)
		}
	}
	return subset
}

func counterAtLeast(kind xp.ActionKind, threshold int64) Predicate {
	return func(ctx context.Context, probe Probe, squareID square.ID, userID square.UserID) (bool, error) {
		counters, err := probe.ActionCounters(ctx, squareID, userID)
		if err != nil {
			return false, err
		}
		return counters[kind] >= threshold, nil
	}
}

func rankAtMost(limit int) Predicate {
	return func(ctx context.Context, probe Probe, squareID square.ID, userID square.UserID) (bool, error) {
		rank, ok, err := probe.RankOf(ctx, squareID, userID)
		if err != nil || !ok {
			return false, err
		}
		return rank <= limit, nil
	}
}
