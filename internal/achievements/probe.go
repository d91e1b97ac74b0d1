package achievements

import (
	"context"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
)

// CounterSource provides cumulative action counters, usually the XP ledger.
type CounterSource interface {
	GetActionCounters(ctx context.Context, squareID square.ID, userID square.UserID) (map[xp.ActionKind]int64, error)
}

// RankSource provides leaderboard positions.
type RankSource interface {
	RankOf(ctx context.Context, squareID square.ID, userID square.UserID) (int, bool, error)
}

type ledgerProbe struct {
	counters CounterSource
	ranks    RankSource
}

// NewProbe combines the XP ledger and the leaderboard into a Probe.
func NewProbe(counters CounterSource, ranks RankSource) Probe {
	return ledgerProbe{counters: counters, ranks: ranks}
}

func (p ledgerProbe) ActionCounters(ctx context.Context, squareID square.ID, userID square.UserID) (map[xp.ActionKind]int64, error) {
	return p.counters.GetActionCounters(ctx, squareID, userID)
}

func (p ledgerProbe) RankOf(ctx context.Context, squareID square.ID, userID square.UserID) (int, bool, error) {
	return p.ranks.RankOf(ctx, squareID, userID)
}
