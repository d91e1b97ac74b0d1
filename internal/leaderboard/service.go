package leaderboard

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
)

var errMissingLedger = errors.New("xp ledger is required")

// AccountLister is the part of the XP ledger the leaderboard reads.
type AccountLister interface {
	ListAccounts(ctx context.Context, squareID square.ID) ([]xp.Account, error)
}

// Service derives rankings from the XP ledger on every call. It keeps no state of its own.
type Service struct {
	ledger AccountLister
}

// NewService constructs the view over ledger.
func NewService(ledger AccountLister) (*Service, error) {
	if ledger == nil {
		return nil, square.NewServiceError("leaderboard.service.new", "missing_ledger", errMissingLedger)
	}
	return &Service{ledger: ledger}, nil
}

// Standings returns the full ranking of a square.
func (s *Service) Standings(ctx context.Context, squareID square.ID) ([]Standing, error) {
	accounts, err := s.ledger.ListAccounts(ctx, squareID)
	if err != nil {
		return nil, err
	}
	return Rank(accounts), nil
}

// Top returns at most limit leading standings. A non-positive limit returns none.
func (s *Service) Top(ctx context.Context, squareID square.ID, limit int) ([]Standing, error) {
	if limit <= 0 {
		return []Standing{}, nil
	}
	standings, err := s.Standings(ctx, squareID)
	if err != nil {
		return nil, err
	}
	if len(standings) > limit {
		standings = standings[:limit]
	}
	return standings, nil
}

// RankOf returns the 1-based position of userID; ok is false when the user has no account.
func (s *Service) RankOf(ctx context.Context, squareID square.ID, userID square.UserID) (int, bool, error) {
	standings, err := s.Standings(ctx, squareID)
	if err != nil {
		return 0, false, err
	}
	for _, standing := range standings {
		if standing.UserID == userID.String() {
			return standing.Rank, true, nil
		}
	}
	return 0, false, nil
}
