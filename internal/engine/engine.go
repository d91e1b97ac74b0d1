package engine

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/squares/internal/achievements"
	"github.com/MarcoPoloResearchLab/squares/internal/challenges"
	"github.com/MarcoPoloResearchLab/squares/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/presence"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
	"go.uber.org/zap"
)

const opEngineNew = "engine.new"

// FriendOracle answers friend-graph questions for profile rendering.
type FriendOracle interface {
	AreFriends(ctx context.Context, a, b square.UserID) (bool, error)
	HasPendingRequest(ctx context.Context, a, b square.UserID) (bool, error)
}

// Directory resolves users that are not acting in the current request.
type Directory interface {
	Lookup(ctx context.Context, userID square.UserID) (square.User, bool, error)
}

// Config wires the ledgers the engine orchestrates. Friends and Directory are optional.
type Config struct {
	Store         *square.Store
	Presence      *presence.Service
	Ledger        *xp.Service
	Leaderboard   *leaderboard.Service
	Achievements  *achievements.Evaluator
	Teams         *teams.Service
	Challenges    *challenges.Workflow
	Notifications *notifications.Service
	Friends       FriendOracle
	Directory     Directory
	Logger        *zap.Logger
}

// Engine is the entry point for every user action in a square. Each action runs its primary
// mutation, the XP award, achievement evaluation, bonus awards and notifications under one
// per-square lock and transaction.
type Engine struct {
	store         *square.Store
	presence      *presence.Service
	ledger        *xp.Service
	leaderboard   *leaderboard.Service
	achievements  *achievements.Evaluator
	teams         *teams.Service
	challenges    *challenges.Workflow
	notifications *notifications.Service
	friends       FriendOracle
	directory     Directory
	logger        *zap.Logger
}

// New validates the configuration and constructs the engine.
func New(cfg Config) (*Engine, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{name: "store", missing: cfg.Store == nil},
		{name: "presence", missing: cfg.Presence == nil},
		{name: "ledger", missing: cfg.Ledger == nil},
		{name: "leaderboard", missing: cfg.Leaderboard == nil},
		{name: "achievements", missing: cfg.Achievements == nil},
		{name: "teams", missing: cfg.Teams == nil},
		{name: "challenges", missing: cfg.Challenges == nil},
		{name: "notifications", missing: cfg.Notifications == nil},
	}
	for _, dependency := range required {
		if dependency.missing {
			return nil, square.NewServiceError(opEngineNew, "missing_"+dependency.name, errors.New(dependency.name+" is required"))
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:         cfg.Store,
		presence:      cfg.Presence,
		ledger:        cfg.Ledger,
		leaderboard:   cfg.Leaderboard,
		achievements:  cfg.Achievements,
		teams:         cfg.Teams,
		challenges:    cfg.Challenges,
		notifications: cfg.Notifications,
		friends:       cfg.Friends,
		directory:     cfg.Directory,
		logger:        logger,
	}, nil
}

// Progress reports what an action earned. Unlocked lists achievements granted in this action;
// Account reflects every bonus award.
type Progress struct {
	Award    xp.AwardResult
	Unlocked []achievements.Definition
	Account  xp.Account
}

// Roster returns who is checked in right now.
func (e *Engine) Roster(ctx context.Context, squareID square.ID) ([]presence.Entry, error) {
	return e.presence.ActiveRoster(ctx, squareID)
}

// Account returns the user's XP account, zero-valued when the user never earned XP.
func (e *Engine) Account(ctx context.Context, squareID square.ID, user square.User) (xp.Account, error) {
	return e.ledger.GetAccount(ctx, squareID, user)
}

// Leaderboard returns the leading standings; limit <= 0 returns the full ranking.
func (e *Engine) Leaderboard(ctx context.Context, squareID square.ID, limit int) ([]leaderboard.Standing, error) {
	if limit <= 0 {
		return e.leaderboard.Standings(ctx, squareID)
	}
	return e.leaderboard.Top(ctx, squareID, limit)
}

// Achievements returns the user's unlocks in catalog order.
func (e *Engine) Achievements(ctx context.Context, squareID square.ID, userID square.UserID) ([]achievements.Unlocked, error) {
	return e.achievements.UnlockedFor(ctx, squareID, userID)
}

// Catalog returns every achievement a square offers.
func (e *Engine) Catalog() achievements.Catalog {
	return e.achievements.Catalog()
}

// Teams lists the square's teams.
func (e *Engine) Teams(ctx context.Context, squareID square.ID) ([]teams.Team, error) {
	return e.teams.List(ctx, squareID)
}

// Challenges lists the square's challenges, newest first.
func (e *Engine) Challenges(ctx context.Context, squareID square.ID) ([]challenges.Challenge, error) {
	return e.challenges.List(ctx, squareID)
}

// Notifications lists the square's notification feed, newest first.
func (e *Engine) Notifications(ctx context.Context, squareID square.ID) ([]notifications.Event, error) {
	return e.notifications.List(ctx, squareID)
}

// ClearNotifications empties the square's notification feed.
func (e *Engine) ClearNotifications(ctx context.Context, squareID square.ID) error {
	return e.notifications.Clear(ctx, squareID)
}
