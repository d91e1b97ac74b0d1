package engine

import (
	"context"

	"github.com/MarcoPoloResearchLab/squares/internal/achievements"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opProfile = "engine.profile"

// Profile is everything shown on a player card within a square.
type Profile struct {
	User                 square.User
	Account              xp.Account
	Level                int64
	Rank                 int
	Ranked               bool
	Achievements         []achievements.Unlocked
	Present              bool
	Teams                []teams.Team
	Self                 bool
	Friends              bool
	FriendRequestPending bool
}

// Profile renders subjectID's card as seen by viewer. Square-scoped fields come from one
// consistent snapshot. Friend-graph failures degrade to "not friends" so the card still renders.
func (e *Engine) Profile(ctx context.Context, squareID square.ID, viewer square.UserID, subjectID square.UserID) (Profile, error) {
	if subjectID == "" {
		return Profile{}, square.NewServiceError(opProfile, "missing_subject", square.ErrInvalidInput)
	}
	profile := Profile{Self: viewer == subjectID}
	err := e.store.InSquare(ctx, squareID, func(ctx context.Context, _ *gorm.DB) error {
		account, err := e.ledger.GetAccount(ctx, squareID, square.User{ID: subjectID})
		if err != nil {
			return err
		}
		rank, ranked, err := e.leaderboard.RankOf(ctx, squareID, subjectID)
		if err != nil {
			return err
		}
		unlocked, err := e.achievements.UnlockedFor(ctx, squareID, subjectID)
		if err != nil {
			return err
		}
		present, err := e.presence.IsPresent(ctx, squareID, subjectID)
		if err != nil {
			return err
		}
		allTeams, err := e.teams.List(ctx, squareID)
		if err != nil {
			return err
		}
		memberships := []teams.Team{}
		for _, team := range allTeams {
			if team.HasMember(subjectID.String()) {
				memberships = append(memberships, team)
			}
		}
		profile.Account = account
		profile.Level = account.Level()
		profile.Rank = rank
		profile.Ranked = ranked
		profile.Achievements = unlocked
		profile.Present = present
		profile.Teams = memberships
		return nil
	})
	if err != nil {
		return Profile{}, err
	}

	// Directory and friend-graph reads use their own connections, so they stay outside the square
	// transaction.
	profile.User = square.User{ID: subjectID, DisplayName: profile.Account.DisplayName, AvatarRef: profile.Account.AvatarRef}
	if profile.User.DisplayName == "" && e.directory != nil {
		found, ok, err := e.directory.Lookup(ctx, subjectID)
		if err != nil {
			return Profile{}, err
		}
		if ok {
			profile.User = found
		}
	}
	if !profile.Self && viewer != "" && e.friends != nil {
		profile.Friends = e.friendStatus(ctx, "are_friends", viewer, subjectID, e.friends.AreFriends)
		if !profile.Friends {
			profile.FriendRequestPending = e.friendStatus(ctx, "has_pending_request", viewer, subjectID, e.friends.HasPendingRequest)
		}
	}
	return profile, nil
}

func (e *Engine) friendStatus(ctx context.Context, query string, viewer, subject square.UserID, lookup func(context.Context, square.UserID, square.UserID) (bool, error)) bool {
	ok, err := lookup(ctx, viewer, subject)
	if err != nil {
		e.logger.Warn("friend graph unavailable",
			zap.String("query", query),
			zap.String("viewer_id", viewer.String()),
			zap.String("subject_id", subject.String()),
			zap.Error(err))
		return false
	}
	return ok
}
