package engine

import (
	"context"

	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
	"go.uber.org/zap"
)

const (
	metaAchievementID = "achievementId"
	metaTab           = "tab"
	tabProfile        = "profile"
)

// progress awards kind to user, evaluates the catalog once and grants every new unlock its bonus
// and notification. Bonus awards never trigger another evaluation. It must run inside the
// caller's InSquare.
func (e *Engine) progress(ctx context.Context, squareID square.ID, user square.User, kind xp.ActionKind, meta map[string]string) (Progress, error) {
	award, err := e.ledger.Award(ctx, squareID, user, kind, meta)
	if err != nil {
		return Progress{}, err
	}
	result := Progress{Award: award, Account: award.Account}

	unlocked, err := e.achievements.EvaluateAndUnlock(ctx, squareID, user)
	if err != nil {
		return Progress{}, err
	}
	result.Unlocked = unlocked

	for _, definition := range unlocked {
		bonus, err := e.ledger.Award(ctx, squareID, user, xp.ActionAchievementUnlock, map[string]string{metaAchievementID: definition.ID})
		if err != nil {
			return Progress{}, err
		}
		result.Account = bonus.Account
		if _, err := e.notifications.Push(ctx, squareID, notifications.Draft{
			Kind:  notifications.KindSuccess,
			Title: "Achievement unlocked",
			Text:  displayName(user) + " earned " + definition.Title,
			Meta:  notifications.Meta{metaTab: tabProfile, metaAchievementID: definition.ID},
		}); err != nil {
			return Progress{}, err
		}
		e.logger.Info("achievement unlocked",
			zap.String("square_id", squareID.String()),
			zap.String("user_id", user.ID.String()),
			zap.String("achievement_id", definition.ID))
	}
	return result, nil
}

func displayName(user square.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.ID.String()
}
