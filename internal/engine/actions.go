package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/squares/internal/challenges"
	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/presence"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
	"gorm.io/gorm"
)

const (
	maxChatMessageLength = 500
	maxPhotoRefLength    = 512

	metaUserID = "userId"
	metaTeamID = "teamId"
	tabRoster  = "roster"
	tabTeams   = "teams"
)

// CheckInResult is the outcome of a check-in.
type CheckInResult struct {
	Roster   []presence.Entry
	Arrived  bool
	Progress Progress
}

// TeamResult is the outcome of a team creation.
type TeamResult struct {
	Team     teams.Team
	Progress Progress
}

// ChallengeResult is the outcome of a challenge action. Progress is zero when the action
// earned nothing.
type ChallengeResult struct {
	Challenges []challenges.Challenge
	Challenge  challenges.Challenge
	Applied    bool
	Progress   Progress
}

// CheckIn marks the user present for ttl (the configured default when ttl <= 0) and awards
// check-in XP. Arriving, as opposed to renewing, is announced to the square.
func (e *Engine) CheckIn(ctx context.Context, squareID square.ID, user square.User, ttl time.Duration) (CheckInResult, error) {
	if err := requireUser("engine.check_in", user); err != nil {
		return CheckInResult{}, err
	}
	var result CheckInResult
	err := e.store.InSquare(ctx, squareID, func(ctx context.Context, _ *gorm.DB) error {
		checkIn, err := e.presence.CheckIn(ctx, squareID, user, ttl)
		if err != nil {
			return err
		}
		if checkIn.Arrived {
			if _, err := e.notifications.Push(ctx, squareID, notifications.Draft{
				Kind:  notifications.KindLive,
				Title: "Checked in",
				Text:  displayName(user) + " is at the square",
				Meta:  notifications.Meta{metaTab: tabRoster, metaUserID: user.ID.String()},
			}); err != nil {
				return err
			}
		}
		progress, err := e.progress(ctx, squareID, user, xp.ActionCheckIn, nil)
		if err != nil {
			return err
		}
		result = CheckInResult{Roster: checkIn.Roster, Arrived: checkIn.Arrived, Progress: progress}
		return nil
	})
	if err != nil {
		return CheckInResult{}, err
	}
	return result, nil
}

// CheckOut removes the user from the roster.
func (e *Engine) CheckOut(ctx context.Context, squareID square.ID, user square.User) ([]presence.Entry, error) {
	if err := requireUser("engine.check_out", user); err != nil {
		return nil, err
	}
	return e.presence.CheckOut(ctx, squareID, user.ID)
}

// RecordChatMessage awards chat XP for one message. The message itself is stored elsewhere.
func (e *Engine) RecordChatMessage(ctx context.Context, squareID square.ID, user square.User, text string) (Progress, error) {
	if err := requireUser("engine.record_chat_message", user); err != nil {
		return Progress{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxChatMessageLength {
		return Progress{}, square.NewServiceError("engine.record_chat_message", "invalid_text",
			fmt.Errorf("%w: message must be 1-%d characters", square.ErrInvalidInput, maxChatMessageLength))
	}
	return e.award(ctx, squareID, user, xp.ActionChatMessage, nil)
}

// RecordPhoto awards photo XP for an uploaded photo identified by photoRef.
func (e *Engine) RecordPhoto(ctx context.Context, squareID square.ID, user square.User, photoRef string) (Progress, error) {
	if err := requireUser("engine.record_photo", user); err != nil {
		return Progress{}, err
	}
	photoRef = strings.TrimSpace(photoRef)
	if photoRef == "" || len(photoRef) > maxPhotoRefLength {
		return Progress{}, square.NewServiceError("engine.record_photo", "invalid_photo_ref",
			fmt.Errorf("%w: photo reference must be 1-%d bytes", square.ErrInvalidInput, maxPhotoRefLength))
	}
	return e.award(ctx, squareID, user, xp.ActionPhotoPost, map[string]string{"photoRef": photoRef})
}

// CreateTeam founds a team captained by user.
func (e *Engine) CreateTeam(ctx context.Context, squareID square.ID, user square.User, name, sport string) (TeamResult, error) {
	if err := requireUser("engine.create_team", user); err != nil {
		return TeamResult{}, err
	}
	var result TeamResult
	err := e.store.InSquare(ctx, squareID, func(ctx context.Context, _ *gorm.DB) error {
		team, err := e.teams.Create(ctx, squareID, user, name, sport)
		if err != nil {
			return err
		}
		if _, err := e.notifications.Push(ctx, squareID, notifications.Draft{
			Kind:  notifications.KindInfo,
			Title: "New team",
			Text:  displayName(user) + " founded " + team.Name,
			Meta:  notifications.Meta{metaTab: tabTeams, metaTeamID: team.ID},
		}); err != nil {
			return err
		}
		progress, err := e.progress(ctx, squareID, user, xp.ActionTeamCreate, map[string]string{metaTeamID: team.ID})
		if err != nil {
			return err
		}
		result = TeamResult{Team: team, Progress: progress}
		return nil
	})
	if err != nil {
		return TeamResult{}, err
	}
	return result, nil
}

// JoinTeam adds user to the team.
func (e *Engine) JoinTeam(ctx context.Context, squareID square.ID, user square.User, teamID string) (teams.Team, error) {
	if err := requireUser("engine.join_team", user); err != nil {
		return teams.Team{}, err
	}
	return e.teams.Join(ctx, squareID, teamID, user)
}

// LeaveTeam removes user from the team. A captain cannot leave.
func (e *Engine) LeaveTeam(ctx context.Context, squareID square.ID, user square.User, teamID string) (teams.Team, error) {
	if err := requireUser("engine.leave_team", user); err != nil {
		return teams.Team{}, err
	}
	return e.teams.Leave(ctx, squareID, teamID, user.ID)
}

// DeleteTeam removes a team on behalf of its captain.
func (e *Engine) DeleteTeam(ctx context.Context, squareID square.ID, user square.User, teamID string) error {
	if err := requireUser("engine.delete_team", user); err != nil {
		return err
	}
	return e.teams.Delete(ctx, squareID, teamID, user.ID)
}

// CreateChallenge proposes a match from fromTeamID, which user must captain, to toTeamID.
func (e *Engine) CreateChallenge(ctx context.Context, squareID square.ID, user square.User, fromTeamID, toTeamID, whenLabel, note string) (ChallengeResult, error) {
	if err := requireUser("engine.create_challenge", user); err != nil {
		return ChallengeResult{}, err
	}
	var result ChallengeResult
	err := e.store.InSquare(ctx, squareID, func(ctx context.Context, _ *gorm.DB) error {
		fromTeam, err := e.teams.Get(ctx, squareID, fromTeamID)
		if err != nil {
			return err
		}
		toTeam, err := e.teams.Get(ctx, squareID, toTeamID)
		if err != nil {
			return err
		}
		list, err := e.challenges.Create(ctx, squareID, user, fromTeam, toTeam, whenLabel, note)
		if err != nil {
			return err
		}
		created := list[0]
		progress, err := e.progress(ctx, squareID, user, xp.ActionChallengeCreate, map[string]string{challenges.MetaChallengeID: created.ID})
		if err != nil {
			return err
		}
		result = ChallengeResult{Challenges: list, Challenge: created, Applied: true, Progress: progress}
		return nil
	})
	if err != nil {
		return ChallengeResult{}, err
	}
	return result, nil
}

// AcceptChallenge accepts a pending challenge on behalf of the challenged team's captain.
func (e *Engine) AcceptChallenge(ctx context.Context, squareID square.ID, user square.User, challengeID string) (ChallengeResult, error) {
	return e.resolveChallenge(ctx, "engine.accept_challenge", squareID, user, challengeID, challengeAccept)
}

// RejectChallenge rejects a pending challenge on behalf of the challenged team's captain.
func (e *Engine) RejectChallenge(ctx context.Context, squareID square.ID, user square.User, challengeID string) (ChallengeResult, error) {
	return e.resolveChallenge(ctx, "engine.reject_challenge", squareID, user, challengeID, challengeReject)
}

// CancelChallenge withdraws a pending challenge on behalf of the proposing team's captain.
func (e *Engine) CancelChallenge(ctx context.Context, squareID square.ID, user square.User, challengeID string) (ChallengeResult, error) {
	return e.resolveChallenge(ctx, "engine.cancel_challenge", squareID, user, challengeID, challengeCancel)
}

type challengeAction int

const (
	challengeAccept challengeAction = iota
	challengeReject
	challengeCancel
)

func (e *Engine) resolveChallenge(ctx context.Context, operation string, squareID square.ID, user square.User, challengeID string, action challengeAction) (ChallengeResult, error) {
	if err := requireUser(operation, user); err != nil {
		return ChallengeResult{}, err
	}
	var result ChallengeResult
	err := e.store.InSquare(ctx, squareID, func(ctx context.Context, _ *gorm.DB) error {
		challenge, err := e.challenges.Get(ctx, squareID, challengeID)
		if err != nil {
			return err
		}
		gatingTeamID := challenge.ToTeamID
		if action == challengeCancel {
			gatingTeamID = challenge.FromTeamID
		}
		team, err := e.teams.Get(ctx, squareID, gatingTeamID)
		if err != nil {
			return err
		}
		if !team.IsCaptain(user.ID.String()) {
			return square.NewServiceError(operation, "not_captain", square.ErrNotCaptain)
		}

		var outcome challenges.Outcome
		switch action {
		case challengeAccept:
			outcome, err = e.challenges.Accept(ctx, squareID, challenge.ID)
		case challengeReject:
			outcome, err = e.challenges.Reject(ctx, squareID, challenge.ID)
		default:
			outcome, err = e.challenges.Cancel(ctx, squareID, challenge.ID)
		}
		if err != nil {
			return err
		}
		result = ChallengeResult{Challenges: outcome.Challenges, Challenge: outcome.Challenge, Applied: outcome.Applied}
		if action == challengeAccept && outcome.Applied {
			progress, err := e.progress(ctx, squareID, user, xp.ActionChallengeAccept, map[string]string{challenges.MetaChallengeID: challenge.ID})
			if err != nil {
				return err
			}
			result.Progress = progress
		}
		return nil
	})
	if err != nil {
		return ChallengeResult{}, err
	}
	return result, nil
}

func (e *Engine) award(ctx context.Context, squareID square.ID, user square.User, kind xp.ActionKind, meta map[string]string) (Progress, error) {
	var result Progress
	err := e.store.InSquare(ctx, squareID, func(ctx context.Context, _ *gorm.DB) error {
		progress, err := e.progress(ctx, squareID, user, kind, meta)
		if err != nil {
			return err
		}
		result = progress
		return nil
	})
	if err != nil {
		return Progress{}, err
	}
	return result, nil
}

func requireUser(operation string, user square.User) error {
	if !user.Valid() {
		return square.NewServiceError(operation, "identity_required", square.ErrIdentityRequired)
	}
	return nil
}
