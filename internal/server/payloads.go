package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/achievements"
	"github.com/MarcoPoloResearchLab/squares/internal/challenges"
	"github.com/MarcoPoloResearchLab/squares/internal/engine"
	"github.com/MarcoPoloResearchLab/squares/internal/presence"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
)

type checkInRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type photoRequest struct {
	PhotoRef string `json:"photo_ref"`
}

type teamRequest struct {
	Name  string `json:"name"`
	Sport string `json:"sport"`
}

type challengeRequest struct {
	FromTeamID string `json:"from_team_id"`
	ToTeamID   string `json:"to_team_id"`
	WhenLabel  string `json:"when_label"`
	Note       string `json:"note"`
}

type achievementPayload struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

type accountPayload struct {
	UserID         string           `json:"user_id"`
	DisplayName    string           `json:"display_name"`
	AvatarRef      string           `json:"avatar_ref"`
	TotalXP        int64            `json:"total_xp"`
	Level          int64            `json:"level"`
	ActionCounters map[string]int64 `json:"action_counters"`
	UpdatedAt      *time.Time       `json:"updated_at,omitempty"`
}

type progressPayload struct {
	Applied  bool                 `json:"applied"`
	Reason   string               `json:"reason,omitempty"`
	AddedXP  int64                `json:"added_xp"`
	TotalXP  int64                `json:"total_xp"`
	Level    int64                `json:"level"`
	Unlocked []achievementPayload `json:"unlocked"`
}

type checkInResponse struct {
	Roster   []presence.Entry `json:"roster"`
	Arrived  bool             `json:"arrived"`
	Progress progressPayload  `json:"progress"`
}

type teamResponse struct {
	Team     teams.Team       `json:"team"`
	Progress *progressPayload `json:"progress,omitempty"`
}

type challengeResponse struct {
	Challenges []challenges.Challenge `json:"challenges"`
	Challenge  challenges.Challenge   `json:"challenge"`
	Applied    bool                   `json:"applied"`
	Progress   *progressPayload       `json:"progress,omitempty"`
}

type achievementsResponse struct {
	Catalog  []achievementPayload `json:"catalog"`
	Unlocked []achievementPayload `json:"unlocked"`
}

type profileResponse struct {
	UserID               string               `json:"user_id"`
	DisplayName          string               `json:"display_name"`
	AvatarRef            string               `json:"avatar_ref"`
	Account              accountPayload       `json:"account"`
	Rank                 int                  `json:"rank,omitempty"`
	Ranked               bool                 `json:"ranked"`
	Achievements         []achievementPayload `json:"achievements"`
	Present              bool                 `json:"present"`
	Teams                []teams.Team         `json:"teams"`
	Self                 bool                 `json:"self"`
	Friends              bool                 `json:"friends"`
	FriendRequestPending bool                 `json:"friend_request_pending"`
}

func newAchievementPayload(definition achievements.Definition) achievementPayload {
	return achievementPayload{
		ID:          definition.ID,
		Title:       definition.Title,
		Description: definition.Description,
		Icon:        definition.Icon,
	}
}

func newUnlockedPayloads(unlocked []achievements.Unlocked) []achievementPayload {
	payloads := make([]achievementPayload, 0, len(unlocked))
	for _, entry := range unlocked {
		payload := newAchievementPayload(entry.Definition)
		unlockedAt := entry.UnlockedAt.UTC()
		payload.UnlockedAt = &unlockedAt
		payloads = append(payloads, payload)
	}
	return payloads
}

func newAccountPayload(account xp.Account) accountPayload {
	payload := accountPayload{
		UserID:         account.UserID,
		DisplayName:    account.DisplayName,
		AvatarRef:      account.AvatarRef,
		TotalXP:        account.TotalXP,
		Level:          account.Level(),
		ActionCounters: map[string]int64{},
	}
	for kind, count := range account.ActionCounters.Data() {
		payload.ActionCounters[kind] = count
	}
	if !account.UpdatedAt.IsZero() {
		updatedAt := account.UpdatedAt.UTC()
		payload.UpdatedAt = &updatedAt
	}
	return payload
}

func newProgressPayload(progress engine.Progress) progressPayload {
	payload := progressPayload{
		Applied:  progress.Award.Applied,
		Reason:   string(progress.Award.Reason),
		AddedXP:  progress.Award.AddedXP,
		TotalXP:  progress.Account.TotalXP,
		Level:    progress.Account.Level(),
		Unlocked: make([]achievementPayload, 0, len(progress.Unlocked)),
	}
	for _, definition := range progress.Unlocked {
		payload.Unlocked = append(payload.Unlocked, newAchievementPayload(definition))
	}
	return payload
}

func newProfileResponse(profile engine.Profile) profileResponse {
	teamList := profile.Teams
	if teamList == nil {
		teamList = []teams.Team{}
	}
	return profileResponse{
		UserID:               profile.User.ID.String(),
		DisplayName:          profile.User.DisplayName,
		AvatarRef:            profile.User.AvatarRef,
		Account:              newAccountPayload(profile.Account),
		Rank:                 profile.Rank,
		Ranked:               profile.Ranked,
		Achievements:         newUnlockedPayloads(profile.Achievements),
		Present:              profile.Present,
		Teams:                teamList,
		Self:                 profile.Self,
		Friends:              profile.Friends,
		FriendRequestPending: profile.FriendRequestPending,
	}
}
