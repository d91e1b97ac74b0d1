package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/challenges"
	"github.com/MarcoPoloResearchLab/squares/internal/engine"
	"github.com/MarcoPoloResearchLab/squares/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/presence"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxLeaderboardLimit = 500

// bindJSON decodes an optional body. An empty body leaves the target zero-valued.
func (h *httpHandler) bindJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Info("request body rejected", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_json"})
		return false
	}
	return true
}

func (h *httpHandler) handleRoster(c *gin.Context) {
	roster, err := h.engine.Roster(c.Request.Context(), currentSquare(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roster": nonNilEntries(roster)})
}

func (h *httpHandler) handleCheckIn(c *gin.Context) {
	var request checkInRequest
	if !h.bindJSON(c, &request) {
		return
	}
	if request.TTLSeconds < 0 || request.TTLSeconds > int64(h.maxTTL/time.Second) {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_ttl"})
		return
	}
	ttl := time.Duration(request.TTLSeconds) * time.Second
	result, err := h.engine.CheckIn(c.Request.Context(), currentSquare(c), currentUser(c), ttl)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkInResponse{
		Roster:   nonNilEntries(result.Roster),
		Arrived:  result.Arrived,
		Progress: newProgressPayload(result.Progress),
	})
}

func (h *httpHandler) handleCheckOut(c *gin.Context) {
	roster, err := h.engine.CheckOut(c.Request.Context(), currentSquare(c), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roster": nonNilEntries(roster)})
}

func (h *httpHandler) handleChatMessage(c *gin.Context) {
	var request chatRequest
	if !h.bindJSON(c, &request) {
		return
	}
	progress, err := h.engine.RecordChatMessage(c.Request.Context(), currentSquare(c), currentUser(c), request.Text)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProgressPayload(progress))
}

func (h *httpHandler) handlePhoto(c *gin.Context) {
	var request photoRequest
	if !h.bindJSON(c, &request) {
		return
	}
	progress, err := h.engine.RecordPhoto(c.Request.Context(), currentSquare(c), currentUser(c), request.PhotoRef)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProgressPayload(progress))
}

func (h *httpHandler) handleAccount(c *gin.Context) {
	user := currentUser(c)
	account, err := h.engine.Account(c.Request.Context(), currentSquare(c), user)
	if err != nil {
		h.writeError(c, err)
		return
	}
	payload := newAccountPayload(account)
	if payload.UserID == "" {
		payload.UserID = user.ID.String()
		payload.DisplayName = user.DisplayName
		payload.AvatarRef = user.AvatarRef
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > maxLeaderboardLimit {
			c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_limit"})
			return
		}
		limit = parsed
	}
	standings, err := h.engine.Leaderboard(c.Request.Context(), currentSquare(c), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if standings == nil {
		standings = []leaderboard.Standing{}
	}
	c.JSON(http.StatusOK, gin.H{"standings": standings})
}

func (h *httpHandler) handleAchievements(c *gin.Context) {
	unlocked, err := h.engine.Achievements(c.Request.Context(), currentSquare(c), currentUser(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	catalog := h.engine.Catalog()
	response := achievementsResponse{
		Catalog:  make([]achievementPayload, 0, len(catalog)),
		Unlocked: newUnlockedPayloads(unlocked),
	}
	for _, definition := range catalog {
		response.Catalog = append(response.Catalog, newAchievementPayload(definition))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	subjectID, err := square.NewUserID(c.Param("userID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	profile, err := h.engine.Profile(c.Request.Context(), currentSquare(c), currentUser(c).ID, subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(profile))
}

func (h *httpHandler) handleListTeams(c *gin.Context) {
	teamList, err := h.engine.Teams(c.Request.Context(), currentSquare(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if teamList == nil {
		teamList = []teams.Team{}
	}
	c.JSON(http.StatusOK, gin.H{"teams": teamList})
}

func (h *httpHandler) handleCreateTeam(c *gin.Context) {
	var request teamRequest
	if !h.bindJSON(c, &request) {
		return
	}
	result, err := h.engine.CreateTeam(c.Request.Context(), currentSquare(c), currentUser(c), request.Name, request.Sport)
	if err != nil {
		h.writeError(c, err)
		return
	}
	progress := newProgressPayload(result.Progress)
	c.JSON(http.StatusCreated, teamResponse{Team: result.Team, Progress: &progress})
}

func (h *httpHandler) handleJoinTeam(c *gin.Context) {
	team, err := h.engine.JoinTeam(c.Request.Context(), currentSquare(c), currentUser(c), c.Param("teamID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, teamResponse{Team: team})
}

func (h *httpHandler) handleLeaveTeam(c *gin.Context) {
	team, err := h.engine.LeaveTeam(c.Request.Context(), currentSquare(c), currentUser(c), c.Param("teamID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, teamResponse{Team: team})
}

func (h *httpHandler) handleDeleteTeam(c *gin.Context) {
	if err := h.engine.DeleteTeam(c.Request.Context(), currentSquare(c), currentUser(c), c.Param("teamID")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListChallenges(c *gin.Context) {
	list, err := h.engine.Challenges(c.Request.Context(), currentSquare(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": nonNilChallenges(list)})
}

func (h *httpHandler) handleCreateChallenge(c *gin.Context) {
	var request challengeRequest
	if !h.bindJSON(c, &request) {
		return
	}
	result, err := h.engine.CreateChallenge(c.Request.Context(), currentSquare(c), currentUser(c), request.FromTeamID, request.ToTeamID, request.WhenLabel, request.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newChallengeResponse(result))
}

func (h *httpHandler) handleAcceptChallenge(c *gin.Context) {
	h.resolveChallenge(c, h.engine.AcceptChallenge)
}

func (h *httpHandler) handleRejectChallenge(c *gin.Context) {
	h.resolveChallenge(c, h.engine.RejectChallenge)
}

func (h *httpHandler) handleCancelChallenge(c *gin.Context) {
	h.resolveChallenge(c, h.engine.CancelChallenge)
}

type challengeTransition func(ctx context.Context, squareID square.ID, user square.User, challengeID string) (engine.ChallengeResult, error)

func (h *httpHandler) resolveChallenge(c *gin.Context, transition challengeTransition) {
	result, err := transition(c.Request.Context(), currentSquare(c), currentUser(c), c.Param("challengeID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newChallengeResponse(result))
}

func newChallengeResponse(result engine.ChallengeResult) challengeResponse {
	response := challengeResponse{
		Challenges: nonNilChallenges(result.Challenges),
		Challenge:  result.Challenge,
		Applied:    result.Applied,
	}
	if result.Progress.Award.Applied || len(result.Progress.Unlocked) > 0 || result.Progress.Award.Reason != "" {
		progress := newProgressPayload(result.Progress)
		response.Progress = &progress
	}
	return response
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	events, err := h.engine.Notifications(c.Request.Context(), currentSquare(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if events == nil {
		events = []notifications.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": events})
}

func (h *httpHandler) handleClearNotifications(c *gin.Context) {
	if err := h.engine.ClearNotifications(c.Request.Context(), currentSquare(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func nonNilEntries(entries []presence.Entry) []presence.Entry {
	if entries == nil {
		return []presence.Entry{}
	}
	return entries
}

func nonNilChallenges(list []challenges.Challenge) []challenges.Challenge {
	if list == nil {
		return []challenges.Challenge{}
	}
	return list
}
