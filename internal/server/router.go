package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/auth"
	"github.com/MarcoPoloResearchLab/squares/internal/engine"
	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userContextKey   = "squares_user"
	squareContextKey = "squares_square_id"

	defaultHeartbeatInterval = 25 * time.Second
	defaultMaxCheckInTTL     = 12 * time.Hour
)

var (
	errMissingEngine   = errors.New("engine dependency required")
	errMissingSessions = errors.New("session validator dependency required")
	errMissingUsers    = errors.New("user resolver dependency required")
	errMissingStream   = errors.New("notification stream dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Engine            *engine.Engine
	Sessions          SessionValidator
	Users             UserResolver
	Stream            *notifications.Dispatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	MaxCheckInTTL     time.Duration
}

// NewHTTPHandler builds the gin router serving every square endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Stream == nil {
		return nil, errMissingStream
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	maxTTL := deps.MaxCheckInTTL
	if maxTTL <= 0 {
		maxTTL = defaultMaxCheckInTTL
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		engine:    deps.Engine,
		sessions:  deps.Sessions,
		users:     deps.Users,
		stream:    deps.Stream,
		logger:    logger,
		heartbeat: heartbeat,
		maxTTL:    maxTTL,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	squares := router.Group("/squares/:squareID")
	squares.Use(handler.authorizeRequest, handler.bindSquare)

	squares.GET("/roster", handler.handleRoster)
	squares.POST("/checkin", handler.handleCheckIn)
	squares.POST("/checkout", handler.handleCheckOut)
	squares.POST("/chat", handler.handleChatMessage)
	squares.POST("/photos", handler.handlePhoto)

	squares.GET("/account", handler.handleAccount)
	squares.GET("/leaderboard", handler.handleLeaderboard)
	squares.GET("/achievements", handler.handleAchievements)
	squares.GET("/profiles/:userID", handler.handleProfile)

	squares.GET("/teams", handler.handleListTeams)
	squares.POST("/teams", handler.handleCreateTeam)
	squares.POST("/teams/:teamID/join", handler.handleJoinTeam)
	squares.POST("/teams/:teamID/leave", handler.handleLeaveTeam)
	squares.DELETE("/teams/:teamID", handler.handleDeleteTeam)

	squares.GET("/challenges", handler.handleListChallenges)
	squares.POST("/challenges", handler.handleCreateChallenge)
	squares.POST("/challenges/:challengeID/accept", handler.handleAcceptChallenge)
	squares.POST("/challenges/:challengeID/reject", handler.handleRejectChallenge)
	squares.POST("/challenges/:challengeID/cancel", handler.handleCancelChallenge)

	squares.GET("/notifications", handler.handleListNotifications)
	squares.DELETE("/notifications", handler.handleClearNotifications)
	squares.GET("/notifications/stream", handler.handleNotificationStream)

	return router, nil
}

type httpHandler struct {
	engine    *engine.Engine
	sessions  SessionValidator
	users     UserResolver
	stream    *notifications.Dispatcher
	logger    *zap.Logger
	heartbeat time.Duration
	maxTTL    time.Duration
}

// corsMiddleware allows credentials only for an explicit origin list; the wildcard
// serves bearer and query-token clients.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	allowAll := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func (h *httpHandler) bindSquare(c *gin.Context) {
	squareID, err := square.NewID(c.Param("squareID"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_square_id"})
		return
	}
	c.Set(squareContextKey, squareID)
	c.Next()
}

func currentSquare(c *gin.Context) square.ID {
	value, _ := c.Get(squareContextKey)
	squareID, _ := value.(square.ID)
	return squareID
}

func currentUser(c *gin.Context) square.User {
	value, _ := c.Get(userContextKey)
	user, _ := value.(square.User)
	return user
}
