package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/achievements"
	"github.com/MarcoPoloResearchLab/squares/internal/auth"
	"github.com/MarcoPoloResearchLab/squares/internal/challenges"
	"github.com/MarcoPoloResearchLab/squares/internal/database"
	"github.com/MarcoPoloResearchLab/squares/internal/engine"
	"github.com/MarcoPoloResearchLab/squares/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/presence"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSquarePath = "/squares/court-7"

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSessions struct {
	tokens map[string]auth.SessionClaims
	err    error
}

func (s stubSessions) ValidateRequest(r *http.Request) (auth.SessionClaims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.SessionClaims{}, auth.ErrMissingSessionToken
	}
	return s.ValidateToken(header[len("Bearer "):])
}

func (s stubSessions) ValidateToken(token string) (auth.SessionClaims, error) {
	if s.err != nil {
		return auth.SessionClaims{}, s.err
	}
	claims, ok := s.tokens[token]
	if !ok {
		return auth.SessionClaims{}, auth.ErrInvalidSessionToken
	}
	return claims, nil
}

type stubUsers struct{}

func (stubUsers) ResolveUser(_ context.Context, claims auth.SessionClaims) (square.User, error) {
	if claims.UserID == "" {
		return square.User{}, square.NewServiceError("users.resolve", "missing_user", square.ErrIdentityRequired)
	}
	return square.User{ID: square.UserID(claims.UserID), DisplayName: claims.UserDisplayName}, nil
}

type serverFixture struct {
	handler http.Handler
	stream  *notifications.Dispatcher
}

func newServerFixture(t *testing.T, sessions SessionValidator, logger *zap.Logger) *serverFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db, nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := square.NewStore(square.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	clock := func() time.Time { return time.Date(2026, 8, 14, 17, 0, 0, 0, time.UTC) }
	ids := square.NewUUIDProvider()
	dispatcher := notifications.NewDispatcher()

	presenceService, err := presence.NewService(presence.ServiceConfig{Store: store, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create presence: %v", err)
	}
	ledger, err := xp.NewService(xp.ServiceConfig{Store: store, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	board, err := leaderboard.NewService(ledger)
	if err != nil {
		t.Fatalf("failed to create leaderboard: %v", err)
	}
	evaluator, err := achievements.NewEvaluator(achievements.EvaluatorConfig{
		Store: store,
		Probe: achievements.NewProbe(ledger, board),
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	teamService, err := teams.NewService(teams.ServiceConfig{Store: store, Clock: clock, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to create teams: %v", err)
	}
	fanout, err := notifications.NewService(notifications.ServiceConfig{
		Store:        store,
		Clock:        clock,
		IDProvider:   ids,
		Broadcasters: []notifications.Broadcaster{dispatcher},
	})
	if err != nil {
		t.Fatalf("failed to create notifications: %v", err)
	}
	workflow, err := challenges.NewWorkflow(challenges.WorkflowConfig{Store: store, Notifier: fanout, Clock: clock, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	squaresEngine, err := engine.New(engine.Config{
		Store:         store,
		Presence:      presenceService,
		Ledger:        ledger,
		Leaderboard:   board,
		Achievements:  evaluator,
		Teams:         teamService,
		Challenges:    workflow,
		Notifications: fanout,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Engine:            squaresEngine,
		Sessions:          sessions,
		Users:             stubUsers{},
		Stream:            dispatcher,
		Logger:            logger,
		AllowedOrigins:    []string{"*"},
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &serverFixture{handler: handler, stream: dispatcher}
}

func defaultSessions() stubSessions {
	return stubSessions{tokens: map[string]auth.SessionClaims{
		"token-u": {UserID: "user-u", UserDisplayName: "Uma"},
		"token-x": {UserID: "user-x", UserDisplayName: "Xavi"},
		"token-y": {UserID: "user-y", UserDisplayName: "Yara"},
	}}
}

func (f *serverFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}
