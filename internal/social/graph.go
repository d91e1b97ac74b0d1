package social

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Friendship statuses as written by the friend service.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
)

const queryPair = "((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)) AND status = ?"

var errMissingDatabase = errors.New("database handle is required")

// Friendship is one directed friend request. Rows are owned by an external service and only read here.
type Friendship struct {
	RequesterID string `gorm:"column:requester_id;primaryKey;size:190"`
	AddresseeID string `gorm:"column:addressee_id;primaryKey;size:190"`
	Status      string `gorm:"column:status;size:16;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Friendship) TableName() string {
	return "friendships"
}

// Graph answers friendship questions for profile rendering.
type Graph struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGraph constructs a read-only oracle over the friendships table.
func NewGraph(db *gorm.DB, logger *zap.Logger) (*Graph, error) {
	if db == nil {
		return nil, square.NewServiceError("social.graph.new", "missing_database", errMissingDatabase)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{db: db, logger: logger}, nil
}

// AreFriends reports whether either user accepted the other's request.
func (g *Graph) AreFriends(ctx context.Context, a, b square.UserID) (bool, error) {
	return g.exists(ctx, "social.are_friends", a, b, StatusAccepted)
}

// HasPendingRequest reports whether a request between the users awaits an answer, in either direction.
func (g *Graph) HasPendingRequest(ctx context.Context, a, b square.UserID) (bool, error) {
	return g.exists(ctx, "social.has_pending_request", a, b, StatusPending)
}

func (g *Graph) exists(ctx context.Context, operation string, a, b square.UserID, status string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	var count int64
	err := g.db.WithContext(ctx).Model(&Friendship{}).
		Where(queryPair, a.String(), b.String(), b.String(), a.String(), status).
		Count(&count).Error
	if err != nil {
		g.logger.Error("social graph error",
			zap.String("operation", operation),
			zap.String("reason", "query_failed"),
			zap.Error(err))
		return false, square.NewServiceError(operation, "query_failed", errors.Join(square.ErrUnavailable, err))
	}
	return count > 0, nil
}
