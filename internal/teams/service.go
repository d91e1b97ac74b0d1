package teams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "teams.service.new"
	opCreate     = "teams.create"
	opGet        = "teams.get"
	opList       = "teams.list"
	opJoin       = "teams.join"
	opLeave      = "teams.leave"
	opDelete     = "teams.delete"

	querySquare     = "square_id = ?"
	queryTeam       = "square_id = ? AND team_id = ?"
	queryMembership = "team_id = ? AND user_id = ?"
	orderCreated    = "created_at ASC, team_id ASC"
	orderJoined     = "team_members.joined_at ASC, team_members.user_id ASC"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceConfig describes the dependencies of the team directory.
type ServiceConfig struct {
	Store      *square.Store
	Clock      square.Clock
	IDProvider square.IDProvider
	Logger     *zap.Logger
}

// Service manages the teams of every square.
type Service struct {
	store      *square.Store
	clock      square.Clock
	idProvider square.IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, square.NewServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, square.NewServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create registers a team captained by creator, who also becomes its first member.
func (s *Service) Create(ctx context.Context, squareID square.ID, creator square.User, name, sport string) (Team, error) {
	if !creator.Valid() {
		return Team{}, square.NewServiceError(opCreate, "identity_required", square.ErrIdentityRequired)
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return Team{}, square.NewServiceError(opCreate, "invalid_name",
			fmt.Errorf("%w: team name must be 1-%d characters", square.ErrInvalidInput, maxNameLength))
	}
	sport = strings.TrimSpace(sport)
	if utf8.RuneCountInString(sport) > maxSportLength {
		return Team{}, square.NewServiceError(opCreate, "invalid_sport",
			fmt.Errorf("%w: sport must be at most %d characters", square.ErrInvalidInput, maxSportLength))
	}
	teamID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("square_id", squareID.String()))
		return Team{}, square.NewServiceError(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	teamSlug := slug.Make(name)
	if teamSlug == "" {
		teamSlug = teamID
	}
	team := Team{
		ID:            teamID,
		SquareID:      squareID.String(),
		Name:          name,
		Slug:          teamSlug,
		Sport:         sport,
		CaptainUserID: creator.ID.String(),
		CreatedAt:     now,
	}
	captain := Member{TeamID: teamID, UserID: creator.ID.String(), SquareID: squareID.String(), JoinedAt: now}

	err = s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&team).Error; err != nil {
			s.logError(opCreate, "insert_failed", err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opCreate, "insert_failed", err)
		}
		if err := tx.Create(&captain).Error; err != nil {
			s.logError(opCreate, "member_insert_failed", err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opCreate, "member_insert_failed", err)
		}
		return nil
	})
	if err != nil {
		return Team{}, err
	}
	team.Members = []Member{captain}
	return team, nil
}

// Get returns one team with its members.
func (s *Service) Get(ctx context.Context, squareID square.ID, teamID string) (Team, error) {
	var team Team
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.findTeam(tx, opGet, squareID, teamID)
		if err != nil {
			return err
		}
		team = found
		return nil
	})
	return team, err
}

// List returns the square's teams in creation order.
func (s *Service) List(ctx context.Context, squareID square.ID) ([]Team, error) {
	var teams []Team
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		if err := preloadMembers(tx).Where(querySquare, squareID.String()).Order(orderCreated).Find(&teams).Error; err != nil {
			s.logError(opList, "query_failed", err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opList, "query_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return teams, nil
}

// Join adds the user to the team. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, squareID square.ID, teamID string, user square.User) (Team, error) {
	if !user.Valid() {
		return Team{}, square.NewServiceError(opJoin, "identity_required", square.ErrIdentityRequired)
	}
	var team Team
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.findTeam(tx, opJoin, squareID, teamID)
		if err != nil {
			return err
		}
		if !found.HasMember(user.ID.String()) {
			member := Member{TeamID: found.ID, UserID: user.ID.String(), SquareID: squareID.String(), JoinedAt: s.clock().UTC()}
			if err := tx.Create(&member).Error; err != nil {
				s.logError(opJoin, "member_insert_failed", err, zap.String("square_id", squareID.String()), zap.String("team_id", teamID))
				return square.NewServiceError(opJoin, "member_insert_failed", err)
			}
			found.Members = append(found.Members, member)
		}
		team = found
		return nil
	})
	return team, err
}

// Leave removes the user from the team. The captain cannot leave and non-members are ignored.
// A team left without members is deleted; the returned team then has no members.
func (s *Service) Leave(ctx context.Context, squareID square.ID, teamID string, userID square.UserID) (Team, error) {
	var team Team
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.findTeam(tx, opLeave, squareID, teamID)
		if err != nil {
			return err
		}
		team = found
		if found.IsCaptain(userID.String()) || !found.HasMember(userID.String()) {
			return nil
		}
		if err := tx.Where(queryMembership, found.ID, userID.String()).Delete(&Member{}).Error; err != nil {
			s.logError(opLeave, "member_delete_failed", err, zap.String("square_id", squareID.String()), zap.String("team_id", teamID))
			return square.NewServiceError(opLeave, "member_delete_failed", err)
		}
		remaining := make([]Member, 0, len(found.Members))
		for _, member := range found.Members {
			if member.UserID != userID.String() {
				remaining = append(remaining, member)
			}
		}
		team.Members = remaining
		if len(remaining) == 0 {
			return s.deleteTeam(tx, opLeave, squareID, found.ID)
		}
		return nil
	})
	return team, err
}

// Delete removes the team. Only its captain may do so.
func (s *Service) Delete(ctx context.Context, squareID square.ID, teamID string, actor square.UserID) error {
	return s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.findTeam(tx, opDelete, squareID, teamID)
		if err != nil {
			return err
		}
		if !found.IsCaptain(actor.String()) {
			return square.NewServiceError(opDelete, "not_captain", square.ErrNotCaptain)
		}
		return s.deleteTeam(tx, opDelete, squareID, found.ID)
	})
}

func (s *Service) findTeam(tx *gorm.DB, operation string, squareID square.ID, teamID string) (Team, error) {
	var team Team
	err := preloadMembers(tx).Where(queryTeam, squareID.String(), strings.TrimSpace(teamID)).Take(&team).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Team{}, square.NewServiceError(operation, "team_not_found", square.ErrNotFound)
		}
		s.logError(operation, "query_failed", err, zap.String("square_id", squareID.String()), zap.String("team_id", teamID))
		return Team{}, square.NewServiceError(operation, "query_failed", err)
	}
	return team, nil
}

func (s *Service) deleteTeam(tx *gorm.DB, operation string, squareID square.ID, teamID string) error {
	if err := tx.Where("team_id = ?", teamID).Delete(&Member{}).Error; err != nil {
		s.logError(operation, "member_delete_failed", err, zap.String("square_id", squareID.String()), zap.String("team_id", teamID))
		return square.NewServiceError(operation, "member_delete_failed", err)
	}
	if err := tx.Where(queryTeam, squareID.String(), teamID).Delete(&Team{}).Error; err != nil {
		s.logError(operation, "delete_failed", err, zap.String("square_id", squareID.String()), zap.String("team_id", teamID))
		return square.NewServiceError(operation, "delete_failed", err)
	}
	return nil
}

func preloadMembers(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Members", func(db *gorm.DB) *gorm.DB {
		return db.Order(orderJoined)
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("teams service error", attrs...)
}
