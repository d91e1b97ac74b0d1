package presence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "presence.service.new"
	opCheckIn      = "presence.check_in"
	opCheckOut     = "presence.check_out"
	opActiveRoster = "presence.active_roster"
	opIsPresent    = "presence.is_present"
	opCompact      = "presence.compact"

	queryEntry  = "square_id = ? AND user_id = ?"
	queryActive = "square_id = ? AND expires_at >= ?"
	orderRoster = "display_name ASC, user_id ASC"
)

var errMissingStore = errors.New("store is required")

// ServiceConfig describes the dependencies of the presence ledger.
type ServiceConfig struct {
	Store      *square.Store
	Clock      square.Clock
	Logger     *zap.Logger
	DefaultTTL time.Duration
}

// Service tracks who is currently at each square.
type Service struct {
	store      *square.Store
	clock      square.Clock
	logger     *zap.Logger
	defaultTTL time.Duration
}

// NewService validates the configuration and constructs the ledger.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, square.NewServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Service{
		store:      cfg.Store,
		clock:      clock,
		logger:     logger,
		defaultTTL: defaultTTL,
	}, nil
}

// CheckIn marks the user present until now+ttl, replacing any previous entry. A non-positive ttl
// uses the configured default.
func (s *Service) CheckIn(ctx context.Context, squareID square.ID, user square.User, ttl time.Duration) (CheckInResult, error) {
	if !user.Valid() {
		return CheckInResult{}, square.NewServiceError(opCheckIn, "identity_required", square.ErrIdentityRequired)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	var result CheckInResult
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		now := s.clock().UTC()
		existing, err := s.findEntry(tx, squareID, user.ID)
		if err != nil {
			s.logError(opCheckIn, "lookup_failed", err, entryFields(squareID, user.ID)...)
			return square.NewServiceError(opCheckIn, "lookup_failed", err)
		}

		entry := Entry{
			SquareID:    squareID.String(),
			UserID:      user.ID.String(),
			DisplayName: strings.TrimSpace(user.DisplayName),
			AvatarRef:   strings.TrimSpace(user.AvatarRef),
			CheckedInAt: now,
			ExpiresAt:   now.Add(ttl),
		}
		arrived := existing == nil || !existing.ActiveAt(now)
		if !arrived {
			entry.CheckedInAt = existing.CheckedInAt
		}
		if existing != nil {
			err = tx.Save(&entry).Error
		} else {
			err = tx.Create(&entry).Error
		}
		if err != nil {
			s.logError(opCheckIn, "save_failed", err, entryFields(squareID, user.ID)...)
			return square.NewServiceError(opCheckIn, "save_failed", err)
		}

		roster, err := s.activeRoster(tx, opCheckIn, squareID, now)
		if err != nil {
			return err
		}
		result = CheckInResult{Entry: entry, Roster: roster, Arrived: arrived}
		return nil
	})
	if err != nil {
		return CheckInResult{}, err
	}
	return result, nil
}

// CheckOut removes the user's entry. Checking out while absent is a no-op.
func (s *Service) CheckOut(ctx context.Context, squareID square.ID, userID square.UserID) ([]Entry, error) {
	var roster []Entry
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Where(queryEntry, squareID.String(), userID.String()).Delete(&Entry{}).Error; err != nil {
			s.logError(opCheckOut, "delete_failed", err, entryFields(squareID, userID)...)
			return square.NewServiceError(opCheckOut, "delete_failed", err)
		}
		found, err := s.activeRoster(tx, opCheckOut, squareID, s.clock().UTC())
		if err != nil {
			return err
		}
		roster = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return roster, nil
}

// ActiveRoster returns unexpired entries ordered by display name, then user id.
func (s *Service) ActiveRoster(ctx context.Context, squareID square.ID) ([]Entry, error) {
	var roster []Entry
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.activeRoster(tx, opActiveRoster, squareID, s.clock().UTC())
		if err != nil {
			return err
		}
		roster = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return roster, nil
}

// IsPresent reports whether the user has an unexpired entry.
func (s *Service) IsPresent(ctx context.Context, squareID square.ID, userID square.UserID) (bool, error) {
	var present bool
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		entry, err := s.findEntry(tx, squareID, userID)
		if err != nil {
			s.logError(opIsPresent, "lookup_failed", err, entryFields(squareID, userID)...)
			return square.NewServiceError(opIsPresent, "lookup_failed", err)
		}
		present = entry != nil && entry.ActiveAt(s.clock().UTC())
		return nil
	})
	return present, err
}

// Compact deletes expired entries across every square and returns how many were removed.
// Reads already ignore expired entries, so compaction only reclaims space.
func (s *Service) Compact(ctx context.Context) (int64, error) {
	result := s.store.Database().WithContext(ctx).Where("expires_at < ?", s.clock().UTC()).Delete(&Entry{})
	if result.Error != nil {
		s.logError(opCompact, "delete_failed", result.Error)
		return 0, square.NewServiceError(opCompact, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) activeRoster(tx *gorm.DB, operation string, squareID square.ID, now time.Time) ([]Entry, error) {
	roster := []Entry{}
	if err := tx.Where(queryActive, squareID.String(), now).Order(orderRoster).Find(&roster).Error; err != nil {
		s.logError(operation, "roster_failed", err, zap.String("square_id", squareID.String()))
		return nil, square.NewServiceError(operation, "roster_failed", err)
	}
	return roster, nil
}

func (s *Service) findEntry(tx *gorm.DB, squareID square.ID, userID square.UserID) (*Entry, error) {
	var entry Entry
	err := tx.Where(queryEntry, squareID.String(), userID.String()).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func entryFields(squareID square.ID, userID square.UserID) []zap.Field {
	return []zap.Field{
		zap.String("square_id", squareID.String()),
		zap.String("user_id", userID.String()),
	}
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
	s.logger.Error("presence service error", attrs...)
}
