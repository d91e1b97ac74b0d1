package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/auth"
	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultProvider = "default"
	queryIdentity   = "provider = ? AND subject = ?"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    square.Clock
	Logger   *zap.Logger
}

// Service resolves session claims into square users and serves profile lookups.
type Service struct {
	db     *gorm.DB
	now    square.Clock
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
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
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveUser returns the acting user for the session claims. The canonical id strips any
// "provider:" prefix; a provider+subject pair seen for the first time gets a new identity row.
func (s *Service) ResolveUser(ctx context.Context, claims auth.SessionClaims) (square.User, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return square.User{}, square.NewServiceError("users.resolve", "invalid_identity", errors.Join(square.ErrIdentityRequired, ErrInvalidIdentity))
	}
	displayName := normalize(claims.UserDisplayName)
	avatarRef := normalize(claims.UserAvatarURL)

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		user, ok := cached.(square.User)
		if ok && (displayName == "" || displayName == user.DisplayName) && (avatarRef == "" || avatarRef == user.AvatarRef) {
			return user, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where(queryIdentity, provider, subject).First(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: displayName,
			AvatarRef:   avatarRef,
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			s.logger.Error("identity insert failed", zap.String("provider", provider), zap.Error(err))
			return square.User{}, square.NewServiceError("users.resolve", "insert_failed", err)
		}
	case err != nil:
		s.logger.Error("identity lookup failed", zap.String("provider", provider), zap.Error(err))
		return square.User{}, square.NewServiceError("users.resolve", "lookup_failed", err)
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if displayName != "" && displayName != identity.DisplayName {
			updates["user_display_name"] = displayName
			identity.DisplayName = displayName
		}
		if avatarRef != "" && avatarRef != identity.AvatarRef {
			updates["user_avatar_ref"] = avatarRef
			identity.AvatarRef = avatarRef
		}
		if err := db.Model(&Identity{}).Where(queryIdentity, provider, subject).Updates(updates).Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
		}
	}

	user := square.User{
		ID:          square.UserID(identity.UserID),
		DisplayName: identity.DisplayName,
		AvatarRef:   identity.AvatarRef,
	}
	s.cache.Store(cacheKey, user)
	return user, nil
}

// Lookup returns the most recently seen profile of userID.
func (s *Service) Lookup(ctx context.Context, userID square.UserID) (square.User, bool, error) {
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("last_seen_at DESC").
		First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return square.User{}, false, nil
	}
	if err != nil {
		s.logger.Error("identity lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		return square.User{}, false, square.NewServiceError("users.lookup", "query_failed", err)
	}
	return square.User{
		ID:          square.UserID(identity.UserID),
		DisplayName: identity.DisplayName,
		AvatarRef:   identity.AvatarRef,
	}, true, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
