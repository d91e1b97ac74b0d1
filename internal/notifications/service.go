package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew = "notifications.service.new"
	opPush       = "notifications.push"
	opList       = "notifications.list"
	opClear      = "notifications.clear"

	querySquare = "square_id = ?"
	orderNewest = "seq DESC"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingTitle      = errors.New("notification title is required")
)

// Broadcaster receives every committed event, e.g. to feed live streams.
type Broadcaster interface {
	Broadcast(ctx context.Context, event Event)
}

// ServiceConfig describes the dependencies of the fan-out.
type ServiceConfig struct {
	Store        *square.Store
	Clock        square.Clock
	IDProvider   square.IDProvider
	Logger       *zap.Logger
	Capacity     int
	Broadcasters []Broadcaster
}

// Service keeps a bounded, newest-first event log per square.
type Service struct {
	store        *square.Store
	clock        square.Clock
	idProvider   square.IDProvider
	logger       *zap.Logger
	capacity     int
	broadcasters []Broadcaster
}

// NewService validates the configuration and constructs the fan-out.
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
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Service{
		store:        cfg.Store,
		clock:        clock,
		idProvider:   cfg.IDProvider,
		logger:       logger,
		capacity:     capacity,
		broadcasters: append([]Broadcaster(nil), cfg.Broadcasters...),
	}, nil
}

// Push prepends an event and drops everything beyond the newest Capacity entries.
func (s *Service) Push(ctx context.Context, squareID square.ID, draft Draft) (Event, error) {
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return Event{}, square.NewServiceError(opPush, "missing_title", errors.Join(square.ErrInvalidInput, errMissingTitle))
	}
	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPush, "id_generation_failed", err, zap.String("square_id", squareID.String()))
		return Event{}, square.NewServiceError(opPush, "id_generation_failed", err)
	}
	meta := Meta{}
	for key, value := range draft.Meta {
		meta[key] = value
	}
	event := Event{
		ID:       eventID,
		SquareID: squareID.String(),
		Kind:     normalizeKind(draft.Kind),
		Title:    title,
		Text:     strings.TrimSpace(draft.Text),
		Meta:     datatypes.NewJSONType(meta),
		At:       s.clock().UTC(),
	}

	err = s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			s.logError(opPush, "insert_failed", err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opPush, "insert_failed", err)
		}
		var boundary []int64
		if err := tx.Model(&Event{}).
			Where(querySquare, squareID.String()).
			Order(orderNewest).
			Offset(s.capacity).
			Limit(1).
			Pluck("seq", &boundary).Error; err != nil {
			s.logError(opPush, "evict_lookup_failed", err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opPush, "evict_lookup_failed", err)
		}
		if len(boundary) > 0 {
			if err := tx.Where(querySquare+" AND seq <= ?", squareID.String(), boundary[0]).
				Delete(&Event{}).Error; err != nil {
				s.logError(opPush, "evict_failed", err, zap.String("square_id", squareID.String()))
				return square.NewServiceError(opPush, "evict_failed", err)
			}
		}
		square.AfterCommit(ctx, func() {
			s.broadcast(context.WithoutCancel(ctx), event)
		})
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return event, nil
}

// List returns the square's events, newest first.
func (s *Service) List(ctx context.Context, squareID square.ID) ([]Event, error) {
	var events []Event
	err := s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Where(querySquare, squareID.String()).
			Order(orderNewest).
			Limit(s.capacity).
			Find(&events).Error; err != nil {
			s.logError(opList, "query_failed", err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opList, "query_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Clear empties the square's log unconditionally.
func (s *Service) Clear(ctx context.Context, squareID square.ID) error {
	return s.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Where(querySquare, squareID.String()).Delete(&Event{}).Error; err != nil {
			s.logError(opClear, "delete_failed", err, zap.String("square_id", squareID.String()))
			return square.NewServiceError(opClear, "delete_failed", err)
		}
		return nil
	})
}

func (s *Service) broadcast(ctx context.Context, event Event) {
	for _, broadcaster := range s.broadcasters {
		broadcaster.Broadcast(ctx, event)
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
	s.logger.Error("notifications service error", attrs...)
}
