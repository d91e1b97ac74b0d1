package achievements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opEvaluatorNew      = "achievements.evaluator.new"
	opUnlockedFor       = "achievements.unlocked_for"
	opEvaluateAndUnlock = "achievements.evaluate_and_unlock"
	queryUser           = "square_id = ? AND user_id = ?"
)

var (
	errMissingStore = errors.New("store is required")
	errMissingProbe = errors.New("probe is required")
)

// EvaluatorConfig describes the evaluator dependencies. Catalog defaults to DefaultCatalog.
type EvaluatorConfig struct {
	Store   *square.Store
	Probe   Probe
	Catalog Catalog
	Clock   square.Clock
	Logger  *zap.Logger
}

// Evaluator unlocks catalog achievements against live ledger state.
type Evaluator struct {
	store   *square.Store
	probe   Probe
	catalog Catalog
	clock   square.Clock
	logger  *zap.Logger
}

// NewEvaluator validates the configuration and constructs an Evaluator.
func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if cfg.Store == nil {
		return nil, square.NewServiceError(opEvaluatorNew, "missing_store", errMissingStore)
	}
	if cfg.Probe == nil {
		return nil, square.NewServiceError(opEvaluatorNew, "missing_probe", errMissingProbe)
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		store:   cfg.Store,
		probe:   cfg.Probe,
		catalog: append(Catalog(nil), catalog...),
		clock:   clock,
		logger:  logger,
	}, nil
}

// Catalog returns the evaluated definitions in declaration order.
func (e *Evaluator) Catalog() Catalog {
	return append(Catalog(nil), e.catalog...)
}

// UnlockedFor returns the user's unlocks in catalog order. Unlocks whose definition left the
// catalog are omitted.
func (e *Evaluator) UnlockedFor(ctx context.Context, squareID square.ID, userID square.UserID) ([]Unlocked, error) {
	var unlocked []Unlocked
	err := e.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		rows, err := loadUnlocks(tx, squareID, userID)
		if err != nil {
			e.logError(opUnlockedFor, "query_failed", err, squareID, userID)
			return square.NewServiceError(opUnlockedFor, "query_failed", err)
		}
		unlocked = make([]Unlocked, 0, len(rows))
		for _, definition := range e.catalog {
			if at, ok := rows[definition.ID]; ok {
				unlocked = append(unlocked, Unlocked{Definition: definition, UnlockedAt: at})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unlocked, nil
}

// EvaluateAndUnlock checks every achievement the user does not hold yet and unlocks all that now
// qualify as one batch. A failing predicate counts as not satisfied. The returned definitions are
// the newly unlocked ones in catalog order; callers award bonuses without re-evaluating.
func (e *Evaluator) EvaluateAndUnlock(ctx context.Context, squareID square.ID, user square.User) ([]Definition, error) {
	if !user.Valid() {
		return nil, square.NewServiceError(opEvaluateAndUnlock, "identity_required", square.ErrIdentityRequired)
	}
	var newlyUnlocked []Definition
	err := e.store.InSquare(ctx, squareID, func(ctx context.Context, tx *gorm.DB) error {
		held, err := loadUnlocks(tx, squareID, user.ID)
		if err != nil {
			e.logError(opEvaluateAndUnlock, "query_failed", err, squareID, user.ID)
			return square.NewServiceError(opEvaluateAndUnlock, "query_failed", err)
		}

		for _, definition := range e.catalog {
			if _, ok := held[definition.ID]; ok {
				continue
			}
			satisfied, err := e.evaluate(ctx, definition, squareID, user.ID)
			if err != nil {
				e.logger.Warn("achievement predicate failed",
					zap.String("achievement_id", definition.ID),
					zap.String("square_id", squareID.String()),
					zap.String("user_id", user.ID.String()),
					zap.Error(err))
				continue
			}
			if satisfied {
				newlyUnlocked = append(newlyUnlocked, definition)
			}
		}
		if len(newlyUnlocked) == 0 {
			return nil
		}

		unlockedAt := e.clock().UTC()
		rows := make([]Unlock, 0, len(newlyUnlocked))
		for _, definition := range newlyUnlocked {
			rows = append(rows, Unlock{
				SquareID:      squareID.String(),
				UserID:        user.ID.String(),
				AchievementID: definition.ID,
				UnlockedAt:    unlockedAt,
			})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			e.logError(opEvaluateAndUnlock, "insert_failed", err, squareID, user.ID)
			return square.NewServiceError(opEvaluateAndUnlock, "insert_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newlyUnlocked, nil
}

func (e *Evaluator) evaluate(ctx context.Context, definition Definition, squareID square.ID, userID square.UserID) (satisfied bool, err error) {
	if definition.Predicate == nil {
		return false, fmt.Errorf("achievement %s has no predicate", definition.ID)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			satisfied = false
			err = fmt.Errorf("achievement %s predicate panicked: %v", definition.ID, recovered)
		}
	}()
	return definition.Predicate(ctx, e.probe, squareID, userID)
}

func loadUnlocks(tx *gorm.DB, squareID square.ID, userID square.UserID) (map[string]time.Time, error) {
	var rows []Unlock
	if err := tx.Where(queryUser, squareID.String(), userID.String()).Find(&rows).Error; err != nil {
		return nil, err
	}
	held := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		held[row.AchievementID] = row.UnlockedAt
	}
	return held, nil
}

func (e *Evaluator) logError(operation, reason string, err error, squareID square.ID, userID square.UserID) {
	e.logger.Error("achievements evaluator error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
		zap.String("square_id", squareID.String()),
		zap.String("user_id", userID.String()))
}
