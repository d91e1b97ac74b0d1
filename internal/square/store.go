package square

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opInSquare = "square.in_square"

var (
	errMissingDatabase = errors.New("database handle is required")
	errCrossSquare     = errors.New("nested operation targets a different square")
)

// StoreConfig describes the dependencies of the per-square store.
type StoreConfig struct {
	Database         *gorm.DB
	OperationTimeout time.Duration
	Logger           *zap.Logger
}

// Store partitions all ledgers by square. Operations on one square are serialized and run inside a
// single transaction; operations on different squares only share the underlying connection pool.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
	locks   *keyedMutex
	logger  *zap.Logger
}

type sessionContextKey struct{}

type session struct {
	squareID    ID
	tx          *gorm.DB
	afterCommit []func()
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, NewServiceError("square.store.new", "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      cfg.Database,
		timeout: cfg.OperationTimeout,
		locks:   newKeyedMutex(),
		logger:  logger,
	}, nil
}

// InSquare runs fn holding the square's lock inside one transaction. A call made from within fn for the
// same square reuses the open transaction instead of locking again.
func (s *Store) InSquare(ctx context.Context, squareID ID, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if squareID == "" {
		return NewServiceError(opInSquare, "invalid_square_id", ErrInvalidSquareID)
	}
	if current, ok := ctx.Value(sessionContextKey{}).(*session); ok {
		if current.squareID != squareID {
			return NewServiceError(opInSquare, "cross_square", errCrossSquare)
		}
		return fn(ctx, current.tx)
	}
	if s == nil || s.db == nil {
		return NewServiceError(opInSquare, "missing_database", errMissingDatabase)
	}

	hooks, err := s.runLocked(ctx, squareID, fn)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

// AfterCommit defers hook until the transaction carried by ctx commits and the square lock is
// released. Outside of InSquare the hook runs immediately.
func AfterCommit(ctx context.Context, hook func()) {
	if current, ok := ctx.Value(sessionContextKey{}).(*session); ok {
		current.afterCommit = append(current.afterCommit, hook)
		return
	}
	hook()
}

func (s *Store) runLocked(ctx context.Context, squareID ID, fn func(ctx context.Context, tx *gorm.DB) error) ([]func(), error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	unlock, err := s.locks.Lock(ctx, squareID)
	if err != nil {
		return nil, s.unavailable(squareID, "lock_timeout", err)
	}
	defer unlock()

	current := &session{squareID: squareID}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current.tx = tx
		return fn(context.WithValue(ctx, sessionContextKey{}, current), tx)
	})
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return nil, s.unavailable(squareID, "timeout", err)
	}
	if err != nil {
		return nil, err
	}
	return current.afterCommit, nil
}

func (s *Store) unavailable(squareID ID, reason string, err error) error {
	s.logger.Warn("square operation timed out",
		zap.String("square_id", squareID.String()),
		zap.String("reason", reason),
		zap.Duration("timeout", s.timeout),
		zap.Error(err))
	return NewServiceError(opInSquare, reason, fmt.Errorf("%w: %w", ErrUnavailable, err))
}

// Database exposes the root handle for maintenance work that spans squares.
func (s *Store) Database() *gorm.DB {
	return s.db
}
