package square

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustStore(t *testing.T, timeout time.Duration) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: db, OperationTimeout: timeout})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestNewStoreRequiresDatabase(t *testing.T) {
	_, err := NewStore(StoreConfig{})
	if err == nil {
		t.Fatalf("expected error for missing database")
	}
	if ErrorCode(err) != "square.store.new.missing_database" {
		t.Fatalf("unexpected error code %q", ErrorCode(err))
	}
}

func TestInSquareReusesSessionForNestedCalls(t *testing.T) {
	store := mustStore(t, 0)

	var outerTx, innerTx *gorm.DB
	err := store.InSquare(context.Background(), ID("court-1"), func(ctx context.Context, tx *gorm.DB) error {
		outerTx = tx
		return store.InSquare(ctx, ID("court-1"), func(_ context.Context, nested *gorm.DB) error {
			innerTx = nested
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outerTx == nil || outerTx != innerTx {
		t.Fatalf("expected nested call to reuse the outer transaction")
	}
}

func TestInSquareRejectsNestedCrossSquareCalls(t *testing.T) {
	store := mustStore(t, 0)

	err := store.InSquare(context.Background(), ID("court-1"), func(ctx context.Context, _ *gorm.DB) error {
		return store.InSquare(ctx, ID("court-2"), func(context.Context, *gorm.DB) error { return nil })
	})
	if ErrorCode(err) != "square.in_square.cross_square" {
		t.Fatalf("expected cross square error, got %v", err)
	}
}

func TestInSquareRejectsEmptySquare(t *testing.T) {
	store := mustStore(t, 0)
	err := store.InSquare(context.Background(), ID(""), func(context.Context, *gorm.DB) error { return nil })
	if !errors.Is(err, ErrInvalidSquareID) {
		t.Fatalf("expected invalid square id, got %v", err)
	}
}

func TestInSquarePropagatesCallbackErrors(t *testing.T) {
	store := mustStore(t, 0)
	err := store.InSquare(context.Background(), ID("court-1"), func(context.Context, *gorm.DB) error {
		return NewServiceError("test.op", "not_captain", ErrNotCaptain)
	})
	if !errors.Is(err, ErrNotCaptain) {
		t.Fatalf("expected not captain error, got %v", err)
	}
}

func TestInSquareSurfacesTimeoutAsUnavailable(t *testing.T) {
	store := mustStore(t, 10*time.Millisecond)
	err := store.InSquare(context.Background(), ID("court-1"), func(ctx context.Context, _ *gorm.DB) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestKeyedMutexSerializesSameSquare(t *testing.T) {
	locks := newKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), ID("court-1"))
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			current := atomic.AddInt32(&active, 1)
			for {
				seen := atomic.LoadInt32(&maxActive)
				if current <= seen || atomic.CompareAndSwapInt32(&maxActive, seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("expected serialized access, saw %d concurrent holders", maxActive)
	}
	if locks.size() != 0 {
		t.Fatalf("expected lock entries to be released, got %d", locks.size())
	}
}

func TestKeyedMutexDoesNotBlockOtherSquares(t *testing.T) {
	locks := newKeyedMutex()
	unlock, err := locks.Lock(context.Background(), ID("court-1"))
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	defer unlock()

	done := make(chan struct{})
	go func() {
		release, err := locks.Lock(context.Background(), ID("court-2"))
		if err == nil {
			release()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a different square to acquire its lock")
	}
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	locks := newKeyedMutex()
	unlock, err := locks.Lock(context.Background(), ID("court-1"))
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, ID("court-1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while the square is held, got %v", err)
	}
	unlock()
	if locks.size() != 0 {
		t.Fatalf("expected abandoned waiters to be released, got %d entries", locks.size())
	}
}

func TestInSquareLockWaitTimesOut(t *testing.T) {
	store := mustStore(t, 50*time.Millisecond)
	unlock, err := store.locks.Lock(context.Background(), ID("court-1"))
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	defer unlock()

	err = store.InSquare(context.Background(), ID("court-1"), func(context.Context, *gorm.DB) error {
		t.Fatalf("fn must not run without the lock")
		return nil
	})
	if !errors.Is(err, ErrUnavailable) || ErrorCode(err) != "square.in_square.lock_timeout" {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestAfterCommitRunsOnlyOnCommit(t *testing.T) {
	store := mustStore(t, 0)

	committed := 0
	err := store.InSquare(context.Background(), ID("court-1"), func(ctx context.Context, _ *gorm.DB) error {
		AfterCommit(ctx, func() { committed++ })
		if committed != 0 {
			t.Fatalf("hook ran before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if committed != 1 {
		t.Fatalf("expected hook to run once after commit, got %d", committed)
	}

	rolledBack := 0
	_ = store.InSquare(context.Background(), ID("court-1"), func(ctx context.Context, _ *gorm.DB) error {
		AfterCommit(ctx, func() { rolledBack++ })
		return ErrInvalidInput
	})
	if rolledBack != 0 {
		t.Fatalf("expected hook to be dropped on rollback")
	}
}

func TestAfterCommitOutsideSessionRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Fatalf("expected hook to run immediately")
	}
}
