package achievements

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const testSquare = square.ID("square-a")

type stubProbe struct {
	mu       sync.Mutex
	counters map[square.UserID]map[xp.ActionKind]int64
	ranks    map[square.UserID]int
	err      error
}

func newStubProbe() *stubProbe {
	return &stubProbe{
		counters: map[square.UserID]map[xp.ActionKind]int64{},
		ranks:    map[square.UserID]int{},
	}
}

func (p *stubProbe) set(userID square.UserID, kind xp.ActionKind, value int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counters[userID] == nil {
		p.counters[userID] = map[xp.ActionKind]int64{}
	}
	p.counters[userID][kind] = value
}

func (p *stubProbe) ActionCounters(_ context.Context, _ square.ID, userID square.UserID) (map[xp.ActionKind]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	counters := map[xp.ActionKind]int64{}
	for kind, value := range p.counters[userID] {
		counters[kind] = value
	}
	return counters, nil
}

func (p *stubProbe) RankOf(_ context.Context, _ square.ID, userID square.UserID) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rank, ok := p.ranks[userID]
	return rank, ok, nil
}

func mustEvaluator(t *testing.T, probe Probe, catalog Catalog, clock square.Clock, logger *zap.Logger) *Evaluator {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "achievements.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Unlock{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := square.NewStore(square.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	evaluator, err := NewEvaluator(EvaluatorConfig{Store: store, Probe: probe, Catalog: catalog, Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	return evaluator
}

func fixedClock(value time.Time) square.Clock {
	return func() time.Time { return value }
}

func definitionIDs(definitions []Definition) []string {
	ids := make([]string, 0, len(definitions))
	for _, definition := range definitions {
		ids = append(ids, definition.ID)
	}
	return ids
}

func equalIDs(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}

func TestDefaultCatalogOrder(t *testing.T) {
	want := []string{"first_checkin", "regular_10", "chatter_25", "first_photo", "team_founder", "first_challenge", "challenger_3", "top_10"}
	if got := definitionIDs(DefaultCatalog()); !equalIDs(got, want) {
		t.Fatalf("unexpected catalog order %v", got)
	}
}

func TestCatalogOnlyKeepsDeclarationOrder(t *testing.T) {
	subset := DefaultCatalog().Only("top_10", "first_checkin", "missing")
	if got := definitionIDs(subset); !equalIDs(got, []string{"first_checkin", "top_10"}) {
		t.Fatalf("unexpected subset %v", got)
	}
	if _, ok := subset.Lookup("regular_10"); ok {
		t.Fatalf("expected regular_10 to be excluded")
	}
}

func TestNewEvaluatorValidatesConfig(t *testing.T) {
	if _, err := NewEvaluator(EvaluatorConfig{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestEvaluateUnlocksOnThreshold(t *testing.T) {
	probe := newStubProbe()
	evaluator := mustEvaluator(t, probe, DefaultCatalog().Only("regular_10"), nil, nil)
	user := square.User{ID: "u1", DisplayName: "One"}

	probe.set(user.ID, xp.ActionCheckIn, 9)
	unlocked, err := evaluator.EvaluateAndUnlock(context.Background(), testSquare, user)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(unlocked) != 0 {
		t.Fatalf("expected nothing at 9 check-ins, got %v", definitionIDs(unlocked))
	}

	probe.set(user.ID, xp.ActionCheckIn, 10)
	unlocked, err = evaluator.EvaluateAndUnlock(context.Background(), testSquare, user)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if got := definitionIDs(unlocked); !equalIDs(got, []string{"regular_10"}) {
		t.Fatalf("expected regular_10, got %v", got)
	}

	unlocked, err = evaluator.EvaluateAndUnlock(context.Background(), testSquare, user)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(unlocked) != 0 {
		t.Fatalf("expected no re-unlock, got %v", definitionIDs(unlocked))
	}
}

func TestUnlocksAreMonotone(t *testing.T) {
	probe := newStubProbe()
	evaluator := mustEvaluator(t, probe, DefaultCatalog(), nil, nil)
	user := square.User{ID: "u1"}

	probe.ranks[user.ID] = 3
	if _, err := evaluator.EvaluateAndUnlock(context.Background(), testSquare, user); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	probe.ranks[user.ID] = 40
	if _, err := evaluator.EvaluateAndUnlock(context.Background(), testSquare, user); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	unlocked, err := evaluator.UnlockedFor(context.Background(), testSquare, user.ID)
	if err != nil {
		t.Fatalf("unlocked for failed: %v", err)
	}
	if len(unlocked) != 1 || unlocked[0].Definition.ID != "top_10" {
		t.Fatalf("expected top_10 to stay unlocked, got %+v", unlocked)
	}
}

func TestBatchSharesTimestampAndOrder(t *testing.T) {
	probe := newStubProbe()
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	evaluator := mustEvaluator(t, probe, DefaultCatalog(), fixedClock(at), nil)
	user := square.User{ID: "u1"}

	probe.set(user.ID, xp.ActionPhotoPost, 1)
	probe.set(user.ID, xp.ActionCheckIn, 12)
	probe.ranks[user.ID] = 1

	unlocked, err := evaluator.EvaluateAndUnlock(context.Background(), testSquare, user)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	want := []string{"first_checkin", "regular_10", "first_photo", "top_10"}
	if got := definitionIDs(unlocked); !equalIDs(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	persisted, err := evaluator.UnlockedFor(context.Background(), testSquare, user.ID)
	if err != nil {
		t.Fatalf("unlocked for failed: %v", err)
	}
	if len(persisted) != len(want) {
		t.Fatalf("expected %d persisted unlocks, got %d", len(want), len(persisted))
	}
	for _, entry := range persisted {
		if !entry.UnlockedAt.Equal(at) {
			t.Fatalf("expected shared timestamp %v, got %v for %s", at, entry.UnlockedAt, entry.Definition.ID)
		}
	}
}

func TestUnlocksAreScopedPerSquare(t *testing.T) {
	probe := newStubProbe()
	evaluator := mustEvaluator(t, probe, DefaultCatalog().Only("first_checkin"), nil, nil)
	user := square.User{ID: "u1"}
	probe.set(user.ID, xp.ActionCheckIn, 1)

	if _, err := evaluator.EvaluateAndUnlock(context.Background(), testSquare, user); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	other, err := evaluator.UnlockedFor(context.Background(), square.ID("square-b"), user.ID)
	if err != nil {
		t.Fatalf("unlocked for failed: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no unlocks in another square, got %+v", other)
	}
}

func TestPredicateErrorCountsAsFalse(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	probe := newStubProbe()
	probe.err = errors.New("ledger offline")
	panicking := Definition{ID: "panics", Predicate: func(context.Context, Probe, square.ID, square.UserID) (bool, error) {
		panic("boom")
	}}
	always := Definition{ID: "always", Predicate: func(context.Context, Probe, square.ID, square.UserID) (bool, error) {
		return true, nil
	}}
	catalog := append(DefaultCatalog().Only("first_checkin"), panicking, Definition{ID: "nil_predicate"}, always)
	evaluator := mustEvaluator(t, probe, catalog, nil, zap.New(core))

	unlocked, err := evaluator.EvaluateAndUnlock(context.Background(), testSquare, square.User{ID: "u1"})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if got := definitionIDs(unlocked); !equalIDs(got, []string{"always"}) {
		t.Fatalf("expected only the healthy predicate to unlock, got %v", got)
	}
	if logs.FilterMessage("achievement predicate failed").Len() != 3 {
		t.Fatalf("expected three predicate warnings, got %d", logs.Len())
	}
}

func TestEvaluateRequiresIdentity(t *testing.T) {
	evaluator := mustEvaluator(t, newStubProbe(), nil, nil, nil)
	_, err := evaluator.EvaluateAndUnlock(context.Background(), testSquare, square.User{})
	if !errors.Is(err, square.ErrIdentityRequired) {
		t.Fatalf("expected identity error, got %v", err)
	}
}
