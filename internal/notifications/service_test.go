package notifications

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	"gorm.io/gorm"
)

const testSquare = square.ID("court-7")

func TestPushPrependsNewestFirst(t *testing.T) {
	service, _ := mustService(t)
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		if _, err := service.Push(ctx, testSquare, Draft{Kind: KindInfo, Title: title}); err != nil {
			t.Fatalf("push failed: %v", err)
		}
	}

	events, err := service.List(ctx, testSquare)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Title != "third" || events[2].Title != "first" {
		t.Fatalf("unexpected order: %q, %q, %q", events[0].Title, events[1].Title, events[2].Title)
	}
}

func TestPushEvictsOldestBeyondCapacity(t *testing.T) {
	service, _ := mustService(t)
	ctx := context.Background()

	for i := 1; i <= DefaultCapacity+5; i++ {
		if _, err := service.Push(ctx, testSquare, Draft{Title: fmt.Sprintf("event %d", i)}); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}

	events, err := service.List(ctx, testSquare)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != DefaultCapacity {
		t.Fatalf("expected %d events, got %d", DefaultCapacity, len(events))
	}
	if events[0].Title != fmt.Sprintf("event %d", DefaultCapacity+5) {
		t.Fatalf("unexpected newest event %q", events[0].Title)
	}
	if events[len(events)-1].Title != "event 6" {
		t.Fatalf("expected oldest kept event to be event 6, got %q", events[len(events)-1].Title)
	}

	var stored int64
	if err := service.store.Database().Model(&Event{}).Where("square_id = ?", testSquare.String()).Count(&stored).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if stored != DefaultCapacity {
		t.Fatalf("expected evicted rows to be deleted, %d remain", stored)
	}
}

func TestPushKeepsSquaresIndependent(t *testing.T) {
	service, _ := mustService(t)
	ctx := context.Background()

	if _, err := service.Push(ctx, testSquare, Draft{Title: "ours"}); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if _, err := service.Push(ctx, square.ID("court-8"), Draft{Title: "theirs"}); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	events, err := service.List(ctx, testSquare)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 1 || events[0].Title != "ours" {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestPushStoresMetaAndNormalizesKind(t *testing.T) {
	service, _ := mustService(t)
	ctx := context.Background()

	_, err := service.Push(ctx, testSquare, Draft{
		Kind:  Kind("shout"),
		Title: "Challenge created",
		Meta:  Meta{"challengeId": "ch-1", "tab": "challenges"},
	})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}

	events, err := service.List(ctx, testSquare)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if events[0].Kind != KindInfo {
		t.Fatalf("expected unknown kind to fall back to info, got %q", events[0].Kind)
	}
	if events[0].MetaValue("challengeId") != "ch-1" {
		t.Fatalf("expected meta to round trip, got %#v", events[0].Meta.Data())
	}
}

func TestPushRejectsEmptyTitle(t *testing.T) {
	service, _ := mustService(t)
	_, err := service.Push(context.Background(), testSquare, Draft{Title: "  "})
	if !errors.Is(err, square.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestClearEmptiesLog(t *testing.T) {
	service, _ := mustService(t)
	ctx := context.Background()

	if _, err := service.Push(ctx, testSquare, Draft{Title: "one"}); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := service.Clear(ctx, testSquare); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := service.Clear(ctx, testSquare); err != nil {
		t.Fatalf("second clear failed: %v", err)
	}
	events, err := service.List(ctx, testSquare)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty log, got %d events", len(events))
	}
}

func TestPushBroadcastsOnlyAfterCommit(t *testing.T) {
	recorder := &recordingBroadcaster{}
	service, store := mustService(t, recorder)
	ctx := context.Background()

	_ = store.InSquare(ctx, testSquare, func(ctx context.Context, _ *gorm.DB) error {
		if _, err := service.Push(ctx, testSquare, Draft{Title: "rolled back"}); err != nil {
			t.Fatalf("push failed: %v", err)
		}
		return square.ErrInvalidInput
	})
	if recorder.count() != 0 {
		t.Fatalf("expected no broadcast for rolled back push")
	}
	events, err := service.List(ctx, testSquare)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected rolled back push to leave no event")
	}

	if _, err := service.Push(ctx, testSquare, Draft{Title: "kept"}); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if recorder.count() != 1 {
		t.Fatalf("expected one broadcast, got %d", recorder.count())
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: &sequenceIDProvider{}}); err == nil {
		t.Fatalf("expected error for missing store")
	}
	if _, err := NewService(ServiceConfig{Store: mustStore(t)}); err == nil {
		t.Fatalf("expected error for missing id provider")
	}
}
