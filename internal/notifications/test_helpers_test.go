package notifications

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/squares/internal/square"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("event-%03d", p.next), nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func mustStore(t *testing.T) *square.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notifications.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := square.NewStore(square.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func mustService(t *testing.T, broadcasters ...Broadcaster) (*Service, *square.Store) {
	t.Helper()
	store := mustStore(t)
	service, err := NewService(ServiceConfig{
		Store:        store,
		IDProvider:   &sequenceIDProvider{},
		Clock:        func() time.Time { return time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC) },
		Broadcasters: broadcasters,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, store
}
