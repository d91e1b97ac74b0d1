package notifications

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherDeliversToSquareSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "court-1")
	defer cleanup()

	dispatcher.Broadcast(ctx, Event{ID: "event-1", SquareID: "court-1", Title: "hello"})

	select {
	case received := <-stream:
		if received.ID != "event-1" {
			t.Fatalf("unexpected event %q", received.ID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestDispatcherIsolatesSquares(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ours, cleanup := dispatcher.Subscribe(ctx, "court-1")
	defer cleanup()
	theirs, otherCleanup := dispatcher.Subscribe(ctx, "court-2")
	defer otherCleanup()

	dispatcher.Broadcast(ctx, Event{ID: "event-2", SquareID: "court-2"})

	select {
	case <-ours:
		t.Fatal("did not expect event for another square")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case received := <-theirs:
		if received.SquareID != "court-2" {
			t.Fatalf("unexpected square %q", received.SquareID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed square")
	}
}

func TestDispatcherUnregistersOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx, "court-1")
	if dispatcher.SubscriberCount("court-1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("court-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherDropsWhenSubscriberIsFull(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "court-1")
	defer cleanup()

	for i := 0; i < defaultStreamBuffer+4; i++ {
		dispatcher.Broadcast(ctx, Event{SquareID: "court-1"})
	}
	if len(stream) != defaultStreamBuffer {
		t.Fatalf("expected buffered stream to hold %d events, got %d", defaultStreamBuffer, len(stream))
	}
}
