package notifications

import (
	"context"
	"sync"
)

const defaultStreamBuffer = 16

// Dispatcher fans committed events out to live subscribers of the same square. Slow subscribers
// lose events rather than stall the writer; the persisted log remains the source of truth.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs an empty in-process dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultStreamBuffer,
	}
}

// Subscribe registers a stream for squareID until ctx ends or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, squareID string) (<-chan Event, func()) {
	if squareID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{stream: make(chan Event, d.bufferSize)}
	d.register(squareID, sub)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(squareID, sub.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Broadcast implements Broadcaster.
func (d *Dispatcher) Broadcast(_ context.Context, event Event) {
	if event.SquareID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.SquareID]
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of live streams for a square.
func (d *Dispatcher) SubscriberCount(squareID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[squareID])
}

func (d *Dispatcher) register(squareID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub.id = d.nextID
	if _, ok := d.subscribers[squareID]; !ok {
		d.subscribers[squareID] = make(map[int64]*subscriber)
	}
	d.subscribers[squareID][sub.id] = sub
}

func (d *Dispatcher) unregister(squareID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[squareID]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, squareID)
	}
}
