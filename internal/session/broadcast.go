package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/redis/go-redis/v9"
)

const (
	changeTopic          = "session:change"
	defaultChangeChannel = "campusgate:session:changes"
)

// ChangeKind describes what happened to a browser's durable session
type ChangeKind string

const (
	ChangeLoggedIn  ChangeKind = "logged_in"
	ChangeLoggedOut ChangeKind = "logged_out"
)

// Change is published whenever a tab rewrites the browser-scoped snapshot.
// Origin is the publishing store, so it can ignore its own notifications.
type Change struct {
	Browser string     `json:"browser"`
	Kind    ChangeKind `json:"kind"`
	Origin  string     `json:"origin"`
}

// Broadcaster notifies the other tabs of a browser about session changes
type Broadcaster interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(browser string, fn func(Change)) (cancel func(), err error)
}

// listenerSet fans a change out to the listeners registered for its browser
type listenerSet struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string]map[uint64]func(Change)
}

func newListenerSet() *listenerSet {
	return &listenerSet{listeners: make(map[string]map[uint64]func(Change))}
}

func (s *listenerSet) add(browser string, fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.listeners[browser] == nil {
		s.listeners[browser] = make(map[uint64]func(Change))
	}
	s.listeners[browser][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.listeners[browser], id)
			if len(s.listeners[browser]) == 0 {
				delete(s.listeners, browser)
			}
		})
	}
}

func (s *listenerSet) dispatch(change Change) {
	s.mu.RLock()
	fns := make([]func(Change), 0, len(s.listeners[change.Browser]))
	for _, fn := range s.listeners[change.Browser] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

// EventBusBroadcaster delivers changes in-process over an EventBus topic.
// Delivery is synchronous: Publish returns after every listener ran.
type EventBusBroadcaster struct {
	bus       evbus.Bus
	listeners *listenerSet
}

// NewEventBusBroadcaster attaches to bus, creating one when nil
func NewEventBusBroadcaster(bus evbus.Bus) (*EventBusBroadcaster, error) {
	if bus == nil {
		bus = evbus.New()
	}

	b := &EventBusBroadcaster{bus: bus, listeners: newListenerSet()}
	if err := bus.Subscribe(changeTopic, b.listeners.dispatch); err != nil {
		return nil, fmt.Errorf("failed to subscribe to session changes: %w", err)
	}
	return b, nil
}

func (b *EventBusBroadcaster) Publish(ctx context.Context, change Change) error {
	b.bus.Publish(changeTopic, change)
	return nil
}

func (b *EventBusBroadcaster) Subscribe(browser string, fn func(Change)) (func(), error) {
	return b.listeners.add(browser, fn), nil
}

// RedisBroadcaster delivers changes across gateway processes over Redis pub/sub
type RedisBroadcaster struct {
	client    redis.UniversalClient
	channel   string
	pubsub    *redis.PubSub
	listeners *listenerSet
	logger    *slog.Logger
	done      chan struct{}
}

// NewRedisBroadcaster subscribes to channel and starts delivering changes.
// Call Close to stop.
func NewRedisBroadcaster(ctx context.Context, client redis.UniversalClient, channel string, logger *slog.Logger) (*RedisBroadcaster, error) {
	if channel == "" {
		channel = defaultChangeChannel
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b := &RedisBroadcaster{
		client:    client,
		channel:   channel,
		pubsub:    pubsub,
		listeners: newListenerSet(),
		logger:    logger,
		done:      make(chan struct{}),
	}
	go b.run()
	return b, nil
}

func (b *RedisBroadcaster) run() {
	defer close(b.done)

	for msg := range b.pubsub.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			b.logger.Warn("discarding malformed session change", slog.Any("error", err))
			continue
		}
		b.listeners.dispatch(change)
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode session change: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBroadcaster) Subscribe(browser string, fn func(Change)) (func(), error) {
	return b.listeners.add(browser, fn), nil
}

// Close unsubscribes and waits for the delivery goroutine to exit
func (b *RedisBroadcaster) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}
