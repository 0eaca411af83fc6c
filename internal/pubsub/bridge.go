// Package pubsub fans clipboard events out across server processes over Redis pub/sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "sync:"

// DefaultBuffer is the per-subscription queue length
const DefaultBuffer = 64

// Channel returns the pub/sub channel for a user
func Channel(userID uuid.UUID) string {
	return channelPrefix + userID.String()
}

// Subscription is one local consumer of a user's events. Events arrive on C
// until the subscription is removed, at which point C is closed.
type Subscription struct {
	UserID uuid.UUID
	C      <-chan *model.SyncEvent

	ch      chan *model.SyncEvent
	dropped atomic.Int64
}

// Dropped counts events discarded because C was full
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Bridge holds a single Redis pub/sub connection per process. Local
// subscriptions for the same user share one channel subscription.
type Bridge struct {
	rdb    *redis.Client
	ps     *redis.PubSub
	buffer int

	// lifecycle serializes Subscribe/Unsubscribe, including their Redis
	// round trips; mu only guards the map so dispatch never waits on I/O.
	lifecycle sync.Mutex
	mu        sync.RWMutex
	subs      map[uuid.UUID]map[*Subscription]struct{}
}

// NewBridge creates a bridge. Call Run to start delivering events.
func NewBridge(rdb *redis.Client, buffer int) *Bridge {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bridge{
		rdb:    rdb,
		ps:     rdb.Subscribe(context.Background()),
		buffer: buffer,
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

// Publish announces an event to every process subscribed to the user
func (b *Bridge) Publish(ctx context.Context, userID uuid.UUID, event *model.SyncEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	if err := b.rdb.Publish(ctx, Channel(userID), data).Err(); err != nil {
		return fmt.Errorf("publish sync event: %w: %w", model.ErrStoreUnavailable, err)
	}
	return nil
}

// Subscribe registers a local consumer for the user's events. Only the first
// subscription for a user subscribes the Redis channel.
func (b *Bridge) Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	_, active := b.subs[userID]
	b.mu.RUnlock()

	if !active {
		if err := b.ps.Subscribe(ctx, Channel(userID)); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w: %w", Channel(userID), model.ErrStoreUnavailable, err)
		}
		log.Printf("📡 Subscribed to %s", Channel(userID))
	}

	ch := make(chan *model.SyncEvent, b.buffer)
	sub := &Subscription{UserID: userID, C: ch, ch: ch}

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscription]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

// Unsubscribe removes one consumer and closes its channel. The Redis channel
// subscription is dropped with the last consumer. Unknown or already removed
// subscriptions are ignored.
func (b *Bridge) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	set, ok := b.subs[sub.UserID]
	if _, found := set[sub]; !ok || !found {
		b.mu.Unlock()
		return nil
	}
	delete(set, sub)
	close(sub.ch)
	last := len(set) == 0
	if last {
		delete(b.subs, sub.UserID)
	}
	b.mu.Unlock()

	if !last {
		return nil
	}
	if err := b.ps.Unsubscribe(ctx, Channel(sub.UserID)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w: %w", Channel(sub.UserID), model.ErrStoreUnavailable, err)
	}
	log.Printf("📴 Unsubscribed from %s", Channel(sub.UserID))
	return nil
}

// subscribers returns the number of local consumers for a user
func (b *Bridge) subscribers(userID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Run delivers incoming events until ctx is cancelled or the bridge is closed
func (b *Bridge) Run(ctx context.Context) {
	ch := b.ps.Channel()
	log.Println("📡 Redis Pub/Sub bridge started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(msg)
		}
	}
}

func (b *Bridge) dispatch(msg *redis.Message) {
	userID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
	if err != nil {
		log.Printf("⚠️  Ignoring message on unexpected channel %q", msg.Channel)
		return
	}

	var event model.SyncEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		log.Printf("⚠️  Error unmarshaling sync event on %s: %v", msg.Channel, err)
		return
	}
	if event.UserID == uuid.Nil {
		event.UserID = userID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[userID] {
		ev := event
		select {
		case sub.ch <- &ev:
		default:
			sub.dropped.Add(1)
			log.Printf("⚠️  Subscription buffer full for user %s, event dropped", userID)
		}
	}
}

// Close tears down the Redis connection and closes every subscription channel
func (b *Bridge) Close() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	for userID, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, userID)
	}
	b.mu.Unlock()

	return b.ps.Close()
}
