package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/pubsub"
	"golang.org/x/time/rate"
)

// Subscriber is the part of the pub/sub bridge the hub needs
type Subscriber interface {
	Subscribe(ctx context.Context, userID uuid.UUID) (*pubsub.Subscription, error)
	Unsubscribe(ctx context.Context, sub *pubsub.Subscription) error
}

// Presence records which devices are online
type Presence interface {
	MarkOnline(ctx context.Context, userID uuid.UUID, deviceID string) error
	MarkOffline(ctx context.Context, userID uuid.UUID, deviceID string) error
}

// Config tunes connection handling
type Config struct {
	// HeartbeatTimeout is how long a connection may stay silent before it is reaped
	HeartbeatTimeout time.Duration
	MaxMessageSize   int64
	MessageRate      rate.Limit
	MessageBurst     int
}

// DefaultConfig matches the presence TTL and the clipboard size cap
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: pongWait,
		MaxMessageSize:   11 << 20,
		MessageRate:      rate.Limit(20),
		MessageBurst:     40,
	}
}

const storeTimeout = 5 * time.Second

// Hub is the registry of live connections in this process. Events for a user
// arrive from the pub/sub bridge and are pushed to each of the user's sockets
// except the one belonging to the device that caused them.
type Hub struct {
	cfg Config

	// Map of userID -> set of client connections (one user can have multiple devices)
	clients map[uuid.UUID]map[*Client]struct{}
	mu      sync.RWMutex

	// subs is guarded by mu. Register and Unregister of one user are ordered
	// by that user's lock, which also covers the bridge round trip and the
	// presence write; Broadcast never takes it.
	subs      map[uuid.UUID]*pubsub.Subscription
	userLocks map[uuid.UUID]*userLock
	lockMu    sync.Mutex

	bridge   Subscriber
	presence Presence

	// Callback when a device comes online/offline
	onStatusChange func(userID uuid.UUID, deviceID string, online bool)
}

// NewHub creates a new WebSocket Hub
func NewHub(bridge Subscriber, presence Presence, cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = def.MessageRate
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = def.MessageBurst
	}
	return &Hub{
		cfg:       cfg,
		clients:   make(map[uuid.UUID]map[*Client]struct{}),
		subs:      make(map[uuid.UUID]*pubsub.Subscription),
		userLocks: make(map[uuid.UUID]*userLock),
		bridge:    bridge,
		presence:  presence,
	}
}

// OnStatusChange sets a callback fired when a device connects or fully disconnects
func (h *Hub) OnStatusChange(fn func(userID uuid.UUID, deviceID string, online bool)) {
	h.onStatusChange = fn
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lockUser serializes connection lifecycle work for one user and returns the
// unlock func. Locks are dropped once nobody holds or waits on them.
func (h *Hub) lockUser(userID uuid.UUID) func() {
	h.lockMu.Lock()
	l, ok := h.userLocks[userID]
	if !ok {
		l = &userLock{}
		h.userLocks[userID] = l
	}
	l.refs++
	h.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		h.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(h.userLocks, userID)
		}
		h.lockMu.Unlock()
	}
}

// Register admits an authenticated client. The first connection of a user
// subscribes the bridge for that user; later ones reuse the subscription.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	if client.UserID == uuid.Nil {
		return errors.New("register: client is not authenticated")
	}

	unlock := h.lockUser(client.UserID)
	defer unlock()

	h.mu.RLock()
	_, subscribed := h.subs[client.UserID]
	h.mu.RUnlock()
	if !subscribed {
		sub, err := h.bridge.Subscribe(ctx, client.UserID)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.subs[client.UserID] = sub
		h.mu.Unlock()
		go h.forward(sub)
	}

	if err := client.Transition(StateActive); err != nil {
		h.releaseIfIdle(client.UserID)
		return err
	}

	h.mu.Lock()
	if _, ok := h.clients[client.UserID]; !ok {
		h.clients[client.UserID] = make(map[*Client]struct{})
	}
	h.clients[client.UserID][client] = struct{}{}
	total := len(h.clients[client.UserID])
	h.mu.Unlock()

	client.touch()
	h.markOnline(client)
	log.Printf("✅ Client connected: user=%s device=%s (connections: %d)", client.UserID, client.DeviceID, total)

	if h.onStatusChange != nil {
		go h.onStatusChange(client.UserID, client.DeviceID, true)
	}
	return nil
}

// releaseIfIdle drops the bridge subscription of a user with no connections.
// The caller holds the user's lock.
func (h *Hub) releaseIfIdle(userID uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subs[userID]
	if !ok || len(h.clients[userID]) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.subs, userID)
	h.mu.Unlock()

	h.unsubscribe(sub)
}

// Unregister removes a client. Calling it again for the same client is a no-op.
func (h *Hub) Unregister(client *Client) {
	unlock := h.lockUser(client.UserID)
	defer unlock()

	h.mu.Lock()
	set, ok := h.clients[client.UserID]
	if _, found := set[client]; !ok || !found {
		h.mu.Unlock()
		client.closeSend()
		return
	}
	delete(set, client)
	deviceStillConnected := false
	for other := range set {
		if other.DeviceID == client.DeviceID {
			deviceStillConnected = true
			break
		}
	}
	if len(set) == 0 {
		delete(h.clients, client.UserID)
	}
	h.mu.Unlock()

	client.closeSend()
	if client.State() == StateActive {
		client.Transition(StateClosing)
	}

	h.releaseIfIdle(client.UserID)

	// Still under the user's lock, so a reconnect of the same device cannot
	// mark it online before this write lands.
	if !deviceStillConnected {
		h.markOffline(client)
		if h.onStatusChange != nil {
			go h.onStatusChange(client.UserID, client.DeviceID, false)
		}
	}
	log.Printf("❌ Client disconnected: user=%s device=%s", client.UserID, client.DeviceID)
}

func (h *Hub) unsubscribe(sub *pubsub.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.bridge.Unsubscribe(ctx, sub); err != nil {
		log.Printf("⚠️  Failed to unsubscribe user %s: %v", sub.UserID, err)
	}
}

// forward relays bridge events to local sockets until the subscription closes
func (h *Hub) forward(sub *pubsub.Subscription) {
	for event := range sub.C {
		h.Broadcast(sub.UserID, event.Message(), event.SourceDevice)
	}
}

// Broadcast sends msg to every connection of the user except those of
// excludeDevice. The message is serialized once. A connection whose buffer
// is full or closed is unregistered; the rest still receive the message.
// It returns the number of connections the message was queued for.
func (h *Hub) Broadcast(userID uuid.UUID, msg *model.WSMessage, excludeDevice string) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling broadcast event: %v", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		if excludeDevice != "" && client.DeviceID == excludeDevice {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range targets {
		if client.enqueue(data) {
			sent++
			continue
		}
		log.Printf("⚠️  Send to %s/%s failed, dropping connection", userID, client.DeviceID)
		h.Unregister(client)
	}
	return sent
}

// Touch records a heartbeat and refreshes the device presence TTL
func (h *Hub) Touch(client *Client) {
	client.touch()
	h.markOnline(client)
}

func (h *Hub) markOnline(client *Client) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.presence.MarkOnline(ctx, client.UserID, client.DeviceID); err != nil {
		log.Printf("⚠️  Failed to refresh presence for %s: %v", client.DeviceID, err)
	}
}

func (h *Hub) markOffline(client *Client) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.presence.MarkOffline(ctx, client.UserID, client.DeviceID); err != nil {
		log.Printf("⚠️  Failed to clear presence for %s: %v", client.DeviceID, err)
	}
}

// Run reaps connections whose heartbeat is older than the timeout
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.reap(now)
		}
	}
}

// reap unregisters every connection that missed its heartbeat window
func (h *Hub) reap(now time.Time) int {
	deadline := now.Add(-h.cfg.HeartbeatTimeout)

	h.mu.RLock()
	var stale []*Client
	for _, set := range h.clients {
		for client := range set {
			if client.LastSeen().Before(deadline) {
				stale = append(stale, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		log.Printf("💤 Heartbeat timeout: user=%s device=%s", client.UserID, client.DeviceID)
		h.Unregister(client)
	}
	return len(stale)
}

// DisconnectDevice drops every live connection of one device
func (h *Hub) DisconnectDevice(userID uuid.UUID, deviceID string) int {
	h.mu.RLock()
	var targets []*Client
	for client := range h.clients[userID] {
		if client.DeviceID == deviceID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.Unregister(client)
	}
	return len(targets)
}

// CloseAll unregisters every connection, used on shutdown
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for client := range set {
			all = append(all, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range all {
		h.Unregister(client)
	}
}

// connections returns the number of live connections for a user on this instance
func (h *Hub) connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// isDeviceConnected checks if a device has a live connection on this instance
func (h *Hub) isDeviceConnected(userID uuid.UUID, deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		if client.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// connectedDevices returns the distinct device ids connected for a user
func (h *Hub) connectedDevices(userID uuid.UUID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	devices := make([]string, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		if _, ok := seen[client.DeviceID]; ok {
			continue
		}
		seen[client.DeviceID] = struct{}{}
		devices = append(devices, client.DeviceID)
	}
	return devices
}

// Total returns the number of live connections on this instance
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
