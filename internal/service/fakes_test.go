package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[uuid.UUID]*model.User{}}
}

func (f *fakeUsers) Create(user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUsers) FindByID(id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) FindByUsername(username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUsers) ExistsByUsername(username string) (bool, error) {
	_, err := f.FindByUsername(username)
	return err == nil, nil
}

func (f *fakeUsers) setActive(id uuid.UUID, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id].IsActive = active
}

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]*model.Device
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{devices: map[string]*model.Device{}}
}

func (f *fakeDevices) Upsert(device *model.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *device
	f.devices[device.ID] = &cp
	return nil
}

func (f *fakeDevices) FindByID(id string) (*model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDevices) ListByUser(userID uuid.UUID) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Device
	for _, d := range f.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDevices) UpdateLabel(userID uuid.UUID, id, label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok || d.UserID != userID {
		return false, nil
	}
	d.Label = label
	return true, nil
}

func (f *fakeDevices) Touch(id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[id]; ok {
		d.LastSeen = at
	}
	return nil
}

func (f *fakeDevices) Delete(userID uuid.UUID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok || d.UserID != userID {
		return false, nil
	}
	delete(f.devices, id)
	return true, nil
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.SyncEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ uuid.UUID, event *model.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []*model.SyncEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.SyncEvent(nil), p.events...)
}

type fakeDisconnector struct {
	dropped []string
}

func (f *fakeDisconnector) DisconnectDevice(_ uuid.UUID, deviceID string) int {
	f.dropped = append(f.dropped, deviceID)
	return 1
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newPresence(t *testing.T) *repository.PresenceRepository {
	t.Helper()
	_, rdb := newTestRedis(t)
	return repository.NewPresenceRepository(rdb, time.Minute)
}
