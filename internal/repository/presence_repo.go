package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	devicePresencePrefix = "device:"
	onlineDevicesPrefix  = "online_devices:"
)

func devicePresenceKey(deviceID string) string {
	return devicePresencePrefix + deviceID
}

func onlineDevicesKey(userID uuid.UUID) string {
	return onlineDevicesPrefix + userID.String()
}

// PresenceRepository tracks which devices are online. A device is online
// while its device:<id> marker exists; the marker expires on its own when
// heartbeats stop.
type PresenceRepository struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewPresenceRepository(rdb *redis.Client, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{rdb: rdb, ttl: ttl, now: time.Now}
}

// TTL returns how long a marker lives without a heartbeat
func (r *PresenceRepository) TTL() time.Duration {
	return r.ttl
}

// MarkOnline writes or refreshes the device marker
func (r *PresenceRepository) MarkOnline(ctx context.Context, userID uuid.UUID, deviceID string) error {
	key := devicePresenceKey(deviceID)
	setKey := onlineDevicesKey(userID)

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"user_id":   userID.String(),
			"last_seen": r.now().UTC().Format(time.RFC3339),
			"is_online": "true",
		})
		pipe.Expire(ctx, key, r.ttl)
		pipe.SAdd(ctx, setKey, deviceID)
		pipe.Expire(ctx, setKey, r.ttl)
		return nil
	})
	return storeErr("mark device online", err)
}

// MarkOffline clears the marker right away instead of waiting for the TTL
func (r *PresenceRepository) MarkOffline(ctx context.Context, userID uuid.UUID, deviceID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, devicePresenceKey(deviceID))
		pipe.SRem(ctx, onlineDevicesKey(userID), deviceID)
		return nil
	})
	return storeErr("mark device offline", err)
}

// IsOnline reports whether the device marker is alive
func (r *PresenceRepository) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, devicePresenceKey(deviceID)).Result()
	if err != nil {
		return false, storeErr("device presence", err)
	}
	return n > 0, nil
}

// LastSeen returns the heartbeat time stored in the marker, zero when offline
func (r *PresenceRepository) LastSeen(ctx context.Context, deviceID string) (time.Time, error) {
	v, err := r.rdb.HGet(ctx, devicePresenceKey(deviceID), "last_seen").Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeErr("device presence", err)
	}
	t, _ := time.Parse(time.RFC3339, v)
	return t, nil
}

// OnlineDevices lists the user's devices whose marker is still alive.
// Set members whose marker expired are pruned on the way.
func (r *PresenceRepository) OnlineDevices(ctx context.Context, userID uuid.UUID) ([]string, error) {
	setKey := onlineDevicesKey(userID)
	members, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, storeErr("online devices", err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	cmds := make([]*redis.IntCmd, len(members))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range members {
			cmds[i] = pipe.Exists(ctx, devicePresenceKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("online devices", err)
	}

	online := make([]string, 0, len(members))
	var stale []interface{}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			online = append(online, members[i])
		} else {
			stale = append(stale, members[i])
		}
	}
	if len(stale) > 0 {
		r.rdb.SRem(ctx, setKey, stale...)
	}
	return online, nil
}
