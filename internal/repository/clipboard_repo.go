package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	clipboardKeyPrefix = "clipboard:"
	itemKeyPrefix      = "item:"
)

// clearScript drops a user's log and every item hash it references in one step
var clearScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)

// saveScript stores the item hash, appends it to the log, drops expired
// entries and trims the log to ARGV[6] entries, all in one step. It returns
// the evicted ids.
var saveScript = redis.NewScript(`
redis.call('HSET', KEYS[2], unpack(ARGV, 7))
redis.call('PEXPIRE', KEYS[2], ARGV[4])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
local max = tonumber(ARGV[6])
if max <= 0 then
	return {}
end
local evicted = redis.call('ZRANGE', KEYS[1], 0, -(max + 1))
for _, id in ipairs(evicted) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('DEL', ARGV[1] .. id)
end
return evicted
`)

func clipboardKey(userID uuid.UUID) string {
	return clipboardKeyPrefix + userID.String()
}

func itemKey(id string) string {
	return itemKeyPrefix + id
}

// ClipboardRepository stores each user's clipboard log in Redis: a sorted set
// clipboard:<userID> of item ids scored by creation time, and one hash per item.
type ClipboardRepository struct {
	rdb        *redis.Client
	maxHistory int
	ttl        time.Duration
	now        func() time.Time
}

func NewClipboardRepository(rdb *redis.Client, maxHistory int, ttl time.Duration) *ClipboardRepository {
	return &ClipboardRepository{
		rdb:        rdb,
		maxHistory: maxHistory,
		ttl:        ttl,
		now:        time.Now,
	}
}

// MaxHistory returns the log bound
func (r *ClipboardRepository) MaxHistory() int {
	return r.maxHistory
}

// expiredBefore is the exclusive score bound for entries older than the item TTL
func (r *ClipboardRepository) expiredBefore() string {
	return "(" + strconv.FormatInt(r.now().Add(-r.ttl).UnixMicro(), 10)
}

// Save writes the item, appends it to the log and trims the log back to its
// bound in a single script, so a stored item is never left untrimmed. It
// returns the ids evicted by the trim.
func (r *ClipboardRepository) Save(ctx context.Context, item *model.ClipboardItem) ([]string, error) {
	args := []interface{}{
		itemKeyPrefix,
		item.ID.String(),
		strconv.FormatFloat(item.Score(), 'f', -1, 64),
		r.ttl.Milliseconds(),
		r.now().Add(-r.ttl).UnixMicro(),
		r.maxHistory,
	}
	for field, value := range item.ToHash() {
		args = append(args, field, value)
	}

	evicted, err := saveScript.Run(ctx, r.rdb,
		[]string{clipboardKey(item.UserID), itemKey(item.ID.String())},
		args...,
	).StringSlice()
	if err != nil {
		return nil, storeErr("save clipboard item", err)
	}
	return evicted, nil
}

// remove drops ids from the log together with their hashes
func (r *ClipboardRepository) remove(ctx context.Context, logKey string, ids []string) error {
	members := make([]interface{}, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = itemKey(id)
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, logKey, members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

// FindByID loads one item
func (r *ClipboardRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ClipboardItem, error) {
	h, err := r.rdb.HGetAll(ctx, itemKey(id.String())).Result()
	if err != nil {
		return nil, storeErr("get clipboard item", err)
	}
	if len(h) == 0 {
		return nil, model.ErrNotFound
	}
	return model.ClipboardItemFromHash(h)
}

// Delete removes an item from the user's log. Ids that are not in that log,
// including ones that already expired, are reported as ErrNotFound.
func (r *ClipboardRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	logKey := clipboardKey(userID)
	score, err := r.rdb.ZScore(ctx, logKey, id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return model.ErrNotFound
	}
	if err != nil {
		return storeErr("delete clipboard item", err)
	}

	expired := int64(score) < r.now().Add(-r.ttl).UnixMicro()
	if err := r.remove(ctx, logKey, []string{id.String()}); err != nil {
		return storeErr("delete clipboard item", err)
	}
	if expired {
		return model.ErrNotFound
	}
	return nil
}

// Clear drops the user's whole log and returns how many live items it held
func (r *ClipboardRepository) Clear(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := clearScript.Run(ctx, r.rdb,
		[]string{clipboardKey(userID)},
		itemKeyPrefix, r.now().Add(-r.ttl).UnixMicro(),
	).Int64()
	if err != nil {
		return 0, storeErr("clear clipboard", err)
	}
	return n, nil
}

// Page returns items newest first along with the log length
func (r *ClipboardRepository) Page(ctx context.Context, userID uuid.UUID, offset, limit int64) ([]model.ClipboardItem, int64, error) {
	logKey := clipboardKey(userID)

	var (
		card *redis.IntCmd
		ids  *redis.StringSliceCmd
	)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, logKey, "-inf", r.expiredBefore())
		card = pipe.ZCard(ctx, logKey)
		ids = pipe.ZRevRange(ctx, logKey, offset, offset+limit-1)
		return nil
	})
	if err != nil {
		return nil, 0, storeErr("page clipboard", err)
	}

	items, err := r.fetch(ctx, logKey, ids.Val())
	if err != nil {
		return nil, 0, err
	}
	return items, card.Val(), nil
}

// fetch loads many items in one pipelined round trip, keeping the order of
// ids. Ids whose hash is gone are dropped from the log.
func (r *ClipboardRepository) fetch(ctx context.Context, logKey string, ids []string) ([]model.ClipboardItem, error) {
	if len(ids) == 0 {
		return []model.ClipboardItem{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, itemKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("fetch clipboard items", err)
	}

	items := make([]model.ClipboardItem, 0, len(ids))
	var dangling []interface{}
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			dangling = append(dangling, ids[i])
			continue
		}
		item, err := model.ClipboardItemFromHash(h)
		if err != nil {
			dangling = append(dangling, ids[i])
			continue
		}
		items = append(items, *item)
	}
	if len(dangling) > 0 {
		r.rdb.ZRem(ctx, logKey, dangling...)
	}
	return items, nil
}

// Latest returns the head of the log
func (r *ClipboardRepository) Latest(ctx context.Context, userID uuid.UUID) (*model.ClipboardItem, error) {
	items, _, err := r.Page(ctx, userID, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, model.ErrNotFound
	}
	return &items[0], nil
}

// count returns the number of live entries in the log
func (r *ClipboardRepository) count(ctx context.Context, userID uuid.UUID) (int64, error) {
	logKey := clipboardKey(userID)
	var card *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, logKey, "-inf", r.expiredBefore())
		card = pipe.ZCard(ctx, logKey)
		return nil
	})
	if err != nil {
		return 0, storeErr("count clipboard", err)
	}
	return card.Val(), nil
}

// Stats aggregates size and type counts over the whole log
func (r *ClipboardRepository) Stats(ctx context.Context, userID uuid.UUID) (*model.ClipboardStats, error) {
	logKey := clipboardKey(userID)
	ids, err := r.allIDs(ctx, logKey)
	if err != nil {
		return nil, err
	}

	stats := &model.ClipboardStats{
		ByType:   map[model.ContentType]int64{},
		ByDevice: map[string]int64{},
		MaxItems: r.maxHistory,
	}
	if len(ids) == 0 {
		return stats, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, itemKey(id), "size", "content_type", "device_id", "created_at")
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("clipboard stats", err)
	}

	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 4 || vals[0] == nil {
			continue
		}
		size, _ := strconv.ParseInt(asString(vals[0]), 10, 64)
		created, _ := strconv.ParseInt(asString(vals[3]), 10, 64)
		at := time.UnixMicro(created).UTC()

		stats.TotalItems++
		stats.TotalSize += size
		stats.ByType[model.ContentType(asString(vals[1]))]++
		stats.ByDevice[asString(vals[2])]++
		if stats.Oldest == nil || at.Before(*stats.Oldest) {
			stats.Oldest = &at
		}
		if stats.Newest == nil || at.After(*stats.Newest) {
			stats.Newest = &at
		}
	}
	return stats, nil
}

// PurgeDevice removes every item that originated on deviceID
func (r *ClipboardRepository) PurgeDevice(ctx context.Context, userID uuid.UUID, deviceID string) ([]uuid.UUID, error) {
	logKey := clipboardKey(userID)
	ids, err := r.allIDs(ctx, logKey)
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, itemKey(id), "device_id")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr("purge device items", err)
	}

	var (
		matched []string
		removed []uuid.UUID
	)
	for i, cmd := range cmds {
		if cmd.Val() != deviceID {
			continue
		}
		id, err := uuid.Parse(ids[i])
		if err != nil {
			continue
		}
		matched = append(matched, ids[i])
		removed = append(removed, id)
	}
	if len(matched) == 0 {
		return nil, nil
	}
	if err := r.remove(ctx, logKey, matched); err != nil {
		return nil, storeErr("purge device items", err)
	}
	return removed, nil
}

func (r *ClipboardRepository) allIDs(ctx context.Context, logKey string) ([]string, error) {
	var ids *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, logKey, "-inf", r.expiredBefore())
		ids = pipe.ZRange(ctx, logKey, 0, -1)
		return nil
	})
	if err != nil {
		return nil, storeErr("read clipboard log", err)
	}
	return ids.Val(), nil
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
