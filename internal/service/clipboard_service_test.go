package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/pubsub"
	"github.com/quocanhngo/clipsync/internal/repository"
	"github.com/quocanhngo/clipsync/pkg/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clipFixture struct {
	repo   *repository.ClipboardRepository
	events *recordingPublisher
	keys   *encryption.Manager
	svc    *ClipboardService
}

func newClipFixture(t *testing.T, maxHistory int) *clipFixture {
	t.Helper()
	_, rdb := newTestRedis(t)
	keys, err := encryption.NewManager(1024)
	require.NoError(t, err)

	f := &clipFixture{
		repo:   repository.NewClipboardRepository(rdb, maxHistory, 24*time.Hour),
		events: &recordingPublisher{},
		keys:   keys,
	}
	f.svc = NewClipboardService(f.repo, f.events, keys, 1024)
	return f
}

func TestClipboardService_AddPublishesOnce(t *testing.T) {
	f := newClipFixture(t, 100)
	ctx := context.Background()
	alice := uuid.New()

	item, err := f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeText, item.ContentType)
	assert.Equal(t, int64(5), item.Size)
	assert.Equal(t, encryption.Hash("Hello"), item.Checksum)

	events := f.events.published()
	require.Len(t, events, 1)
	assert.Equal(t, model.SyncActionAdd, events[0].Action)
	assert.Equal(t, "D1", events[0].SourceDevice)

	var data model.ClipAddedData
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, item.ID, data.ClipID)
	assert.Equal(t, "Hello", data.Content)
	assert.Equal(t, "D1", data.DeviceID)

	page, err := f.svc.List(ctx, alice, 1, 20, false)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Hello", page.Items[0].Content)
}

func TestClipboardService_AddValidation(t *testing.T) {
	f := newClipFixture(t, 100)
	ctx := context.Background()
	alice := uuid.New()

	_, err := f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: strings.Repeat("x", 1025)})
	assert.ErrorIs(t, err, model.ErrPayloadTooLarge)

	_, err = f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: strings.Repeat("x", 1024)})
	assert.NoError(t, err, "exactly at the cap is accepted")

	_, err = f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: ""})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: "x", ContentType: "video"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	assert.Len(t, f.events.published(), 1, "rejected adds publish nothing")
}

func TestClipboardService_BoundKeepsNewest(t *testing.T) {
	f := newClipFixture(t, 3)
	ctx := context.Background()
	alice := uuid.New()

	base := time.Now()
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Millisecond)
		f.svc.now = func() time.Time { return at }
		_, err := f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: string(rune('a' + i))})
		require.NoError(t, err)
	}

	page, err := f.svc.List(ctx, alice, 1, 10, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "e", page.Items[0].Content)
	assert.Equal(t, "d", page.Items[1].Content)
	assert.Equal(t, "c", page.Items[2].Content)
	assert.False(t, page.HasMore)
}

func TestClipboardService_Encrypted(t *testing.T) {
	f := newClipFixture(t, 100)
	ctx := context.Background()
	alice := uuid.New()

	payload := &encryption.Payload{EncryptedContent: "AAAA", ContentHash: "x"}
	_, err := f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Encrypted: payload})
	assert.ErrorIs(t, err, model.ErrNoSessionKey)

	require.NoError(t, f.keys.SetSessionKey(alice, bytes.Repeat([]byte{7}, 32)))

	sealed, err := f.keys.Encrypt(alice, "secret clip")
	require.NoError(t, err)
	item, err := f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Encrypted: sealed})
	require.NoError(t, err)
	assert.Equal(t, "secret clip", item.Content)

	sealed.ContentHash = encryption.Hash("something else")
	_, err = f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Encrypted: sealed})
	assert.ErrorIs(t, err, model.ErrPayloadCorrupted)

	page, err := f.svc.List(ctx, alice, 1, 20, true)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.Items[0].Content)
	require.NotNil(t, page.Items[0].Encrypted)
	plain, err := f.keys.Decrypt(alice, page.Items[0].Encrypted)
	require.NoError(t, err)
	assert.Equal(t, "secret clip", plain)

	f.keys.RemoveSessionKey(alice)
	_, err = f.svc.Latest(ctx, alice, true)
	assert.ErrorIs(t, err, model.ErrNoSessionKey)
}

func TestClipboardService_DeleteAndClear(t *testing.T) {
	f := newClipFixture(t, 100)
	ctx := context.Background()
	alice := uuid.New()

	item, err := f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: "one"})
	require.NoError(t, err)
	_, err = f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: "two"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, alice, "D2", item.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, alice, "D2", item.ID), model.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, alice, "D2", uuid.New()), model.ErrNotFound)

	n, err := f.svc.Clear(ctx, alice, "D2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.svc.Clear(ctx, alice, "D2")
	require.NoError(t, err)
	assert.Zero(t, n)

	var actions []model.SyncAction
	for _, ev := range f.events.published() {
		actions = append(actions, ev.Action)
	}
	assert.Equal(t, []model.SyncAction{
		model.SyncActionAdd, model.SyncActionAdd,
		model.SyncActionDelete,
		model.SyncActionClear, model.SyncActionClear,
	}, actions)
}

func TestClipboardService_GetIsScopedToOwner(t *testing.T) {
	f := newClipFixture(t, 100)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	item, err := f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: "mine"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, alice, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Content)

	_, err = f.svc.Get(ctx, bob, item.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.Latest(ctx, bob, false)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClipboardService_PurgeDevice(t *testing.T) {
	f := newClipFixture(t, 100)
	ctx := context.Background()
	alice := uuid.New()

	for _, d := range []string{"D1", "D2", "D1"} {
		_, err := f.svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: d, Content: "from " + d})
		require.NoError(t, err)
	}

	n, err := f.svc.PurgeDevice(ctx, alice, "D2", "D1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := f.svc.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalItems)
	assert.Equal(t, int64(1), stats.ByDevice["D2"])

	deletes := 0
	for _, ev := range f.events.published() {
		if ev.Action == model.SyncActionDelete {
			deletes++
		}
	}
	assert.Equal(t, 2, deletes)
}

func TestClipboardService_PublishFailure(t *testing.T) {
	f := newClipFixture(t, 100)
	f.events.err = errors.New("connection refused")

	_, err := f.svc.Add(context.Background(), AddClipInput{UserID: uuid.New(), DeviceID: "D1", Content: "x"})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

type memoryFiles struct {
	data map[string][]byte
}

func (m *memoryFiles) Put(_ context.Context, userID uuid.UUID, r io.Reader, size int64, fileName, contentType string) (*model.FileRef, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	key := "clipboard/" + userID.String() + "/" + fileName
	m.data[key] = b
	return &model.FileRef{ObjectKey: key, URL: "http://files/" + key, FileName: fileName, MimeType: contentType, Size: size}, nil
}

func (m *memoryFiles) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestClipboardService_Upload(t *testing.T) {
	f := newClipFixture(t, 100)
	files := &memoryFiles{data: map[string][]byte{}}
	f.svc.WithFileStore(files)
	ctx := context.Background()
	alice := uuid.New()

	body := []byte("\x89PNG fake image")
	item, err := f.svc.Upload(ctx, UploadInput{
		UserID: alice, DeviceID: "D1", Body: bytes.NewReader(body), Size: int64(len(body)),
		FileName: "shot.png", MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeImage, item.ContentType)

	var ref model.FileRef
	require.NoError(t, json.Unmarshal([]byte(item.Content), &ref))
	assert.Equal(t, "shot.png", ref.FileName)
	assert.Equal(t, body, files.data[ref.ObjectKey])

	_, err = f.svc.Upload(ctx, UploadInput{
		UserID: alice, DeviceID: "D1", Body: bytes.NewReader(nil), Size: 4096, FileName: "big.zip",
	})
	assert.ErrorIs(t, err, model.ErrPayloadTooLarge)

	f.events.err = errors.New("connection refused")
	_, err = f.svc.Upload(ctx, UploadInput{
		UserID: alice, DeviceID: "D1", Body: bytes.NewReader(body), Size: int64(len(body)),
		FileName: "again.png", MimeType: "image/png",
	})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Len(t, files.data, 1, "object of a failed add is removed")
}

type recordingNotifier struct {
	items chan *model.ClipboardItem
}

func (n *recordingNotifier) NotifyClipboardUpdate(_ context.Context, item *model.ClipboardItem) error {
	n.items <- item
	return nil
}

func TestClipboardService_NotifiesAfterAdd(t *testing.T) {
	f := newClipFixture(t, 100)
	n := &recordingNotifier{items: make(chan *model.ClipboardItem, 1)}
	f.svc.WithNotifier(n)

	item, err := f.svc.Add(context.Background(), AddClipInput{UserID: uuid.New(), DeviceID: "D1", Content: "ping"})
	require.NoError(t, err)

	select {
	case got := <-n.items:
		assert.Equal(t, item.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called")
	}
}

// Scenario: alice adds "Hello" from D1; a subscriber for alice sees the add
// tagged with D1, and the list shows it first.
func TestClipboardService_AddReachesSubscribersThroughBridge(t *testing.T) {
	mr, rdb := newTestRedis(t)
	bridge := pubsub.NewBridge(rdb, 8)
	bctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(bctx)
	defer bridge.Close()

	keys, err := encryption.NewManager(1024)
	require.NoError(t, err)
	svc := NewClipboardService(repository.NewClipboardRepository(rdb, 100, time.Hour), bridge, keys, 1<<20)

	ctx := context.Background()
	alice := uuid.New()
	sub, err := bridge.Subscribe(ctx, alice)
	require.NoError(t, err)
	ch := pubsub.Channel(alice)
	require.Eventually(t, func() bool { return mr.PubSubNumSub(ch)[ch] == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = svc.Add(ctx, AddClipInput{UserID: alice, DeviceID: "D1", Content: "Hello"})
	require.NoError(t, err)

	select {
	case ev := <-sub.C:
		assert.Equal(t, model.SyncActionAdd, ev.Action)
		var data model.ClipAddedData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, "Hello", data.Content)
		assert.Equal(t, "D1", data.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("second event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	page, err := svc.List(ctx, alice, 1, 20, false)
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	assert.Equal(t, "Hello", page.Items[0].Content)
}
