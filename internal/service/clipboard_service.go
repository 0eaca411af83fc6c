package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/pkg/encryption"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	notifyTimeout   = 10 * time.Second
)

// ClipboardStore is the clipboard log persistence
type ClipboardStore interface {
	Save(ctx context.Context, item *model.ClipboardItem) ([]string, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.ClipboardItem, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID) (int64, error)
	Page(ctx context.Context, userID uuid.UUID, offset, limit int64) ([]model.ClipboardItem, int64, error)
	Latest(ctx context.Context, userID uuid.UUID) (*model.ClipboardItem, error)
	Stats(ctx context.Context, userID uuid.UUID) (*model.ClipboardStats, error)
	PurgeDevice(ctx context.Context, userID uuid.UUID, deviceID string) ([]uuid.UUID, error)
}

// EventPublisher announces committed mutations to every process
type EventPublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, event *model.SyncEvent) error
}

// Cipher seals and opens clipboard bodies with the user's session key
type Cipher interface {
	Encrypt(userID uuid.UUID, plaintext string) (*encryption.Payload, error)
	Decrypt(userID uuid.UUID, p *encryption.Payload) (string, error)
	HasSessionKey(userID uuid.UUID) bool
}

// Notifier pushes a notification about a new item to devices that are not connected
type Notifier interface {
	NotifyClipboardUpdate(ctx context.Context, item *model.ClipboardItem) error
}

// FileStore keeps the bytes of image and file clips
type FileStore interface {
	Put(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, fileName, contentType string) (*model.FileRef, error)
	Delete(ctx context.Context, objectKey string) error
}

// AddClipInput is a clip as received from HTTP or a socket. Exactly one of
// Content and Encrypted is used; Encrypted wins when set.
type AddClipInput struct {
	UserID      uuid.UUID
	DeviceID    string
	Content     string
	ContentType model.ContentType
	Encrypted   *encryption.Payload
}

// UploadInput is a binary clip streamed from a multipart form
type UploadInput struct {
	UserID   uuid.UUID
	DeviceID string
	Body     io.Reader
	Size     int64
	FileName string
	MimeType string
}

// ClipboardService handles clipboard business logic. Every committed
// mutation is published exactly once.
type ClipboardService struct {
	store          ClipboardStore
	events         EventPublisher
	cipher         Cipher
	notifier       Notifier
	files          FileStore
	maxContentSize int64
	now            func() time.Time
}

func NewClipboardService(store ClipboardStore, events EventPublisher, cipher Cipher, maxContentSize int64) *ClipboardService {
	return &ClipboardService{
		store:          store,
		events:         events,
		cipher:         cipher,
		maxContentSize: maxContentSize,
		now:            time.Now,
	}
}

// WithNotifier enables push notifications for devices without a live socket
func (s *ClipboardService) WithNotifier(n Notifier) *ClipboardService {
	s.notifier = n
	return s
}

// WithFileStore enables binary uploads
func (s *ClipboardService) WithFileStore(f FileStore) *ClipboardService {
	s.files = f
	return s
}

// MaxContentSize is the per-item byte cap
func (s *ClipboardService) MaxContentSize() int64 {
	return s.maxContentSize
}

// Add stores a new clip and announces it to the user's other devices
func (s *ClipboardService) Add(ctx context.Context, in AddClipInput) (*model.ClipboardItem, error) {
	content := in.Content
	if in.Encrypted != nil {
		plain, err := s.cipher.Decrypt(in.UserID, in.Encrypted)
		if err != nil {
			return nil, cipherErr(err)
		}
		content = plain
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = model.ContentTypeText
	}
	if !contentType.Valid() || in.DeviceID == "" {
		return nil, model.ErrInvalidInput
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is empty", model.ErrInvalidInput)
	}
	size := int64(len(content))
	if s.maxContentSize > 0 && size > s.maxContentSize {
		return nil, model.ErrPayloadTooLarge
	}

	now := s.now().UTC()
	item := &model.ClipboardItem{
		ID:          uuid.New(),
		UserID:      in.UserID,
		DeviceID:    in.DeviceID,
		Content:     content,
		ContentType: contentType,
		Size:        size,
		Checksum:    encryption.Hash(content),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	evicted, err := s.store.Save(ctx, item)
	if err != nil {
		return nil, err
	}
	if len(evicted) > 0 {
		log.Printf("🗑️  Evicted %d old clips for user %s", len(evicted), in.UserID)
	}

	if err := s.publish(ctx, model.NewAddEvent(item, now)); err != nil {
		return nil, err
	}
	s.notify(item)
	return item, nil
}

// Upload stores a binary clip in object storage and adds a clip referencing it
func (s *ClipboardService) Upload(ctx context.Context, in UploadInput) (*model.ClipboardItem, error) {
	if s.files == nil {
		return nil, fmt.Errorf("%w: uploads are disabled", model.ErrStoreUnavailable)
	}
	if s.maxContentSize > 0 && in.Size > s.maxContentSize {
		return nil, model.ErrPayloadTooLarge
	}

	contentType := model.ContentTypeFile
	if strings.HasPrefix(strings.ToLower(in.MimeType), "image/") {
		contentType = model.ContentTypeImage
	}

	ref, err := s.files.Put(ctx, in.UserID, in.Body, in.Size, in.FileName, in.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	content, err := json.Marshal(ref)
	if err != nil {
		return nil, err
	}

	item, err := s.Add(ctx, AddClipInput{
		UserID:      in.UserID,
		DeviceID:    in.DeviceID,
		Content:     string(content),
		ContentType: contentType,
	})
	if err != nil {
		if delErr := s.files.Delete(ctx, ref.ObjectKey); delErr != nil {
			log.Printf("⚠️  Failed to remove orphaned object %s: %v", ref.ObjectKey, delErr)
		}
		return nil, err
	}
	return item, nil
}

// Get returns one of the user's clips
func (s *ClipboardService) Get(ctx context.Context, userID, id uuid.UUID) (*model.ClipboardItem, error) {
	item, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, model.ErrNotFound
	}
	return item, nil
}

// List returns a page of the user's clips, newest first. With encrypted set,
// each body is sealed with the session key instead of returned in clear.
func (s *ClipboardService) List(ctx context.Context, userID uuid.UUID, page, pageSize int, encrypted bool) (*model.ClipboardPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if encrypted && !s.cipher.HasSessionKey(userID) {
		return nil, model.ErrNoSessionKey
	}

	offset := int64(page-1) * int64(pageSize)
	items, total, err := s.store.Page(ctx, userID, offset, int64(pageSize))
	if err != nil {
		return nil, err
	}

	views := make([]model.ClipView, 0, len(items))
	for i := range items {
		view, err := s.view(userID, &items[i], encrypted)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}

	return &model.ClipboardPage{
		Items:    views,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  offset+int64(len(items)) < total,
	}, nil
}

// Latest returns the newest clip
func (s *ClipboardService) Latest(ctx context.Context, userID uuid.UUID, encrypted bool) (*model.ClipView, error) {
	if encrypted && !s.cipher.HasSessionKey(userID) {
		return nil, model.ErrNoSessionKey
	}
	item, err := s.store.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(userID, item, encrypted)
}

func (s *ClipboardService) view(userID uuid.UUID, item *model.ClipboardItem, encrypted bool) (*model.ClipView, error) {
	if !encrypted {
		return &model.ClipView{ClipboardItem: *item}, nil
	}
	payload, err := s.cipher.Encrypt(userID, item.Content)
	if err != nil {
		return nil, cipherErr(err)
	}
	v := &model.ClipView{ClipboardItem: *item, Encrypted: payload}
	v.Content = ""
	return v, nil
}

// Delete removes one clip. Missing or expired ids return ErrNotFound.
func (s *ClipboardService) Delete(ctx context.Context, userID uuid.UUID, sourceDevice string, id uuid.UUID) error {
	if err := s.store.Delete(ctx, userID, id); err != nil {
		return err
	}
	return s.publish(ctx, model.NewDeleteEvent(userID, id, sourceDevice, s.now().UTC()))
}

// Clear drops the whole log and returns how many items it held. The clear
// event is published even when the log was already empty.
func (s *ClipboardService) Clear(ctx context.Context, userID uuid.UUID, sourceDevice string) (int64, error) {
	n, err := s.store.Clear(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.publish(ctx, model.NewClearEvent(userID, sourceDevice, s.now().UTC())); err != nil {
		return 0, err
	}
	log.Printf("🧽 Cleared %d clips for user %s", n, userID)
	return n, nil
}

// Stats summarises the log
func (s *ClipboardService) Stats(ctx context.Context, userID uuid.UUID) (*model.ClipboardStats, error) {
	return s.store.Stats(ctx, userID)
}

// PurgeDevice removes the clips that came from one device and announces
// each removal.
func (s *ClipboardService) PurgeDevice(ctx context.Context, userID uuid.UUID, sourceDevice, deviceID string) (int, error) {
	removed, err := s.store.PurgeDevice(ctx, userID, deviceID)
	if err != nil {
		return 0, err
	}
	at := s.now().UTC()
	for _, id := range removed {
		if err := s.publish(ctx, model.NewDeleteEvent(userID, id, sourceDevice, at)); err != nil {
			return 0, err
		}
	}
	return len(removed), nil
}

func (s *ClipboardService) publish(ctx context.Context, event *model.SyncEvent) error {
	if err := s.events.Publish(ctx, event.UserID, event); err != nil {
		if errors.Is(err, model.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ClipboardService) notify(item *model.ClipboardItem) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyClipboardUpdate(ctx, item); err != nil {
			log.Printf("⚠️  Push notification failed for user %s: %v", item.UserID, err)
		}
	}()
}

// cipherErr maps encryption failures onto the shared sentinels
func cipherErr(err error) error {
	if errors.Is(err, encryption.ErrNoSessionKey) {
		return model.ErrNoSessionKey
	}
	return fmt.Errorf("%w: %w", model.ErrPayloadCorrupted, err)
}
