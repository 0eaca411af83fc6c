package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ContentType tags what a clipboard item holds
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeURL   ContentType = "url"
	ContentTypeHTML  ContentType = "html"
	ContentTypeImage ContentType = "image"
	ContentTypeFile  ContentType = "file"
)

// Valid reports whether t is a known content type
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeURL, ContentTypeHTML, ContentTypeImage, ContentTypeFile:
		return true
	}
	return false
}

// IsBinary reports whether the content is a FileRef rather than inline text
func (t ContentType) IsBinary() bool {
	return t == ContentTypeImage || t == ContentTypeFile
}

// ClipboardItem is one entry of a user's clipboard log, stored as the Redis hash item:<id>
type ClipboardItem struct {
	ID          uuid.UUID   `json:"id"`
	UserID      uuid.UUID   `json:"user_id"`
	DeviceID    string      `json:"device_id"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	Size        int64       `json:"size"`
	Checksum    string      `json:"checksum"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Score is the ordering key inside the user's sorted set
func (i *ClipboardItem) Score() float64 {
	return float64(i.CreatedAt.UnixMicro())
}

// ToHash flattens the item into Redis hash fields
func (i *ClipboardItem) ToHash() map[string]interface{} {
	return map[string]interface{}{
		"id":           i.ID.String(),
		"user_id":      i.UserID.String(),
		"device_id":    i.DeviceID,
		"content":      i.Content,
		"content_type": string(i.ContentType),
		"size":         i.Size,
		"checksum":     i.Checksum,
		"created_at":   i.CreatedAt.UnixMicro(),
		"updated_at":   i.UpdatedAt.UnixMicro(),
	}
}

// ClipboardItemFromHash rebuilds an item from HGETALL output
func ClipboardItemFromHash(h map[string]string) (*ClipboardItem, error) {
	id, err := uuid.Parse(h["id"])
	if err != nil {
		return nil, fmt.Errorf("item id: %w", err)
	}
	userID, err := uuid.Parse(h["user_id"])
	if err != nil {
		return nil, fmt.Errorf("item user_id: %w", err)
	}
	size, _ := strconv.ParseInt(h["size"], 10, 64)
	created, err := strconv.ParseInt(h["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("item created_at: %w", err)
	}
	updated, err := strconv.ParseInt(h["updated_at"], 10, 64)
	if err != nil {
		updated = created
	}

	return &ClipboardItem{
		ID:          id,
		UserID:      userID,
		DeviceID:    h["device_id"],
		Content:     h["content"],
		ContentType: ContentType(h["content_type"]),
		Size:        size,
		Checksum:    h["checksum"],
		CreatedAt:   time.UnixMicro(created).UTC(),
		UpdatedAt:   time.UnixMicro(updated).UTC(),
	}, nil
}

// FileRef is the content of an image or file clip: the bytes live in object storage
type FileRef struct {
	ObjectKey string `json:"object_key"`
	URL       string `json:"url"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
}

// ClipboardStats summarises a user's clipboard log
type ClipboardStats struct {
	TotalItems int64                 `json:"total_items"`
	TotalSize  int64                 `json:"total_size"`
	ByType     map[ContentType]int64 `json:"by_type"`
	ByDevice   map[string]int64      `json:"by_device"`
	Oldest     *time.Time            `json:"oldest,omitempty"`
	Newest     *time.Time            `json:"newest,omitempty"`
	MaxItems   int                   `json:"max_items"`
}
