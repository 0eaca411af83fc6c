package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/pkg/encryption"
)

// SyncAction is the kind of clipboard mutation being announced
type SyncAction string

const (
	SyncActionAdd    SyncAction = "add"
	SyncActionDelete SyncAction = "delete"
	SyncActionClear  SyncAction = "clear"
)

// SyncEvent is published on sync:<userID> once per committed clipboard mutation
type SyncEvent struct {
	UserID       uuid.UUID       `json:"user_id"`
	Action       SyncAction      `json:"action"`
	Data         json.RawMessage `json:"data"`
	SourceDevice string          `json:"source_device"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ClipAddedData is the event payload for an add
type ClipAddedData struct {
	ClipID      uuid.UUID   `json:"clip_id"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	CreatedAt   time.Time   `json:"created_at"`
	DeviceID    string      `json:"device_id"`
	Checksum    string      `json:"checksum"`
}

// ClipDeletedData is the event payload for a delete
type ClipDeletedData struct {
	ClipID uuid.UUID `json:"clip_id"`
}

// NewAddEvent announces a freshly stored item
func NewAddEvent(item *ClipboardItem, at time.Time) *SyncEvent {
	data, _ := json.Marshal(ClipAddedData{
		ClipID:      item.ID,
		Content:     item.Content,
		ContentType: item.ContentType,
		CreatedAt:   item.CreatedAt,
		DeviceID:    item.DeviceID,
		Checksum:    item.Checksum,
	})
	return &SyncEvent{
		UserID:       item.UserID,
		Action:       SyncActionAdd,
		Data:         data,
		SourceDevice: item.DeviceID,
		Timestamp:    at,
	}
}

// NewDeleteEvent announces a removed item
func NewDeleteEvent(userID, clipID uuid.UUID, sourceDevice string, at time.Time) *SyncEvent {
	data, _ := json.Marshal(ClipDeletedData{ClipID: clipID})
	return &SyncEvent{
		UserID:       userID,
		Action:       SyncActionDelete,
		Data:         data,
		SourceDevice: sourceDevice,
		Timestamp:    at,
	}
}

// NewClearEvent announces that the whole log was dropped
func NewClearEvent(userID uuid.UUID, sourceDevice string, at time.Time) *SyncEvent {
	return &SyncEvent{
		UserID:       userID,
		Action:       SyncActionClear,
		Data:         json.RawMessage(`{}`),
		SourceDevice: sourceDevice,
		Timestamp:    at,
	}
}

// Message converts the event to the clipboard_update frame sent to sockets
func (e *SyncEvent) Message() *WSMessage {
	return &WSMessage{
		Type:         WSTypeClipboardUpdate,
		Action:       e.Action,
		Data:         e.Data,
		SourceDevice: e.SourceDevice,
		Timestamp:    e.Timestamp,
	}
}

// WebSocket message types
const (
	WSTypeAuth            = "auth"
	WSTypeAuthSuccess     = "auth_success"
	WSTypeClipboardUpdate = "clipboard_update"
	WSTypePing            = "ping"
	WSTypePong            = "pong"
	WSTypeSync            = "sync"
	WSTypeSyncConfirm     = "sync_confirm"
	WSTypeRequestHistory  = "request_history"
	WSTypeHistory         = "history"
	WSTypeKeyExchange     = "key_exchange"
	WSTypeKeyExchangeOK   = "key_exchange_success"
	WSTypeError           = "error"
)

// WSMessage is the frame exchanged with connected clients
type WSMessage struct {
	Type         string          `json:"type"`
	Action       SyncAction      `json:"action,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	SourceDevice string          `json:"source_device,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Token        string          `json:"token,omitempty"` // only on inbound auth frames
}

// NewWSMessage builds an outbound frame, marshalling data up front
func NewWSMessage(msgType string, data interface{}) *WSMessage {
	msg := &WSMessage{Type: msgType, Timestamp: time.Now().UTC()}
	if data != nil {
		msg.Data, _ = json.Marshal(data)
	}
	return msg
}

// WSErrorData carries a human readable reason
type WSErrorData struct {
	Reason string `json:"reason"`
}

// WSSyncData is what a client sends to push a clip over the socket. A client
// holding a session key sends Encrypted instead of Content.
type WSSyncData struct {
	Content     string              `json:"content"`
	ContentType ContentType         `json:"content_type"`
	Encrypted   *encryption.Payload `json:"encrypted,omitempty"`
}

// WSKeyExchangeData carries an RSA-OAEP wrapped session key, base64
type WSKeyExchangeData struct {
	EncryptedKey string `json:"encrypted_key"`
}

// WSHistoryRequest asks for a page of history over the socket
type WSHistoryRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
