package model

import (
	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/pkg/encryption"
)

// ========== Auth DTOs ==========

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Username   string     `json:"username" binding:"required"`
	Password   string     `json:"password" binding:"required"`
	DeviceInfo DeviceInfo `json:"device_info" binding:"required"`
}

// DeviceInfo describes the device a login comes from
type DeviceInfo struct {
	DeviceID  string `json:"device_id" binding:"required,max=100"`
	Label     string `json:"label" binding:"max=50"`
	OSInfo    string `json:"os_info" binding:"max=100"`
	PushToken string `json:"push_token"`
}

type LoginResponse struct {
	AccessToken       string       `json:"access_token"`
	RefreshToken      string       `json:"refresh_token"`
	TokenType         string       `json:"token_type"`
	ExpiresIn         int64        `json:"expires_in"`
	User              UserResponse `json:"user"`
	DeviceID          string       `json:"device_id"`
	ServerPublicKey   string       `json:"server_public_key"`
	EncryptionEnabled bool         `json:"encryption_enabled"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
	Algorithm string `json:"algorithm"`
	Cipher    string `json:"cipher"`
}

type KeyExchangeRequest struct {
	EncryptedKey string `json:"encrypted_key" binding:"required"`
}

// ========== Clipboard DTOs ==========

// AddClipRequest carries either plain content or an encrypted payload
type AddClipRequest struct {
	Content     string              `json:"content"`
	ContentType ContentType         `json:"content_type"`
	Encrypted   *encryption.Payload `json:"encrypted,omitempty"`
}

type AddClipResponse struct {
	ID        uuid.UUID `json:"id"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	CreatedAt string    `json:"created_at"`
}

type ListClipsQuery struct {
	Page      int  `form:"page,default=1" binding:"min=1"`
	PageSize  int  `form:"page_size,default=20" binding:"min=1,max=100"`
	Encrypted bool `form:"encrypted"`
}

// ClipView is an item as returned to clients; Content is empty when Encrypted is set
type ClipView struct {
	ClipboardItem
	Encrypted *encryption.Payload `json:"encrypted,omitempty"`
}

type ClipboardPage struct {
	Items    []ClipView `json:"items"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	HasMore  bool       `json:"has_more"`
}

type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// ========== Device DTOs ==========

type UpdateDeviceRequest struct {
	Label string `json:"label" binding:"required,min=1,max=50"`
}

type DeviceStatusResponse struct {
	DeviceID string `json:"device_id"`
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen"`
}

// DeviceStatsResponse counts the user's devices by presence and platform
type DeviceStatsResponse struct {
	TotalDevices   int            `json:"total_devices"`
	OnlineDevices  int            `json:"online_devices"`
	OfflineDevices int            `json:"offline_devices"`
	ByPlatform     map[string]int `json:"by_platform"`
}

type PurgeResponse struct {
	DeviceID string `json:"device_id"`
	Removed  int    `json:"removed"`
}

// ========== Common ==========

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
