package model

import (
	"time"

	"github.com/google/uuid"
)

// Device is a client installation. The id is generated on the client and
// stays the same across logins. Online status is not stored here; it comes
// from the presence markers in Redis.
type Device struct {
	ID        string    `json:"id" gorm:"primaryKey;size:100"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Label     string    `json:"label" gorm:"size:50;not null"`
	OSInfo    string    `json:"os_info" gorm:"column:os_info;size:100;default:''"`
	IPAddress string    `json:"ip_address" gorm:"size:45;default:''"`
	PushToken string    `json:"-" gorm:"size:500;default:''"` // FCM registration token, optional
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceResponse adds the derived presence flag
type DeviceResponse struct {
	Device
	IsOnline  bool `json:"is_online"`
	IsCurrent bool `json:"is_current"`
}

// ToResponse converts Device to DeviceResponse
func (d *Device) ToResponse(online, current bool) DeviceResponse {
	return DeviceResponse{Device: *d, IsOnline: online, IsCurrent: current}
}
