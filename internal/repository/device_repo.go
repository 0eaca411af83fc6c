package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceRepository handles database operations for Device
type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert inserts the device or refreshes its metadata on re-login
func (r *DeviceRepository) Upsert(device *model.Device) error {
	updates := map[string]interface{}{
		"label":      device.Label,
		"os_info":    device.OSInfo,
		"ip_address": device.IPAddress,
		"last_seen":  device.LastSeen,
	}
	if device.PushToken != "" {
		updates["push_token"] = device.PushToken
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(device).Error
}

// FindByID finds a device by its client generated id
func (r *DeviceRepository) FindByID(id string) (*model.Device, error) {
	var device model.Device
	err := r.db.Where("id = ?", id).First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// ListByUser returns a user's devices, most recently seen first
func (r *DeviceRepository) ListByUser(userID uuid.UUID) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.Where("user_id = ?", userID).Order("last_seen DESC").Find(&devices).Error
	return devices, err
}

// UpdateLabel renames a device owned by userID
func (r *DeviceRepository) UpdateLabel(userID uuid.UUID, id, label string) (bool, error) {
	res := r.db.Model(&model.Device{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("label", label)
	return res.RowsAffected > 0, res.Error
}

// Touch records the last time a device was seen
func (r *DeviceRepository) Touch(id string, at time.Time) error {
	return r.db.Model(&model.Device{}).Where("id = ?", id).Update("last_seen", at).Error
}

// Delete removes a device owned by userID. Clipboard items are left alone.
func (r *DeviceRepository) Delete(userID uuid.UUID, id string) (bool, error) {
	res := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Device{})
	return res.RowsAffected > 0, res.Error
}

// PushTokens returns the FCM tokens of the given devices
func (r *DeviceRepository) PushTokens(userID uuid.UUID, excludeIDs []string) ([]string, error) {
	q := r.db.Model(&model.Device{}).
		Where("user_id = ? AND push_token <> ''", userID)
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}
	var tokens []string
	err := q.Pluck("push_token", &tokens).Error
	return tokens, err
}

// ClearPushToken drops a token FCM reported as unregistered
func (r *DeviceRepository) ClearPushToken(token string) error {
	return r.db.Model(&model.Device{}).Where("push_token = ?", token).Update("push_token", "").Error
}
