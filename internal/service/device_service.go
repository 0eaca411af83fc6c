package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/repository"
)

// DeviceStore is the device persistence DeviceService needs
type DeviceStore interface {
	FindByID(id string) (*model.Device, error)
	ListByUser(userID uuid.UUID) ([]model.Device, error)
	UpdateLabel(userID uuid.UUID, id, label string) (bool, error)
	Touch(id string, at time.Time) error
	Delete(userID uuid.UUID, id string) (bool, error)
}

// PresenceReader answers whether a device holds a live connection somewhere
type PresenceReader interface {
	PresenceMarker
	IsOnline(ctx context.Context, deviceID string) (bool, error)
	LastSeen(ctx context.Context, deviceID string) (time.Time, error)
}

// Disconnector drops the live sockets of a device on this instance
type Disconnector interface {
	DisconnectDevice(userID uuid.UUID, deviceID string) int
}

// DeviceService manages a user's registered devices
type DeviceService struct {
	devices   DeviceStore
	presence  PresenceReader
	sockets   Disconnector
	clipboard *ClipboardService
}

func NewDeviceService(devices DeviceStore, presence PresenceReader, sockets Disconnector, clipboard *ClipboardService) *DeviceService {
	return &DeviceService{
		devices:   devices,
		presence:  presence,
		sockets:   sockets,
		clipboard: clipboard,
	}
}

// List returns the user's devices with their live status
func (s *DeviceService) List(ctx context.Context, userID uuid.UUID, currentDevice string) ([]model.DeviceResponse, error) {
	devices, err := s.devices.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	result := make([]model.DeviceResponse, 0, len(devices))
	for i := range devices {
		online, err := s.presence.IsOnline(ctx, devices[i].ID)
		if err != nil {
			return nil, err
		}
		result = append(result, devices[i].ToResponse(online, devices[i].ID == currentDevice))
	}
	return result, nil
}

// Stats counts the user's devices, online and offline, grouped by the
// platform reported at login
func (s *DeviceService) Stats(ctx context.Context, userID uuid.UUID) (*model.DeviceStatsResponse, error) {
	devices, err := s.List(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	stats := &model.DeviceStatsResponse{
		TotalDevices: len(devices),
		ByPlatform:   make(map[string]int),
	}
	for _, d := range devices {
		if d.IsOnline {
			stats.OnlineDevices++
		}
		platform := d.OSInfo
		if platform == "" {
			platform = "unknown"
		}
		stats.ByPlatform[platform]++
	}
	stats.OfflineDevices = stats.TotalDevices - stats.OnlineDevices
	return stats, nil
}

// Status reports whether one device is online and when it was last seen
func (s *DeviceService) Status(ctx context.Context, userID uuid.UUID, deviceID string) (*model.DeviceStatusResponse, error) {
	device, err := s.owned(userID, deviceID)
	if err != nil {
		return nil, err
	}

	online, err := s.presence.IsOnline(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	lastSeen := device.LastSeen
	if online {
		if at, err := s.presence.LastSeen(ctx, deviceID); err == nil && at.After(lastSeen) {
			lastSeen = at
		}
	}

	return &model.DeviceStatusResponse{
		DeviceID: deviceID,
		IsOnline: online,
		LastSeen: lastSeen.UTC().Format(time.RFC3339),
	}, nil
}

// UpdateLabel renames a device
func (s *DeviceService) UpdateLabel(userID uuid.UUID, deviceID, label string) (*model.Device, error) {
	label = strings.TrimSpace(label)
	if label == "" || len(label) > 50 {
		return nil, model.ErrInvalidInput
	}
	ok, err := s.devices.UpdateLabel(userID, deviceID, label)
	if err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.owned(userID, deviceID)
}

// Remove unregisters a device other than the one making the request. Its
// clips stay in the log; PurgeDevice removes them.
func (s *DeviceService) Remove(ctx context.Context, userID uuid.UUID, currentDevice, deviceID string) error {
	if deviceID == currentDevice {
		return model.ErrCannotRemoveCurrentDevice
	}
	ok, err := s.devices.Delete(userID, deviceID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if !ok {
		return model.ErrNotFound
	}

	if s.sockets != nil {
		s.sockets.DisconnectDevice(userID, deviceID)
	}
	if err := s.presence.MarkOffline(ctx, userID, deviceID); err != nil {
		log.Printf("⚠️  Failed to clear presence for %s: %v", deviceID, err)
	}
	log.Printf("📵 Device %s removed for user %s", deviceID, userID)
	return nil
}

// Purge removes every clip that came from deviceID, registered or not
func (s *DeviceService) Purge(ctx context.Context, userID uuid.UUID, currentDevice, deviceID string) (*model.PurgeResponse, error) {
	n, err := s.clipboard.PurgeDevice(ctx, userID, currentDevice, deviceID)
	if err != nil {
		return nil, err
	}
	return &model.PurgeResponse{DeviceID: deviceID, Removed: n}, nil
}

// Seen records the time a device connected or disconnected
func (s *DeviceService) Seen(deviceID string, at time.Time) {
	if err := s.devices.Touch(deviceID, at.UTC()); err != nil {
		log.Printf("⚠️  Failed to update last_seen for %s: %v", deviceID, err)
	}
}

func (s *DeviceService) owned(userID uuid.UUID, deviceID string) (*model.Device, error) {
	device, err := s.devices.FindByID(deviceID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("find device: %w", err)
	}
	if device.UserID != userID {
		return nil, model.ErrNotFound
	}
	return device, nil
}
