package repository

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ishu-sri-001/neuro-nest/models"
)

// ErrEmptyDeviceID is returned when a device-scoped operation has no device.
var ErrEmptyDeviceID = errors.New("device ID cannot be empty")

// DeviceStorage is a string key-value store scoped to one guest device.
type DeviceStorage interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, deviceID, key string) (string, bool, error)
	Set(ctx context.Context, deviceID, key, value string) error
}

type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a DeviceStorage backed by the device_storage table.
func NewDeviceRepository(db *gorm.DB) DeviceStorage {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) Get(ctx context.Context, deviceID, key string) (string, bool, error) {
	if deviceID == "" {
		return "", false, ErrEmptyDeviceID
	}

	var entry models.DeviceEntry
	err := r.db.WithContext(ctx).First(&entry, "device_id = ? AND entry_key = ?", deviceID, key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "failed to fetch %s for device %s", key, deviceID)
	}
	return entry.Value, true, nil
}

// Set writes value under key, replacing any previous value.
func (r *deviceRepository) Set(ctx context.Context, deviceID, key, value string) error {
	if deviceID == "" {
		return ErrEmptyDeviceID
	}

	entry := models.DeviceEntry{DeviceID: deviceID, Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return errors.Wrapf(err, "failed to store %s for device %s", key, deviceID)
	}

	log.Debug().Str("component", "DeviceRepository").Str("device_id", deviceID).Str("key", key).Str("value", value).Msg("device entry stored")
	return nil
}
