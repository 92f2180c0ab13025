package models

import "time"

// DeviceEntry is one key of a guest device's local storage.
type DeviceEntry struct {
	DeviceID  string `gorm:"primaryKey"`
	Key       string `gorm:"primaryKey;column:entry_key"`
	Value     string
	CreatedAt time.Time // Automatically managed by GORM
	UpdatedAt time.Time // Automatically managed by GORM
}

// TableName specifies the table name for DeviceEntry model.
func (DeviceEntry) TableName() string {
	return "device_storage"
}
