package database

import (
	"time"
)

type Device struct {
	ID        uint            `gorm:"primarykey"`
	DeviceID  string          `gorm:"uniqueIndex;not null;<-:create"`
	CreatedAt time.Time       `gorm:"<-:create"`
	Readings  []SensorReading `gorm:"foreignKey:DeviceID;references:DeviceID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
}

type User struct {
	ID           uint   `gorm:"primarykey"`
	UserID       string `gorm:"uniqueIndex;not null"`
	Name         string
	Email        string
	Phone        string
	DeviceID     *string   `gorm:"uniqueIndex"`
	RegisteredAt time.Time `gorm:"index;not null"`
}

type SensorReading struct {
	ID       uint      `gorm:"primarykey"`
	DeviceID string    `gorm:"not null;index:idx_readings_device_kind_ts,priority:1;index:idx_readings_device_alarm,priority:1"`
	SensorID string    `gorm:"not null"`
	Kind     string    `gorm:"not null;index:idx_readings_device_kind_ts,priority:2"`
	Value    float64   `gorm:"not null"`
	Captured time.Time `gorm:"column:captured_at;not null;index:idx_readings_device_kind_ts,priority:3"`
	Alarm    bool      `gorm:"not null;index:idx_readings_device_alarm,priority:2"`
	BatchID  string
}

// IngestedBatch marks a batch identifier as committed.
type IngestedBatch struct {
	BatchID   string `gorm:"primarykey"`
	DeviceID  string `gorm:"not null"`
	CreatedAt time.Time
}
