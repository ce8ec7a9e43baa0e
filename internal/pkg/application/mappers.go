package application

import (
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
)

func MapToUser(u database.User) types.User {
	return types.User{
		UserID:       u.UserID,
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		DeviceID:     u.DeviceID,
		RegisteredAt: u.RegisteredAt.UTC(),
	}
}

func MapFromUser(u types.User) database.User {
	return database.User{
		UserID:       u.UserID,
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		RegisteredAt: u.RegisteredAt,
	}
}
