package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/alerts"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/ingestion"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/query"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
)

type App interface {
	Ingest(ctx context.Context, batch types.Batch) (ingestion.Result, error)

	Realtime(ctx context.Context, deviceID, kind string) ([]types.RealtimePoint, error)
	Aggregate(ctx context.Context, deviceID, mode string) ([]types.DailyConsumption, error)
	AlarmHistory(ctx context.Context, deviceID string) ([]types.AlarmEntry, error)

	PollAlert(ctx context.Context, sessionID, deviceID, kind string) (types.AlertStatus, error)

	RegisterUser(ctx context.Context, user types.User) (types.User, error)
	GetUser(ctx context.Context, userID string) (types.User, error)

	// Processor exposes the ingestion processor to other transports.
	Processor() ingestion.Processor
}

type app struct {
	store     database.Datastore
	processor ingestion.Processor
	queries   query.Service
	alerts    alerts.Service
}

func New(store database.Datastore, publisher ingestion.Publisher, sessions alerts.SessionStore, cfg Config) App {
	queries := query.New(store, cfg.StorageTimeout)

	return &app{
		store: store,
		processor: ingestion.New(store, publisher, ingestion.Config{
			GasAlarmThreshold: cfg.GasAlarmThreshold,
			StorageTimeout:    cfg.StorageTimeout,
		}),
		queries: queries,
		alerts: alerts.New(alerts.Config{
			Threshold:    cfg.GasAlarmThreshold,
			Cooldown:     cfg.AlertCooldown,
			DisplayTicks: cfg.AlertDisplayTicks,
		}, queries, sessions),
	}
}

func (a *app) Processor() ingestion.Processor {
	return a.processor
}

func (a *app) Ingest(ctx context.Context, batch types.Batch) (ingestion.Result, error) {
	return a.processor.Process(ctx, batch)
}

func (a *app) Realtime(ctx context.Context, deviceID, kind string) ([]types.RealtimePoint, error) {
	return a.queries.Realtime(ctx, deviceID, kind)
}

func (a *app) Aggregate(ctx context.Context, deviceID, mode string) ([]types.DailyConsumption, error) {
	return a.queries.Aggregate(ctx, deviceID, mode)
}

func (a *app) AlarmHistory(ctx context.Context, deviceID string) ([]types.AlarmEntry, error) {
	return a.queries.AlarmHistory(ctx, deviceID)
}

func (a *app) PollAlert(ctx context.Context, sessionID, deviceID, kind string) (types.AlertStatus, error) {
	return a.alerts.Poll(ctx, sessionID, deviceID, kind)
}

func (a *app) RegisterUser(ctx context.Context, user types.User) (types.User, error) {
	user.UserID = strings.TrimSpace(user.UserID)
	if user.UserID == "" {
		return types.User{}, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}

	created, err := a.store.RegisterUser(ctx, MapFromUser(user))
	if err != nil {
		if errors.Is(err, database.ErrUserExists) {
			return types.User{}, fmt.Errorf("%w: user %s is already registered", types.ErrConflict, user.UserID)
		}

		log := logging.GetFromContext(ctx)
		log.Error().Err(err).Msg("could not register user")

		return types.User{}, fmt.Errorf("%w: could not register user: %w", types.ErrPersistence, err)
	}

	return MapToUser(created), nil
}

func (a *app) GetUser(ctx context.Context, userID string) (types.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return types.User{}, fmt.Errorf("%w: user_id is required", types.ErrValidation)
	}

	u, err := a.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return types.User{}, fmt.Errorf("%w: user %s", types.ErrNotFound, userID)
		}
		return types.User{}, fmt.Errorf("%w: could not fetch user: %w", types.ErrPersistence, err)
	}

	return MapToUser(u), nil
}
