package ingestion

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

//go:generate moq -rm -out processor_mock.go . Processor

type Processor interface {
	Process(ctx context.Context, batch types.Batch) (Result, error)
}

//go:generate moq -rm -out publisher_mock.go . Publisher

type Publisher interface {
	PublishOnTopic(ctx context.Context, message types.TopicMessage) error
}

type Result struct {
	DeviceID      string
	Inserted      int
	Dropped       int
	Alarms        int
	DeviceCreated bool
	BoundUserID   string
	Duplicate     bool
}

const DefaultGasAlarmThreshold float64 = 500

type Config struct {
	GasAlarmThreshold float64
	StorageTimeout    time.Duration
}

var tracer = otel.Tracer("iot-sensor-telemetry/ingestion")

type processor struct {
	store     database.Datastore
	publisher Publisher
	cfg       Config
	now       func() time.Time
}

func New(store database.Datastore, publisher Publisher, cfg Config) Processor {
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 5 * time.Second
	}

	return &processor{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IsAlarm is the alarm predicate that is evaluated once per reading at
// ingestion time.
func IsAlarm(kind string, value, threshold float64) bool {
	return kind == types.KindGas && value > threshold
}

func (p *processor) Process(ctx context.Context, batch types.Batch) (Result, error) {
	var err error

	ctx, span := tracer.Start(ctx, "process-batch")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
	_, ctx, log := logging.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

	deviceID := strings.TrimSpace(batch.MacBase)
	if deviceID == "" {
		err = fmt.Errorf("%w: mac_base is required", types.ErrValidation)
		return Result{}, err
	}

	if len(batch.Lecturas) == 0 {
		err = fmt.Errorf("%w: lecturas must contain at least one reading", types.ErrValidation)
		return Result{}, err
	}

	span.SetAttributes(attribute.String("device_id", deviceID), attribute.Int("readings", len(batch.Lecturas)))
	log = log.With().Str("device_id", deviceID).Logger()

	readings := p.toReadings(ctx, deviceID, batch)
	dropped := len(batch.Lecturas) - len(readings)

	if len(readings) == 0 {
		err = fmt.Errorf("%w: batch contains no valid readings", types.ErrValidation)
		return Result{}, err
	}

	result := Result{
		DeviceID: deviceID,
		Dropped:  dropped,
		Alarms:   lo.CountBy(readings, func(r database.SensorReading) bool { return r.Alarm }),
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StorageTimeout)
	defer cancel()

	err = p.store.Transaction(storeCtx, func(uow database.UnitOfWork) error {
		result.DeviceCreated, result.BoundUserID = false, ""

		if batch.BatchID != "" {
			first, err := uow.RecordBatch(storeCtx, batch.BatchID, deviceID)
			if err != nil {
				return err
			}
			if !first {
				result.Duplicate = true
				return nil
			}
		}

		_, created, err := uow.FindOrCreateDevice(storeCtx, deviceID)
		if err != nil {
			return err
		}

		result.DeviceCreated = created

		if created {
			user, bound, err := uow.ClaimUnassignedUser(storeCtx, deviceID)
			if err != nil {
				return err
			}
			if bound {
				result.BoundUserID = user.UserID
			}
		}

		result.Inserted, err = uow.InsertReadings(storeCtx, readings)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to store batch")
		err = fmt.Errorf("%w: could not store batch from %s: %w", types.ErrPersistence, deviceID, err)
		return Result{}, err
	}

	if result.Duplicate {
		log.Info().Str("batch_id", batch.BatchID).Msg("ignoring already ingested batch")
		result.Alarms = 0
		return result, nil
	}

	log.Debug().Msgf("stored %d readings, dropped %d", result.Inserted, result.Dropped)

	p.publish(ctx, batch.BatchID, result, readings)

	return result, nil
}

func (p *processor) toReadings(ctx context.Context, deviceID string, batch types.Batch) []database.SensorReading {
	log := logging.GetFromContext(ctx)
	now := p.now()

	return lo.FilterMap(batch.Lecturas, func(l types.Lecture, i int) (database.SensorReading, bool) {
		kind := strings.ToLower(strings.TrimSpace(l.Type))
		if !lo.Contains(types.SensorKinds, kind) {
			log.Debug().Msgf("dropping reading %d with unknown type %q", i, l.Type)
			return database.SensorReading{}, false
		}

		value, err := l.Lecture.Float()
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			log.Debug().Msgf("dropping %s reading %d with unparseable value %q", kind, i, string(l.Lecture))
			return database.SensorReading{}, false
		}

		captured, err := parseTimestamp(l.TimeStamp, now)
		if err != nil {
			log.Debug().Msgf("dropping reading %d with unparseable timestamp %q", i, l.TimeStamp)
			return database.SensorReading{}, false
		}

		return database.SensorReading{
			DeviceID: deviceID,
			SensorID: deviceID + strings.TrimSpace(l.IDSuffix),
			Kind:     kind,
			Value:    value,
			Captured: captured,
			Alarm:    IsAlarm(kind, value, p.cfg.GasAlarmThreshold),
			BatchID:  batch.BatchID,
		}, true
	})
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(ts string, now time.Time) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return now, nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported timestamp format %q", ts)
}

func (p *processor) publish(ctx context.Context, batchID string, result Result, readings []database.SensorReading) {
	if p.publisher == nil {
		return
	}

	log := logging.GetFromContext(ctx)

	err := p.publisher.PublishOnTopic(ctx, &types.ReadingsIngested{
		DeviceID:      result.DeviceID,
		BatchID:       batchID,
		Inserted:      result.Inserted,
		Alarms:        result.Alarms,
		DeviceCreated: result.DeviceCreated,
		BoundUserID:   result.BoundUserID,
		Timestamp:     p.now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("could not publish ingestion event")
	}

	for _, r := range lo.Filter(readings, func(r database.SensorReading, _ int) bool { return r.Alarm }) {
		err = p.publisher.PublishOnTopic(ctx, &types.GasAlarm{
			DeviceID:   r.DeviceID,
			SensorID:   r.SensorID,
			Value:      r.Value,
			Threshold:  p.cfg.GasAlarmThreshold,
			ObservedAt: r.Captured,
		})
		if err != nil {
			log.Warn().Err(err).Str("sensor_id", r.SensorID).Msg("could not publish alarm event")
		}
	}
}
