package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	RealtimeWindowSize = 30
	AlarmHistoryLimit  = 50

	ModeWeekly  string = "weekly"
	ModeMonthly string = "monthly"

	sketchRelativeAccuracy = 0.01
	exactQuantileLimit     = 100
)

var modeDays = map[string]int{
	ModeWeekly:  7,
	ModeMonthly: 30,
}

type Service interface {
	Realtime(ctx context.Context, deviceID, kind string) ([]types.RealtimePoint, error)
	Aggregate(ctx context.Context, deviceID, mode string) ([]types.DailyConsumption, error)
	AlarmHistory(ctx context.Context, deviceID string) ([]types.AlarmEntry, error)
	// LatestValue returns the most recent reading value for the device and kind.
	// It reports false if there is no reading yet.
	LatestValue(ctx context.Context, deviceID, kind string) (float64, time.Time, bool, error)
}

var tracer = otel.Tracer("iot-sensor-telemetry/query")

type service struct {
	store   database.Datastore
	timeout time.Duration
	now     func() time.Time
}

func New(store database.Datastore, timeout time.Duration) Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &service{
		store:   store,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Realtime(ctx context.Context, deviceID, kind string) ([]types.RealtimePoint, error) {
	var err error

	ctx, span := tracer.Start(ctx, "query-realtime")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	deviceID, err = requireDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		err = fmt.Errorf("%w: type is required", types.ErrValidation)
		return nil, err
	}

	span.SetAttributes(attribute.String("device_id", deviceID), attribute.String("kind", kind))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	readings, err := s.store.LatestReadings(ctx, deviceID, kind, RealtimeWindowSize)
	if err != nil {
		err = s.storageError(ctx, "realtime", err)
		return nil, err
	}

	points := lo.Map(readings, func(r database.SensorReading, _ int) types.RealtimePoint {
		return types.RealtimePoint{TimeStamp: r.Captured.UTC(), Value: r.Value}
	})

	return lo.Reverse(points), nil
}

func (s *service) Aggregate(ctx context.Context, deviceID, mode string) ([]types.DailyConsumption, error) {
	var err error

	ctx, span := tracer.Start(ctx, "query-aggregate")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	deviceID, err = requireDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	days, ok := modeDays[mode]
	if !ok {
		err = fmt.Errorf("%w: mode must be one of weekly or monthly", types.ErrValidation)
		return nil, err
	}

	span.SetAttributes(attribute.String("device_id", deviceID), attribute.String("mode", mode))

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	readings, err := s.store.ReadingsSince(ctx, deviceID, types.KindGas, since)
	if err != nil {
		err = s.storageError(ctx, "aggregate", err)
		return nil, err
	}

	rows, err := dailyAggregates(readings)
	return rows, err
}

func dailyAggregates(readings []database.SensorReading) ([]types.DailyConsumption, error) {
	byDay := lo.GroupBy(readings, func(r database.SensorReading) string {
		return r.Captured.UTC().Format(time.DateOnly)
	})

	rows := make([]types.DailyConsumption, 0, len(byDay))

	for date, values := range byDay {
		sum := lo.SumBy(values, func(r database.SensorReading) float64 { return r.Value })

		p95, err := percentile95(lo.Map(values, func(r database.SensorReading, _ int) float64 { return r.Value }))
		if err != nil {
			return nil, err
		}

		rows = append(rows, types.DailyConsumption{
			Date:        date,
			Consumption: sum / float64(len(values)),
			Count:       len(values),
			P95:         p95,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })

	return rows, nil
}

// percentile95 uses the nearest-rank definition, the value at rank
// ceil(0.95*n) of the sorted day, for days of up to exactQuantileLimit
// readings. Larger days are estimated with a DDSketch.
func percentile95(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	if len(values) <= exactQuantileLimit {
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		rank := int(math.Ceil(0.95 * float64(len(sorted))))
		return sorted[rank-1], nil
	}

	sketch, err := ddsketch.NewDefaultDDSketch(sketchRelativeAccuracy)
	if err != nil {
		return 0, err
	}

	for _, v := range values {
		if err := sketch.Add(v); err != nil {
			return 0, err
		}
	}

	return sketch.GetValueAtQuantile(0.95)
}

func (s *service) AlarmHistory(ctx context.Context, deviceID string) ([]types.AlarmEntry, error) {
	var err error

	ctx, span := tracer.Start(ctx, "query-alarm-history")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	deviceID, err = requireDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("device_id", deviceID))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	readings, err := s.store.AlarmReadings(ctx, deviceID, AlarmHistoryLimit)
	if err != nil {
		err = s.storageError(ctx, "alarm history", err)
		return nil, err
	}

	entries := lo.FilterMap(readings, func(r database.SensorReading, _ int) (types.AlarmEntry, bool) {
		return types.AlarmEntry{
			TimeStamp: r.Captured.UTC(),
			IDSensor:  r.SensorID,
			GasPPM:    r.Value,
		}, r.Alarm && r.Kind == types.KindGas
	})

	return entries, nil
}

func (s *service) LatestValue(ctx context.Context, deviceID, kind string) (float64, time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	readings, err := s.store.LatestReadings(ctx, deviceID, kind, 1)
	if err != nil {
		return 0, time.Time{}, false, s.storageError(ctx, "latest value", err)
	}

	if len(readings) == 0 {
		return 0, time.Time{}, false, nil
	}

	return readings[0].Value, readings[0].Captured.UTC(), true, nil
}

func (s *service) storageError(ctx context.Context, query string, err error) error {
	log := logging.GetFromContext(ctx)
	log.Error().Err(err).Msgf("%s query failed", query)

	return fmt.Errorf("%w: %s query failed: %w", types.ErrPersistence, query, err)
}

func requireDeviceID(deviceID string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", fmt.Errorf("%w: device_id is required", types.ErrValidation)
	}
	return deviceID, nil
}
