package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/matryer/is"
)

func TestRealtimeReturnsAtMostThirtyPointsInAscendingOrder(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := make([]database.SensorReading, 0, 40)
	for i := 0; i < 40; i++ {
		readings = append(readings, reading("AA", types.KindTemperature, float64(i), base.Add(time.Duration(i)*time.Minute), false))
	}
	insert(is, ctx, db, "AA", readings...)

	points, err := svc.Realtime(ctx, "AA", "temperature")
	is.NoErr(err)
	is.Equal(RealtimeWindowSize, len(points))
	is.Equal(10.0, points[0].Value)
	is.Equal(39.0, points[len(points)-1].Value)

	for i := 1; i < len(points); i++ {
		is.True(points[i-1].TimeStamp.Before(points[i].TimeStamp))
	}
}

func TestRealtimeWithFewerReadingsReturnsAll(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	insert(is, ctx, db, "AA",
		reading("AA", types.KindHumidity, 41, base.Add(time.Minute), false),
		reading("AA", types.KindHumidity, 40, base, false),
		reading("AA", types.KindGas, 10, base, false),
	)

	points, err := svc.Realtime(ctx, "AA", "humidity")
	is.NoErr(err)
	is.Equal(2, len(points))
	is.Equal(40.0, points[0].Value)
	is.Equal(41.0, points[1].Value)
}

func TestRealtimeRequiresDeviceAndType(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second)

	_, err := svc.Realtime(ctx, "", "gas")
	is.True(errors.Is(err, types.ErrValidation))

	_, err = svc.Realtime(ctx, "AA", " ")
	is.True(errors.Is(err, types.ErrValidation))
}

func TestRealtimeForUnknownDeviceIsEmpty(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second)

	points, err := svc.Realtime(ctx, "nope", "gas")
	is.NoErr(err)
	is.Equal(0, len(points))
}

func TestWeeklyAggregateNeverIncludesOlderDays(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second).(*service)

	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	readings := []database.SensorReading{}
	for d := 0; d < 10; d++ {
		day := now.AddDate(0, 0, -d)
		readings = append(readings,
			reading("AA", types.KindGas, 100, day, false),
			reading("AA", types.KindGas, 300, day.Add(-time.Hour), false),
		)
	}
	readings = append(readings, reading("AA", types.KindTemperature, 900, now, false))
	insert(is, ctx, db, "AA", readings...)

	rows, err := svc.Aggregate(ctx, "AA", ModeWeekly)
	is.NoErr(err)
	is.Equal(7, len(rows))
	is.Equal("2024-03-04", rows[0].Date)
	is.Equal("2024-03-10", rows[6].Date)

	for _, r := range rows {
		is.Equal(2, r.Count)
		is.Equal(200.0, r.Consumption)
		is.Equal(300.0, r.P95)
	}
}

func TestMonthlyAggregateCoversThirtyDays(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second).(*service)

	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	readings := []database.SensorReading{}
	for d := 0; d < 40; d++ {
		readings = append(readings, reading("AA", types.KindGas, 50, now.AddDate(0, 0, -d), false))
	}
	insert(is, ctx, db, "AA", readings...)

	rows, err := svc.Aggregate(ctx, "AA", ModeMonthly)
	is.NoErr(err)
	is.Equal(30, len(rows))
	is.Equal("2024-03-02", rows[0].Date)
}

func TestPercentile95UsesNearestRankForSmallDays(t *testing.T) {
	is := is.New(t)

	p95, err := percentile95([]float64{300, 100})
	is.NoErr(err)
	is.Equal(300.0, p95)

	values := make([]float64, 0, 20)
	for i := 1; i <= 20; i++ {
		values = append(values, float64(i))
	}
	p95, err = percentile95(values)
	is.NoErr(err)
	is.Equal(19.0, p95)

	p95, err = percentile95(nil)
	is.NoErr(err)
	is.Equal(0.0, p95)
}

func TestPercentile95EstimatesLargeDays(t *testing.T) {
	is := is.New(t)

	values := make([]float64, 0, 1000)
	for i := 1; i <= 1000; i++ {
		values = append(values, float64(i))
	}

	p95, err := percentile95(values)
	is.NoErr(err)
	is.True(p95 >= 940 && p95 <= 960)
}

func TestAggregateRejectsUnknownMode(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second)

	_, err := svc.Aggregate(ctx, "AA", "daily")
	is.True(errors.Is(err, types.ErrValidation))
}

func TestAlarmHistoryOnlyContainsAlarms(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := []database.SensorReading{}
	for i := 0; i < 60; i++ {
		readings = append(readings, reading("AA", types.KindGas, 600, base.Add(time.Duration(i)*time.Second), true))
	}
	readings = append(readings,
		reading("AA", types.KindGas, 100, base.Add(time.Hour), false),
		reading("BB", types.KindGas, 900, base.Add(time.Hour), true),
	)
	insert(is, ctx, db, "AA", readings[:61]...)
	insert(is, ctx, db, "BB", readings[61])

	entries, err := svc.AlarmHistory(ctx, "AA")
	is.NoErr(err)
	is.Equal(AlarmHistoryLimit, len(entries))
	is.Equal(base.Add(59*time.Second), entries[0].TimeStamp)

	for _, e := range entries {
		is.Equal(600.0, e.GasPPM)
		is.Equal("AA01", e.IDSensor)
	}
}

func TestLatestValue(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second)

	_, _, ok, err := svc.LatestValue(ctx, "AA", types.KindGas)
	is.NoErr(err)
	is.True(!ok)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	insert(is, ctx, db, "AA",
		reading("AA", types.KindGas, 10, base, false),
		reading("AA", types.KindGas, 20, base.Add(time.Minute), false),
	)

	v, at, ok, err := svc.LatestValue(ctx, "AA", types.KindGas)
	is.NoErr(err)
	is.True(ok)
	is.Equal(20.0, v)
	is.Equal(base.Add(time.Minute), at)
}

func TestThatClosedStorageIsReportedAsPersistenceError(t *testing.T) {
	is, ctx, db := testSetup(t)
	svc := New(db, time.Second)

	is.NoErr(db.Close())

	_, err := svc.AlarmHistory(ctx, "AA")
	is.True(errors.Is(err, types.ErrPersistence))
}

func reading(deviceID, kind string, value float64, at time.Time, alarm bool) database.SensorReading {
	return database.SensorReading{
		DeviceID: deviceID,
		SensorID: deviceID + "01",
		Kind:     kind,
		Value:    value,
		Captured: at,
		Alarm:    alarm,
	}
}

func insert(is *is.I, ctx context.Context, db database.Datastore, deviceID string, readings ...database.SensorReading) {
	err := db.Transaction(ctx, func(uow database.UnitOfWork) error {
		if _, _, err := uow.FindOrCreateDevice(ctx, deviceID); err != nil {
			return err
		}
		n, err := uow.InsertReadings(ctx, readings)
		if err != nil {
			return err
		}
		if n != len(readings) {
			return fmt.Errorf("inserted %d of %d readings", n, len(readings))
		}
		return nil
	})
	is.NoErr(err)
}

func testSetup(t *testing.T) (*is.I, context.Context, database.Datastore) {
	is := is.New(t)
	ctx := context.Background()

	db, err := database.New(database.NewSQLiteConnector(ctx))
	is.NoErr(err)
	t.Cleanup(func() { db.Close() })

	return is, ctx, db
}
