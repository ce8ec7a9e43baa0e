package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Datastore interface {
	// Transaction runs fn inside one database transaction. The transaction is
	// rolled back if fn returns an error.
	Transaction(ctx context.Context, fn func(uow UnitOfWork) error) error

	RegisterUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByDevice(ctx context.Context, deviceID string) (User, error)
	GetDevice(ctx context.Context, deviceID string) (Device, error)

	// LatestReadings returns at most limit readings of the given kind, newest first.
	LatestReadings(ctx context.Context, deviceID, kind string, limit int) ([]SensorReading, error)
	// ReadingsSince returns all readings of the given kind captured at or after since, oldest first.
	ReadingsSince(ctx context.Context, deviceID, kind string, since time.Time) ([]SensorReading, error)
	// AlarmReadings returns at most limit gas readings flagged as alarms, newest first.
	AlarmReadings(ctx context.Context, deviceID string, limit int) ([]SensorReading, error)

	Close() error
}

// UnitOfWork is the set of operations that take part in a single ingestion
// transaction.
type UnitOfWork interface {
	// RecordBatch registers batchID as committed. It reports false if the
	// batch identifier was already recorded by an earlier transaction.
	RecordBatch(ctx context.Context, batchID, deviceID string) (bool, error)
	// FindOrCreateDevice reports true if the device did not exist and was created.
	FindOrCreateDevice(ctx context.Context, deviceID string) (Device, bool, error)
	// ClaimUnassignedUser binds the oldest registered user without a device to
	// deviceID. It reports false if no unbound user is left.
	ClaimUnassignedUser(ctx context.Context, deviceID string) (User, bool, error)
	InsertReadings(ctx context.Context, readings []SensorReading) (int, error)
}

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrUserNotFound = fmt.Errorf("user not found")
var ErrUserExists = fmt.Errorf("user already exists")

const (
	kindGas = "gas"

	// maxClaimAttempts bounds the number of candidates a transaction tries to
	// claim when concurrent transactions keep winning the race.
	maxClaimAttempts = 5
	// maxTransactionAttempts bounds how often a transaction is rerun after a
	// serialization failure or deadlock.
	maxTransactionAttempts = 3
	// userBindingLockKey is the advisory lock key for "user-binding".
	userBindingLockKey int64 = 0x7573722d626e64
)

type database struct {
	db *gorm.DB
}

func New(connect ConnectorFunc) (Datastore, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Device{}, &User{}, &SensorReading{}, &IngestedBatch{})
	if err != nil {
		return nil, err
	}

	return &database{
		db: impl,
	}, nil
}

func (d *database) Close() error {
	sqldb, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func (d *database) Transaction(ctx context.Context, fn func(uow UnitOfWork) error) error {
	var err error

	for attempt := 1; attempt <= maxTransactionAttempts; attempt++ {
		err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&unitOfWork{tx: tx})
		})
		if err == nil || !isTransient(err) || ctx.Err() != nil {
			return err
		}

		logger := logging.GetFromContext(ctx)
		logger.Debug().Err(err).Msgf("transaction attempt %d aborted, retrying", attempt)
	}

	return err
}

// isTransient reports whether err is a postgres serialization failure or
// deadlock, both of which are resolved by running the transaction again.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (d *database) RegisterUser(ctx context.Context, user User) (User, error) {
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = time.Now().UTC()
	}
	user.ID = 0
	user.DeviceID = nil

	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&user)
	if result.Error != nil {
		return User{}, result.Error
	}
	if result.RowsAffected == 0 {
		return User{}, ErrUserExists
	}

	return user, nil
}

func (d *database) GetUser(ctx context.Context, userID string) (User, error) {
	user := User{}

	err := d.db.WithContext(ctx).Where(&User{UserID: userID}).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}

	return user, nil
}

func (d *database) GetUserByDevice(ctx context.Context, deviceID string) (User, error) {
	user := User{}

	err := d.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}

	return user, nil
}

func (d *database) GetDevice(ctx context.Context, deviceID string) (Device, error) {
	device := Device{}

	err := d.db.WithContext(ctx).Where(&Device{DeviceID: deviceID}).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, err
	}

	return device, nil
}

func (d *database) LatestReadings(ctx context.Context, deviceID, kind string, limit int) ([]SensorReading, error) {
	readings := []SensorReading{}

	err := d.db.WithContext(ctx).
		Where("device_id = ? AND kind = ?", deviceID, kind).
		Order("captured_at DESC").Order("id DESC").
		Limit(limit).
		Find(&readings).Error

	return readings, err
}

func (d *database) ReadingsSince(ctx context.Context, deviceID, kind string, since time.Time) ([]SensorReading, error) {
	readings := []SensorReading{}

	err := d.db.WithContext(ctx).
		Where("device_id = ? AND kind = ? AND captured_at >= ?", deviceID, kind, since.UTC()).
		Order("captured_at ASC").Order("id ASC").
		Find(&readings).Error

	return readings, err
}

func (d *database) AlarmReadings(ctx context.Context, deviceID string, limit int) ([]SensorReading, error) {
	readings := []SensorReading{}

	err := d.db.WithContext(ctx).
		Where("device_id = ? AND kind = ? AND alarm = ?", deviceID, kindGas, true).
		Order("captured_at DESC").Order("id DESC").
		Limit(limit).
		Find(&readings).Error

	return readings, err
}

type unitOfWork struct {
	tx *gorm.DB
}

func (u *unitOfWork) RecordBatch(ctx context.Context, batchID, deviceID string) (bool, error) {
	result := u.tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "batch_id"}}, DoNothing: true}).
		Create(&IngestedBatch{BatchID: batchID, DeviceID: deviceID, CreatedAt: time.Now().UTC()})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (u *unitOfWork) FindOrCreateDevice(ctx context.Context, deviceID string) (Device, bool, error) {
	logger := logging.GetFromContext(ctx)

	device := Device{DeviceID: deviceID, CreatedAt: time.Now().UTC()}

	result := u.tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "device_id"}}, DoNothing: true}).
		Create(&device)
	if result.Error != nil {
		return Device{}, false, result.Error
	}

	if result.RowsAffected == 1 {
		logger.Info().Str("device_id", deviceID).Msg("created new device")
		return device, true, nil
	}

	existing := Device{}
	err := u.tx.WithContext(ctx).Where(&Device{DeviceID: deviceID}).First(&existing).Error
	if err != nil {
		return Device{}, false, err
	}

	return existing, false, nil
}

func (u *unitOfWork) ClaimUnassignedUser(ctx context.Context, deviceID string) (User, bool, error) {
	logger := logging.GetFromContext(ctx)

	tx := u.tx.WithContext(ctx)

	if tx.Dialector.Name() == "postgres" {
		err := tx.Exec("SELECT pg_advisory_xact_lock(?)", userBindingLockKey).Error
		if err != nil {
			return User{}, false, err
		}
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		candidate := User{}

		result := tx.Where("device_id IS NULL").
			Order("registered_at ASC").Order("id ASC").
			Limit(1).
			Find(&candidate)
		if result.Error != nil {
			return User{}, false, result.Error
		}
		if result.RowsAffected == 0 {
			return User{}, false, nil
		}

		result = tx.Model(&User{}).
			Where("id = ? AND device_id IS NULL", candidate.ID).
			Update("device_id", deviceID)
		if result.Error != nil {
			return User{}, false, result.Error
		}

		if result.RowsAffected == 1 {
			candidate.DeviceID = &deviceID
			logger.Info().Str("device_id", deviceID).Str("user_id", candidate.UserID).Msg("bound device to user")
			return candidate, true, nil
		}

		logger.Debug().Str("user_id", candidate.UserID).Msg("user was claimed by a concurrent transaction, retrying")
	}

	return User{}, false, fmt.Errorf("could not claim a user for device %s after %d attempts", deviceID, maxClaimAttempts)
}

func (u *unitOfWork) InsertReadings(ctx context.Context, readings []SensorReading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	result := u.tx.WithContext(ctx).
		Omit(clause.Associations).
		Create(&readings)
	if result.Error != nil {
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}
