package database

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
)

// SeedUsers registers users from a semicolon separated file with the header
// user_id;name;email;phone;registered_at. Users that already exist are left
// untouched. registered_at is optional and given in RFC 3339.
func SeedUsers(ctx context.Context, ds Datastore, usersFile io.Reader) error {
	log := logging.GetFromContext(ctx)

	r := csv.NewReader(usersFile)
	r.Comma = ';'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read csv data from file: %s", err.Error())
	}

	created := 0

	for idx, row := range rows {
		if idx == 0 {
			// Skip the CSV header
			continue
		}

		if len(row) < 4 {
			return fmt.Errorf("too few fields on line %d in users file", idx+1)
		}

		userID := strings.TrimSpace(row[0])
		if userID == "" {
			return fmt.Errorf("missing user id on line %d in users file", idx+1)
		}

		u := User{
			UserID: userID,
			Name:   strings.TrimSpace(row[1]),
			Email:  strings.TrimSpace(row[2]),
			Phone:  strings.TrimSpace(row[3]),
		}

		if len(row) > 4 && strings.TrimSpace(row[4]) != "" {
			u.RegisteredAt, err = time.Parse(time.RFC3339, strings.TrimSpace(row[4]))
			if err != nil {
				return fmt.Errorf("failed to parse registered_at for user %s: %s", userID, err.Error())
			}
		}

		_, err = ds.RegisterUser(ctx, u)
		if err != nil {
			if errors.Is(err, ErrUserExists) {
				continue
			}
			return err
		}

		created++
	}

	log.Info().Msgf("seeded %d users from users file", created)

	return nil
}
