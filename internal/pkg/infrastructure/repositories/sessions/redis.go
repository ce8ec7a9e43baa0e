package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/alerts"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix         = "alert-session:"
	maxUpdateAttempts = 5
)

// RedisStore keeps alert sessions in redis. Every update refreshes the
// expiry of the session key, so idle sessions expire on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	log := logging.GetFromContext(ctx)

	if ttl <= 0 {
		ttl = DefaultIdleTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("connected to redis session store")

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Update(ctx context.Context, sessionID string, fn func(s *alerts.Session) error) error {
	key := keyPrefix + sessionID

	update := func(tx *redis.Tx) error {
		s := alerts.NewSession(sessionID)

		b, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if err := json.Unmarshal(b, s); err != nil {
				return fmt.Errorf("corrupt session %s: %w", sessionID, err)
			}
			if s.Trackers == nil {
				s.Trackers = map[string]alerts.Tracker{}
			}
		}

		if err := fn(s); err != nil {
			return err
		}

		b, err = json.Marshal(s)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return fmt.Errorf("session %s was modified concurrently %d times", sessionID, maxUpdateAttempts)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
