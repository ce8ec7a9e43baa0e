package sessions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/alerts"
	"github.com/matryer/is"
)

func TestMemoryStoreCreatesAndKeepsSessions(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	err := store.Update(ctx, "s1", func(s *alerts.Session) error {
		is.Equal(0, len(s.Trackers))
		s.Trackers["AA/gas"] = alerts.Tracker{State: alerts.StatePending, PendingTicks: 1}
		return nil
	})
	is.NoErr(err)

	err = store.Update(ctx, "s1", func(s *alerts.Session) error {
		is.Equal(alerts.StatePending, s.Trackers["AA/gas"].State)
		return nil
	})
	is.NoErr(err)
	is.Equal(1, store.Len())
}

func TestMemoryStoreDiscardsFailedUpdates(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	err := store.Update(ctx, "s1", func(s *alerts.Session) error {
		s.Trackers["AA/gas"] = alerts.Tracker{State: alerts.StateAcked}
		return errors.New("boom")
	})
	is.True(err != nil)

	err = store.Update(ctx, "s1", func(s *alerts.Session) error {
		_, ok := s.Trackers["AA/gas"]
		is.True(!ok)
		return nil
	})
	is.NoErr(err)
}

func TestMemoryStoreSweepsIdleSessions(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	is.NoErr(store.Update(ctx, "old", func(s *alerts.Session) error { return nil }))

	now = now.Add(50 * time.Second)
	is.NoErr(store.Update(ctx, "fresh", func(s *alerts.Session) error { return nil }))

	now = now.Add(20 * time.Second)
	is.Equal(1, store.Sweep())
	is.Equal(1, store.Len())
}

func TestMemoryStoreSerializesUpdatesPerSession(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)

	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, "s1", func(s *alerts.Session) error {
				tr := s.Trackers["AA/gas"]
				tr.PendingTicks++
				s.Trackers["AA/gas"] = tr
				return nil
			})
		}()
	}
	wg.Wait()

	err := store.Update(ctx, "s1", func(s *alerts.Session) error {
		if s.Trackers["AA/gas"].PendingTicks != 50 {
			return fmt.Errorf("expected 50 updates, got %d", s.Trackers["AA/gas"].PendingTicks)
		}
		return nil
	})
	is.NoErr(err)
}

func TestMemoryStoreRunStopsOnCancel(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore(time.Minute)

	done := make(chan error)
	go func() { done <- store.Run(ctx, 10*time.Millisecond) }()

	cancel()

	select {
	case err := <-done:
		is.NoErr(err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	is := is.New(t)
	ctx := context.Background()

	store, err := NewRedisStore(ctx, addr, "", 0, time.Minute)
	is.NoErr(err)
	defer store.Close()

	sessionID := fmt.Sprintf("test-%d", time.Now().UnixNano())

	err = store.Update(ctx, sessionID, func(s *alerts.Session) error {
		s.Trackers["AA/gas"] = alerts.Tracker{State: alerts.StateAcked, Acknowledged: true}
		return nil
	})
	is.NoErr(err)

	err = store.Update(ctx, sessionID, func(s *alerts.Session) error {
		is.Equal(alerts.StateAcked, s.Trackers["AA/gas"].State)
		return nil
	})
	is.NoErr(err)
}
