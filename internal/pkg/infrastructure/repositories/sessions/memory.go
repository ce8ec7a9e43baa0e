package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/alerts"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
)

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*entry
	idle     time.Duration
	now      func() time.Time
}

type entry struct {
	session  *alerts.Session
	lastUsed time.Time
}

func NewMemoryStore(idleTimeout time.Duration) *MemoryStore {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	return &MemoryStore{
		sessions: map[string]*entry{},
		idle:     idleTimeout,
		now:      time.Now,
	}
}

func (m *MemoryStore) Update(ctx context.Context, sessionID string, fn func(s *alerts.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[sessionID]
	if !ok {
		e = &entry{session: alerts.NewSession(sessionID)}
	}

	// fn works on a copy so that a failed update leaves the stored session untouched
	s := clone(e.session)
	if err := fn(s); err != nil {
		return err
	}

	m.sessions[sessionID] = &entry{session: s, lastUsed: m.now()}

	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes every session that has been idle for longer than the idle
// timeout and returns the number of removed sessions.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	deadline := m.now().Add(-m.idle)
	removed := 0

	for id, e := range m.sessions {
		if e.lastUsed.Before(deadline) {
			delete(m.sessions, id)
			removed++
		}
	}

	return removed
}

// Run sweeps idle sessions every interval until ctx is cancelled.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	log := logging.GetFromContext(ctx)

	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Debug().Msgf("expired %d idle alert sessions", n)
			}
		}
	}
}

func clone(s *alerts.Session) *alerts.Session {
	c := alerts.NewSession(s.ID)
	c.LastSeen = s.LastSeen
	for k, v := range s.Trackers {
		c.Trackers[k] = v
	}
	return c
}
