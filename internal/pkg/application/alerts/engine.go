package alerts

import (
	"time"
)

type State string

const (
	StateNormal  State = "NORMAL"
	StatePending State = "PENDING"
	StateAcked   State = "ACKED"
)

const (
	DefaultCooldown     = 30 * time.Second
	DefaultDisplayTicks = 3
)

type Config struct {
	Threshold    float64
	Cooldown     time.Duration
	DisplayTicks int
}

// Tracker is the debounce state of one device and kind within a session.
type Tracker struct {
	State           State     `json:"state"`
	Acknowledged    bool      `json:"acknowledged"`
	PendingTicks    int       `json:"pendingTicks"`
	LastAlertAt     time.Time `json:"lastAlertAt"`
	LastEvaluatedAt time.Time `json:"lastEvaluatedAt"`
}

type Decision struct {
	State  State
	Raised bool
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) Engine {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.DisplayTicks <= 0 {
		cfg.DisplayTicks = DefaultDisplayTicks
	}
	return Engine{cfg: cfg}
}

// Evaluate advances t with the latest observed value. The returned tracker
// replaces t in the session.
func (e Engine) Evaluate(t Tracker, value float64, hasValue bool, now time.Time) (Tracker, Decision) {
	if !hasValue || now.IsZero() {
		return Tracker{State: StateNormal}, Decision{State: StateNormal}
	}

	if !t.LastEvaluatedAt.IsZero() && now.Before(t.LastEvaluatedAt) {
		return t, Decision{State: stateOf(t)}
	}

	t.LastEvaluatedAt = now

	if value <= e.cfg.Threshold {
		return Tracker{State: StateNormal, LastEvaluatedAt: now}, Decision{State: StateNormal}
	}

	switch t.State {
	case StatePending:
		t.PendingTicks++
		if t.PendingTicks >= e.cfg.DisplayTicks {
			e.acknowledge(&t, now)
		}
		return t, Decision{State: t.State}
	case StateAcked:
		return t, Decision{State: StateAcked}
	}

	// LastAlertAt is cleared whenever the value drops, so the cooldown only
	// applies to trackers restored in NORMAL with an earlier alert time.
	if !t.LastAlertAt.IsZero() && now.Sub(t.LastAlertAt) < e.cfg.Cooldown {
		return t, Decision{State: StateNormal}
	}

	t.State = StatePending
	t.PendingTicks = 1
	if t.PendingTicks >= e.cfg.DisplayTicks {
		e.acknowledge(&t, now)
	}

	return t, Decision{State: t.State, Raised: true}
}

func (e Engine) acknowledge(t *Tracker, now time.Time) {
	t.State = StateAcked
	t.Acknowledged = true
	t.PendingTicks = 0
	t.LastAlertAt = now
}

func stateOf(t Tracker) State {
	if t.State == "" {
		return StateNormal
	}
	return t.State
}
