package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Session is the alert state owned by a single client session.
type Session struct {
	ID       string             `json:"id"`
	Trackers map[string]Tracker `json:"trackers"`
	LastSeen time.Time          `json:"lastSeen"`
}

func NewSession(id string) *Session {
	return &Session{ID: id, Trackers: map[string]Tracker{}}
}

func trackerKey(deviceID, kind string) string {
	return deviceID + "/" + kind
}

//go:generate moq -rm -out sessionstore_mock.go . SessionStore

// SessionStore serializes access to the state of each session.
type SessionStore interface {
	// Update loads the session with the given id, or a new empty one, passes it
	// to fn and stores the result unless fn returns an error.
	Update(ctx context.Context, sessionID string, fn func(s *Session) error) error
}

//go:generate moq -rm -out valuesource_mock.go . ValueSource

type ValueSource interface {
	LatestValue(ctx context.Context, deviceID, kind string) (float64, time.Time, bool, error)
}

type Service interface {
	Poll(ctx context.Context, sessionID, deviceID, kind string) (types.AlertStatus, error)
}

var tracer = otel.Tracer("iot-sensor-telemetry/alerts")

type service struct {
	engine   Engine
	values   ValueSource
	sessions SessionStore
	now      func() time.Time
}

func New(cfg Config, values ValueSource, sessions SessionStore) Service {
	return &service{
		engine:   NewEngine(cfg),
		values:   values,
		sessions: sessions,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (svc *service) Poll(ctx context.Context, sessionID, deviceID, kind string) (types.AlertStatus, error) {
	var err error

	ctx, span := tracer.Start(ctx, "poll-alert")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
	_, ctx, log := logging.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		err = fmt.Errorf("%w: device_id is required", types.ErrValidation)
		return types.AlertStatus{}, err
	}

	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = types.KindGas
	}
	if !lo.Contains(types.SensorKinds, kind) {
		err = fmt.Errorf("%w: unknown type %q", types.ErrValidation, kind)
		return types.AlertStatus{}, err
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
		log.Debug().Str("session", sessionID).Msg("issued new alert session")
	}

	span.SetAttributes(attribute.String("device_id", deviceID), attribute.String("kind", kind))

	value, _, ok, err := svc.values.LatestValue(ctx, deviceID, kind)
	if err != nil {
		return types.AlertStatus{}, err
	}

	var decision Decision
	now := svc.now()

	err = svc.sessions.Update(ctx, sessionID, func(s *Session) error {
		if s.Trackers == nil {
			s.Trackers = map[string]Tracker{}
		}

		key := trackerKey(deviceID, kind)

		var next Tracker
		next, decision = svc.engine.Evaluate(s.Trackers[key], value, ok, now)

		s.Trackers[key] = next
		s.LastSeen = now
		return nil
	})
	if err != nil {
		err = fmt.Errorf("%w: could not update alert session: %w", types.ErrPersistence, err)
		return types.AlertStatus{}, err
	}

	if decision.Raised {
		log.Info().Str("device_id", deviceID).Str("kind", kind).Float64("value", value).Msg("alert raised")
	}

	return types.AlertStatus{
		State:   string(decision.State),
		Raised:  decision.Raised,
		Value:   value,
		Session: sessionID,
	}, nil
}
