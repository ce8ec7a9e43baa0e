package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const SessionHeader string = "X-Session-ID"

type TelemetryClient interface {
	SendBatch(ctx context.Context, batch types.Batch) (types.IngestResponse, error)
	Realtime(ctx context.Context, deviceID, kind string) ([]types.RealtimePoint, error)
	Aggregate(ctx context.Context, deviceID, mode string) ([]types.DailyConsumption, error)
	AlarmHistory(ctx context.Context, deviceID string) ([]types.AlarmEntry, error)
	PollAlert(ctx context.Context, sessionID, deviceID, kind string) (types.AlertStatus, error)
	RegisterUser(ctx context.Context, user types.User) (types.User, error)
	GetUser(ctx context.Context, userID string) (types.User, error)
}

type telemetryClient struct {
	http *resty.Client
}

var tracer = otel.Tracer("iot-sensor-telemetry-client")

func New(url string) TelemetryClient {
	c := resty.New().
		SetBaseURL(url).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json")

	return &telemetryClient{http: c}
}

func (c *telemetryClient) SendBatch(ctx context.Context, batch types.Batch) (types.IngestResponse, error) {
	var err error
	ctx, span := tracer.Start(ctx, "send-batch")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	log.Debug().Msgf("sending %d readings for device %s", len(batch.Lecturas), batch.MacBase)

	result := types.IngestResponse{}
	failure := types.IngestResponse{}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(batch).
		SetResult(&result).
		SetError(&failure).
		Post("/datos")
	if err != nil {
		err = fmt.Errorf("failed to send batch: %w", err)
		return types.IngestResponse{}, err
	}

	if resp.IsError() {
		err = statusError(resp.StatusCode(), failure.Message)
		return failure, err
	}

	return result, nil
}

func (c *telemetryClient) Realtime(ctx context.Context, deviceID, kind string) ([]types.RealtimePoint, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-realtime")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	points := []types.RealtimePoint{}
	err = c.get(ctx, "/api/realtime", map[string]string{"device_id": deviceID, "type": kind}, &points)
	return points, err
}

func (c *telemetryClient) Aggregate(ctx context.Context, deviceID, mode string) ([]types.DailyConsumption, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-aggregate")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	rows := []types.DailyConsumption{}
	err = c.get(ctx, "/api/gas/"+mode, map[string]string{"device_id": deviceID}, &rows)
	return rows, err
}

func (c *telemetryClient) AlarmHistory(ctx context.Context, deviceID string) ([]types.AlarmEntry, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-alarm-history")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	entries := []types.AlarmEntry{}
	err = c.get(ctx, "/api/alarms", map[string]string{"device_id": deviceID}, &entries)
	return entries, err
}

func (c *telemetryClient) PollAlert(ctx context.Context, sessionID, deviceID, kind string) (types.AlertStatus, error) {
	var err error
	ctx, span := tracer.Start(ctx, "poll-alert")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	status := types.AlertStatus{}
	failure := types.IngestResponse{}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"device_id": deviceID, "type": kind}).
		SetResult(&status).
		SetError(&failure)

	if sessionID != "" {
		req.SetHeader(SessionHeader, sessionID)
	}

	resp, err := req.Get("/api/alerts")
	if err != nil {
		return types.AlertStatus{}, err
	}
	if resp.IsError() {
		err = statusError(resp.StatusCode(), failure.Message)
		return types.AlertStatus{}, err
	}

	return status, nil
}

func (c *telemetryClient) RegisterUser(ctx context.Context, user types.User) (types.User, error) {
	var err error
	ctx, span := tracer.Start(ctx, "register-user")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	created := types.User{}
	failure := types.IngestResponse{}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(user).
		SetResult(&created).
		SetError(&failure).
		Post("/api/users")
	if err != nil {
		return types.User{}, err
	}
	if resp.IsError() {
		err = statusError(resp.StatusCode(), failure.Message)
		return types.User{}, err
	}

	return created, nil
}

func (c *telemetryClient) GetUser(ctx context.Context, userID string) (types.User, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-user")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	user := types.User{}
	failure := types.IngestResponse{}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("userID", userID).
		SetResult(&user).
		SetError(&failure).
		Get("/api/users/{userID}")
	if err != nil {
		return types.User{}, err
	}
	if resp.IsError() {
		err = statusError(resp.StatusCode(), failure.Message)
		return types.User{}, err
	}

	return user, nil
}

func (c *telemetryClient) get(ctx context.Context, path string, params map[string]string, result any) error {
	failure := types.IngestResponse{}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(result).
		SetError(&failure).
		Get(path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}

	if resp.IsError() {
		return statusError(resp.StatusCode(), failure.Message)
	}

	return nil
}

func statusError(code int, message string) error {
	switch {
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", types.ErrValidation, message)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", types.ErrConflict, message)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", types.ErrNotFound, message)
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", types.ErrPersistence, message)
	default:
		return fmt.Errorf("unexpected response code %d: %s", code, message)
	}
}
