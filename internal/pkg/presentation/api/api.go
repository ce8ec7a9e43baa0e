package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/webevents"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

const (
	SessionHeader string = "X-Session-ID"

	maxBatchSize int64 = 1 << 20
)

var tracer = otel.Tracer("iot-sensor-telemetry/api")

func RegisterHandlers(ctx context.Context, router *chi.Mux, app application.App, we webevents.WebEvents) *chi.Mux {
	log := logging.GetFromContext(ctx)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.Post("/datos", ingestBatchHandler(log, app))

	router.Route("/api", func(r chi.Router) {
		r.Get("/realtime", realtimeHandler(log, app))
		r.Get("/gas/{mode}", aggregateHandler(log, app))

		r.Route("/alarms", func(r chi.Router) {
			r.Get("/", alarmHistoryHandler(log, app))
			r.Get("/export", exportAlarmsHandler(log, app))
		})

		r.Get("/alerts", pollAlertHandler(log, app))

		r.Route("/users", func(r chi.Router) {
			r.Post("/", registerUserHandler(log, app))
			r.Get("/{userID}", getUserHandler(log, app))
		})

		if we != nil {
			r.Handle("/events", we.Server())
		}
	})

	return router
}

func ingestBatchHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "ingest-batch")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchSize))
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			writeIngestResponse(w, http.StatusBadRequest, types.StatusError, "could not read request body", 0)
			return
		}

		batch := types.Batch{}
		err = json.Unmarshal(body, &batch)
		if err != nil {
			requestLogger.Warn().Err(err).Msg("unable to unmarshal batch")
			err = fmt.Errorf("%w: body is not a valid batch", types.ErrValidation)
			writeIngestResponse(w, http.StatusBadRequest, types.StatusError, types.PublicMessage(err), 0)
			return
		}

		result, err := app.Ingest(ctx, batch)
		if err != nil {
			writeIngestResponse(w, types.StatusCode(err), types.StatusError, types.PublicMessage(err), 0)
			return
		}

		message := fmt.Sprintf("%d readings stored", result.Inserted)
		if result.Duplicate {
			message = "batch already ingested"
		}

		writeIngestResponse(w, http.StatusOK, types.StatusSuccess, message, result.Inserted)
	}
}

func realtimeHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-realtime")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		kind := r.URL.Query().Get("type")
		deviceID := r.URL.Query().Get("device_id")

		if strings.TrimSpace(kind) == "" || strings.TrimSpace(deviceID) == "" {
			writeJSON(w, http.StatusOK, []types.RealtimePoint{})
			return
		}

		points, err := app.Realtime(ctx, deviceID, kind)
		if err != nil {
			requestLogger.Error().Err(err).Msg("realtime query failed")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, points)
	}
}

func aggregateHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-aggregate")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		rows, err := app.Aggregate(ctx, r.URL.Query().Get("device_id"), chi.URLParam(r, "mode"))
		if err != nil {
			requestLogger.Debug().Err(err).Msg("aggregate query failed")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, rows)
	}
}

func alarmHistoryHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-alarm-history")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		entries, err := app.AlarmHistory(ctx, r.URL.Query().Get("device_id"))
		if err != nil {
			requestLogger.Debug().Err(err).Msg("alarm history query failed")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func exportAlarmsHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "export-alarm-history")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID := r.URL.Query().Get("device_id")

		entries, err := app.AlarmHistory(ctx, deviceID)
		if err != nil {
			writeError(w, err)
			return
		}

		buf := &bytes.Buffer{}
		err = writeAlarmWorkbook(buf, entries)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to create alarm workbook")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		filename := fmt.Sprintf("alarms-%s-%s.xlsx", strings.TrimSpace(deviceID), time.Now().UTC().Format("20060102"))

		w.Header().Add("Content-Type", xlsxContentType)
		w.Header().Add("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func pollAlertHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "poll-alert")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, _ = logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		status, err := app.PollAlert(ctx, r.Header.Get(SessionHeader), r.URL.Query().Get("device_id"), r.URL.Query().Get("type"))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set(SessionHeader, status.Session)
		writeJSON(w, http.StatusOK, status)
	}
}

func registerUserHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "register-user")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		user := types.User{}
		err = json.NewDecoder(io.LimitReader(r.Body, maxBatchSize)).Decode(&user)
		if err != nil {
			err = fmt.Errorf("%w: body is not a valid user", types.ErrValidation)
			writeError(w, err)
			return
		}

		created, err := app.RegisterUser(ctx, user)
		if err != nil {
			if !errors.Is(err, types.ErrConflict) {
				requestLogger.Error().Err(err).Msg("unable to register user")
			}
			writeError(w, err)
			return
		}

		requestLogger.Info().Str("user_id", created.UserID).Msg("registered user")

		writeJSON(w, http.StatusCreated, created)
	}
}

func getUserHandler(log zerolog.Logger, app application.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-user")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, _ = logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		user, err := app.GetUser(ctx, chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}

func writeIngestResponse(w http.ResponseWriter, code int, status, message string, inserted int) {
	writeJSON(w, code, types.IngestResponse{
		Status:   status,
		Message:  message,
		Inserted: inserted,
	})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, types.StatusCode(err), types.IngestResponse{
		Status:  types.StatusError,
		Message: types.PublicMessage(err),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
