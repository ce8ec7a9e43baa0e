package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/sessions"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/matryer/is"
	"github.com/xuri/excelize/v2"
)

func TestThatAlarmBatchIsStoredAndListed(t *testing.T) {
	is, server, _ := setupTest(t)

	resp, body := testRequest(is, server, http.MethodPost, "/datos", alarmBatch)
	is.Equal(http.StatusOK, resp.StatusCode)

	ingest := types.IngestResponse{}
	is.NoErr(json.Unmarshal(body, &ingest))
	is.Equal(types.StatusSuccess, ingest.Status)
	is.Equal(1, ingest.Inserted)

	resp, body = testRequest(is, server, http.MethodGet, "/api/alarms?device_id=AA", "")
	is.Equal(http.StatusOK, resp.StatusCode)

	alarms := []types.AlarmEntry{}
	is.NoErr(json.Unmarshal(body, &alarms))
	is.Equal(1, len(alarms))
	is.Equal("AA01", alarms[0].IDSensor)
	is.Equal(600.0, alarms[0].GasPPM)
}

func TestThatMalformedBatchesAreRejected(t *testing.T) {
	is, server, _ := setupTest(t)

	for _, body := range []string{`{"mac_base":`, `{"mac_base":"AA","lecturas":[]}`, `{"lecturas":[{"type":"gas","Lecture":1}]}`} {
		resp, b := testRequest(is, server, http.MethodPost, "/datos", body)
		is.Equal(http.StatusBadRequest, resp.StatusCode)

		r := types.IngestResponse{}
		is.NoErr(json.Unmarshal(b, &r))
		is.Equal(types.StatusError, r.Status)
	}
}

func TestThatStorageFailureIsOpaque(t *testing.T) {
	is, server, db := setupTest(t)

	is.NoErr(db.Close())

	resp, body := testRequest(is, server, http.MethodPost, "/datos", alarmBatch)
	is.Equal(http.StatusInternalServerError, resp.StatusCode)

	r := types.IngestResponse{}
	is.NoErr(json.Unmarshal(body, &r))
	is.Equal(types.StatusError, r.Status)
	is.True(!strings.Contains(r.Message, "sql"))
}

func TestRealtimeWithoutParametersIsEmpty(t *testing.T) {
	is, server, _ := setupTest(t)

	resp, body := testRequest(is, server, http.MethodGet, "/api/realtime?type=gas", "")
	is.Equal(http.StatusOK, resp.StatusCode)
	is.Equal("[]", string(body))
}

func TestRealtimeReturnsAscendingPoints(t *testing.T) {
	is, server, _ := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodPost, "/datos", `{"mac_base":"AA","lecturas":[
		{"type":"temperature","Lecture":"21.5","TimeStamp":"2024-01-01T00:01:00","id_suffix":"02"},
		{"type":"temperature","Lecture":20,"TimeStamp":"2024-01-01T00:00:00","id_suffix":"02"}
	]}`)
	is.Equal(http.StatusOK, resp.StatusCode)

	resp, body := testRequest(is, server, http.MethodGet, "/api/realtime?type=temperature&device_id=AA", "")
	is.Equal(http.StatusOK, resp.StatusCode)

	points := []types.RealtimePoint{}
	is.NoErr(json.Unmarshal(body, &points))
	is.Equal(2, len(points))
	is.Equal(20.0, points[0].Value)
	is.Equal(21.5, points[1].Value)
}

func TestAggregateModes(t *testing.T) {
	is, server, _ := setupTest(t)

	now := time.Now().UTC().Format(time.RFC3339)
	resp, _ := testRequest(is, server, http.MethodPost, "/datos", `{"mac_base":"AA","lecturas":[
		{"type":"gas","Lecture":"100","TimeStamp":"`+now+`","id_suffix":"01"},
		{"type":"gas","Lecture":"300","TimeStamp":"`+now+`","id_suffix":"01"}
	]}`)
	is.Equal(http.StatusOK, resp.StatusCode)

	resp, body := testRequest(is, server, http.MethodGet, "/api/gas/weekly?device_id=AA", "")
	is.Equal(http.StatusOK, resp.StatusCode)

	rows := []types.DailyConsumption{}
	is.NoErr(json.Unmarshal(body, &rows))
	is.Equal(1, len(rows))
	is.Equal(2, rows[0].Count)
	is.Equal(200.0, rows[0].Consumption)

	resp, _ = testRequest(is, server, http.MethodGet, "/api/gas/yearly?device_id=AA", "")
	is.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = testRequest(is, server, http.MethodGet, "/api/gas/monthly", "")
	is.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestAlertPollingKeepsSession(t *testing.T) {
	is, server, _ := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodPost, "/datos", alarmBatch)
	is.Equal(http.StatusOK, resp.StatusCode)

	resp, body := testRequest(is, server, http.MethodGet, "/api/alerts?device_id=AA&type=gas", "")
	is.Equal(http.StatusOK, resp.StatusCode)

	first := types.AlertStatus{}
	is.NoErr(json.Unmarshal(body, &first))
	is.True(first.Raised)
	is.Equal(first.Session, resp.Header.Get(SessionHeader))

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/alerts?device_id=AA&type=gas", nil)
	req.Header.Set(SessionHeader, first.Session)
	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	second := types.AlertStatus{}
	is.NoErr(json.NewDecoder(resp.Body).Decode(&second))
	is.True(!second.Raised)
	is.Equal("PENDING", second.State)
}

func TestUserRegistration(t *testing.T) {
	is, server, _ := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodPost, "/api/users", `{"user_id":"ana","name":"Ana"}`)
	is.Equal(http.StatusCreated, resp.StatusCode)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/users", `{"user_id":"ana","name":"Ana"}`)
	is.Equal(http.StatusConflict, resp.StatusCode)

	resp, _ = testRequest(is, server, http.MethodPost, "/api/users", `{"name":"Nobody"}`)
	is.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = testRequest(is, server, http.MethodPost, "/datos", alarmBatch)
	is.Equal(http.StatusOK, resp.StatusCode)

	resp, body := testRequest(is, server, http.MethodGet, "/api/users/ana", "")
	is.Equal(http.StatusOK, resp.StatusCode)

	user := types.User{}
	is.NoErr(json.Unmarshal(body, &user))
	is.Equal("AA", *user.DeviceID)

	resp, _ = testRequest(is, server, http.MethodGet, "/api/users/bob", "")
	is.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestAlarmExport(t *testing.T) {
	is, server, _ := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodPost, "/datos", alarmBatch)
	is.Equal(http.StatusOK, resp.StatusCode)

	resp, body := testRequest(is, server, http.MethodGet, "/api/alarms/export?device_id=AA", "")
	is.Equal(http.StatusOK, resp.StatusCode)
	is.Equal(xlsxContentType, resp.Header.Get("Content-Type"))

	f, err := excelize.OpenReader(bytes.NewReader(body))
	is.NoErr(err)
	defer f.Close()

	rows, err := f.GetRows(alarmSheet)
	is.NoErr(err)
	is.Equal(2, len(rows))
	is.Equal("IDSensor", rows[0][1])
	is.Equal("AA01", rows[1][1])
}

func TestHealth(t *testing.T) {
	is, server, _ := setupTest(t)

	resp, _ := testRequest(is, server, http.MethodGet, "/health", "")
	is.Equal(http.StatusNoContent, resp.StatusCode)
}

const alarmBatch string = `{"mac_base":"AA","lecturas":[{"type":"gas","Lecture":"600","TimeStamp":"2024-01-01T00:00:00","id_suffix":"01"}]}`

func setupTest(t *testing.T) (*is.I, *httptest.Server, database.Datastore) {
	is := is.New(t)
	ctx := context.Background()

	db, err := database.New(database.NewSQLiteConnector(ctx))
	is.NoErr(err)
	t.Cleanup(func() { db.Close() })

	app := application.New(db, nil, sessions.NewMemoryStore(time.Minute), application.DefaultConfig())

	r := RegisterHandlers(ctx, router.New("test"), app, nil)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return is, server, db
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body string) (*http.Response, []byte) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, _ := http.NewRequest(method, ts.URL+path, reader)
	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	is.NoErr(err)

	return resp, respBody
}
