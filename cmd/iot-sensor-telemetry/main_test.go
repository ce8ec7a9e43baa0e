package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/webevents"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/presentation/api"
	"github.com/diwise/iot-sensor-telemetry/pkg/client"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/matryer/is"
	"golang.org/x/sync/errgroup"
)

func TestThatDevModeServiceIngestsAndBindsSeededUsers(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flags := defaultFlags()
	flags[devmode] = "true"
	flags[usersFile] = writeFile(t, "users.csv", "user_id;name;email;phone;registered_at\nana;Ana;ana@example.com;;2024-01-01T00:00:00Z\n")
	flags[notificationsFile] = filepath.Join(t.TempDir(), "missing.yaml")

	db, err := newDatastore(ctx, flags)
	is.NoErr(err)
	defer db.Close()

	is.NoErr(seedUsers(ctx, db, flags[usersFile]))

	we := webevents.New()
	defer we.Shutdown()

	publisher, closePublishers, err := newPublisher(ctx, flags, we)
	is.NoErr(err)
	defer closePublishers()

	g, ctx := errgroup.WithContext(ctx)
	sessionStore, err := newSessionStore(ctx, g, flags)
	is.NoErr(err)

	app := application.New(db, publisher, sessionStore, application.DefaultConfig())
	server := httptest.NewServer(api.RegisterHandlers(ctx, router.New(serviceName), app, we))
	defer server.Close()

	c := client.New(server.URL)

	resp, err := c.SendBatch(ctx, types.Batch{
		MacBase:  "AA",
		Lecturas: []types.Lecture{{Type: "gas", Lecture: "650", TimeStamp: time.Now().UTC().Format(time.RFC3339), IDSuffix: "01"}},
	})
	is.NoErr(err)
	is.Equal(1, resp.Inserted)

	user, err := c.GetUser(ctx, "ana")
	is.NoErr(err)
	is.Equal("AA", *user.DeviceID)

	alarms, err := c.AlarmHistory(ctx, "AA")
	is.NoErr(err)
	is.Equal(1, len(alarms))

	status, err := c.PollAlert(ctx, "", "AA", "gas")
	is.NoErr(err)
	is.True(status.Raised)

	cancel()
	is.NoErr(g.Wait())
}

func TestThatMissingUsersFileIsSkipped(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	flags := defaultFlags()
	flags[devmode] = "true"

	db, err := newDatastore(ctx, flags)
	is.NoErr(err)
	defer db.Close()

	is.NoErr(seedUsers(ctx, db, filepath.Join(t.TempDir(), "nope.csv")))
}

func TestThatBrokenNotificationConfigFailsStartup(t *testing.T) {
	is := is.New(t)

	flags := defaultFlags()
	flags[notificationsFile] = writeFile(t, "notifications.yaml", "notifications: [")

	we := webevents.New()
	defer we.Shutdown()

	_, closePublishers, err := newPublisher(context.Background(), flags, we)
	defer closePublishers()
	is.True(err != nil)
}

func TestHealth(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	flags := defaultFlags()
	flags[devmode] = "true"

	db, err := newDatastore(ctx, flags)
	is.NoErr(err)
	defer db.Close()

	app := application.New(db, nil, nil, application.DefaultConfig())
	server := httptest.NewServer(api.RegisterHandlers(ctx, router.New(serviceName), app, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(http.StatusNoContent, resp.StatusCode)
}

func writeFile(t *testing.T, name, contents string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
