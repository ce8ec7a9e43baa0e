package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/alerts"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/events"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/webevents"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/messaging"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/mqtt"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/repositories/sessions"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/presentation/api"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const serviceName string = "iot-sensor-telemetry"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort
	usersFile
	notificationsFile
	redisAddr
	redisPassword
	mqttBroker
	mqttTopic
	rabbitMQURL
	devmode
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",

		usersFile:         "/opt/diwise/config/users.csv",
		notificationsFile: "/opt/diwise/config/notifications.yaml",

		mqttTopic: mqtt.DefaultTopic,

		devmode: "false",
	}
}

func main() {
	serviceVersion := version()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, logger := logging.NewLogger(ctx, serviceName, serviceVersion)
	logger.Info().Msg("starting up ...")

	flags := parseExternalConfig(ctx, defaultFlags())

	cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	exitIf(err, logger, "failed to init tracing")
	defer cleanup()

	cfg, err := application.LoadConfigFromEnv()
	exitIf(err, logger, "invalid service configuration")

	db, err := newDatastore(ctx, flags)
	exitIf(err, logger, "could not create or connect to database")
	defer db.Close()

	err = seedUsers(ctx, db, flags[usersFile])
	exitIf(err, logger, "could not seed users")

	we := webevents.New()
	defer we.Shutdown()

	publisher, closePublishers, err := newPublisher(ctx, flags, we)
	exitIf(err, logger, "could not set up event publishing")
	defer closePublishers()

	g, ctx := errgroup.WithContext(ctx)

	sessionStore, err := newSessionStore(ctx, g, flags)
	exitIf(err, logger, "could not set up alert sessions")

	app := application.New(db, publisher, sessionStore, cfg)

	if flags[mqttBroker] != "" {
		subscriber := mqtt.NewSubscriber(mqtt.Config{Broker: flags[mqttBroker], Topic: flags[mqttTopic]}, app.Processor())
		g.Go(func() error { return subscriber.Run(ctx) })
	}

	r := api.RegisterHandlers(ctx, router.New(serviceName), app, we)

	server := &http.Server{
		Addr:              net.JoinHostPort(flags[listenAddress], flags[servicePort]),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("starting to listen for connections")

		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	exitIf(err, logger, "service stopped unexpectedly")

	logger.Info().Msg("shut down")
}

func newDatastore(ctx context.Context, flags flagMap) (database.Datastore, error) {
	if flags[devmode] == "true" {
		return database.New(database.NewSQLiteConnector(ctx))
	}

	return database.New(database.NewPostgreSQLConnector(ctx, database.LoadConfigFromEnv(ctx)))
}

func seedUsers(ctx context.Context, db database.Datastore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger := logging.GetFromContext(ctx)
			logger.Debug().Str("file", path).Msg("no users file, skipping seed")
			return nil
		}
		return err
	}
	defer f.Close()

	return database.SeedUsers(ctx, db, f)
}

func newPublisher(ctx context.Context, flags flagMap, we webevents.WebEvents) (events.Publisher, func(), error) {
	logger := logging.GetFromContext(ctx)

	publishers := events.Fanout{we}
	closers := []io.Closer{}

	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if f, err := os.Open(flags[notificationsFile]); err == nil {
		cfg, err := events.LoadConfiguration(f)
		f.Close()
		if err != nil {
			return nil, closeAll, err
		}

		notifier, err := events.NewNotifier(cfg)
		if err != nil {
			return nil, closeAll, err
		}

		publishers = append(publishers, notifier)
	} else {
		logger.Debug().Str("file", flags[notificationsFile]).Msg("no notifications config, subscribers disabled")
	}

	if flags[rabbitMQURL] != "" {
		amqpPublisher, err := messaging.NewTopicPublisher(ctx, flags[rabbitMQURL], messaging.DefaultExchange)
		if err != nil {
			return nil, closeAll, err
		}

		closers = append(closers, amqpPublisher)
		publishers = append(publishers, amqpPublisher)
	}

	return publishers, closeAll, nil
}

func newSessionStore(ctx context.Context, g *errgroup.Group, flags flagMap) (alerts.SessionStore, error) {
	if flags[redisAddr] != "" {
		store, err := sessions.NewRedisStore(ctx, flags[redisAddr], flags[redisPassword], 0, sessions.DefaultIdleTimeout)
		if err != nil {
			return nil, err
		}

		g.Go(func() error {
			<-ctx.Done()
			return store.Close()
		})

		return store, nil
	}

	store := sessions.NewMemoryStore(sessions.DefaultIdleTimeout)
	g.Go(func() error { return store.Run(ctx, sessions.DefaultSweepInterval) })

	return store, nil
}

func parseExternalConfig(ctx context.Context, flags flagMap) flagMap {
	// Allow environment variables to override certain defaults
	envOrDef := func(name string, def string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	}

	flags[listenAddress] = envOrDef("LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef("SERVICE_PORT", flags[servicePort])

	flags[usersFile] = envOrDef("USERS_FILE", flags[usersFile])
	flags[notificationsFile] = envOrDef("NOTIFICATIONS_FILE", flags[notificationsFile])

	flags[redisAddr] = envOrDef("REDIS_ADDR", flags[redisAddr])
	flags[redisPassword] = envOrDef("REDIS_PASSWORD", flags[redisPassword])
	flags[mqttBroker] = envOrDef("MQTT_BROKER", flags[mqttBroker])
	flags[mqttTopic] = envOrDef("MQTT_TOPIC", flags[mqttTopic])
	flags[rabbitMQURL] = envOrDef("RABBITMQ_URL", flags[rabbitMQURL])

	flags[devmode] = envOrDef("DEV_MODE", flags[devmode])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("users", "csv file with users waiting for a device", apply(usersFile))
	flag.Func("notifications", "subscriber notification configuration file", apply(notificationsFile))
	flag.Func("devmode", "use an in-memory database", apply(devmode))
	flag.Parse()

	return flags
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Fatal().Err(err).Msg(msg)
	}
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}
