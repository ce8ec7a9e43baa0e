package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"
)

const eventSource string = "github.com/diwise/iot-sensor-telemetry"

// Publisher is implemented by every sink that ingestion events fan out to.
type Publisher interface {
	PublishOnTopic(ctx context.Context, message types.TopicMessage) error
}

// Notifier delivers topic messages as CloudEvents to the subscribers that are
// configured for the topic.
type Notifier struct {
	client      cloudevents.Client
	subscribers map[string][]SubscriberConfig
}

func NewNotifier(cfg *Config) (*Notifier, error) {
	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, err
	}

	n := &Notifier{
		client:      c,
		subscribers: make(map[string][]SubscriberConfig),
	}

	if cfg != nil {
		for _, s := range cfg.Notifications {
			n.subscribers[s.Type] = append(n.subscribers[s.Type], s.Subscribers...)
		}
	}

	return n, nil
}

func (n *Notifier) PublishOnTopic(ctx context.Context, message types.TopicMessage) error {
	subscribers, ok := n.subscribers[message.TopicName()]
	if !ok || len(subscribers) == 0 {
		return nil
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetTime(time.Now().UTC())
	event.SetSource(eventSource)
	event.SetType(message.TopicName())

	err := event.SetData(message.ContentType(), message.Body())
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx)

	var errs []error

	for _, s := range subscribers {
		ctxWithTarget := cloudevents.ContextWithTarget(ctx, s.Endpoint)

		result := n.client.Send(ctxWithTarget, event)
		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("failed to send %s event to %s", message.TopicName(), s.Endpoint)
			errs = append(errs, fmt.Errorf("%s: %w", s.Endpoint, result))
		}
	}

	return errors.Join(errs...)
}

// Fanout publishes every message to all of its publishers. A failing
// publisher does not prevent delivery to the others.
type Fanout []Publisher

func (f Fanout) PublishOnTopic(ctx context.Context, message types.TopicMessage) error {
	var errs []error

	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishOnTopic(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type Config struct {
	Notifications []Notification `yaml:"notifications"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
