package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/ingestion"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const DefaultTopic string = "telemetry/+/batch"

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Subscriber feeds batches published by devices on an MQTT topic to the
// ingestion processor. A batch without mac_base is attributed to the device
// named by the second topic level.
type Subscriber struct {
	cfg       Config
	processor ingestion.Processor
}

func NewSubscriber(cfg Config, processor ingestion.Processor) *Subscriber {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "iot-sensor-telemetry"
	}

	return &Subscriber{cfg: cfg, processor: processor}
}

// Run connects to the broker and processes messages until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	log := logging.GetFromContext(ctx)

	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := paho.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.cfg.Broker, token.Error())
	}
	defer client.Disconnect(250)

	token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		if err := s.handleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			log.Error().Err(err).Str("topic", msg.Topic()).Msg("failed to handle mqtt message")
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.cfg.Topic, token.Error())
	}

	log.Info().Str("broker", s.cfg.Broker).Str("topic", s.cfg.Topic).Msg("subscribed to device batches")

	<-ctx.Done()

	if token := client.Unsubscribe(s.cfg.Topic); token.Wait() && token.Error() != nil {
		log.Warn().Err(token.Error()).Msg("failed to unsubscribe")
	}

	return nil
}

func (s *Subscriber) handleMessage(ctx context.Context, topic string, payload []byte) error {
	batch := types.Batch{}

	if err := json.Unmarshal(payload, &batch); err != nil {
		return fmt.Errorf("%w: malformed batch: %w", types.ErrValidation, err)
	}

	if strings.TrimSpace(batch.MacBase) == "" {
		batch.MacBase = deviceFromTopic(topic)
	}

	result, err := s.processor.Process(ctx, batch)
	if err != nil {
		return err
	}

	log := logging.GetFromContext(ctx)
	log.Debug().Str("device_id", result.DeviceID).Msgf("ingested %d readings from mqtt", result.Inserted)

	return nil
}

func deviceFromTopic(topic string) string {
	levels := strings.Split(topic, "/")
	if len(levels) < 3 {
		return ""
	}
	return levels[1]
}
