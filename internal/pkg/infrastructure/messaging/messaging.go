package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange string = "iot-sensor-telemetry"

var ErrClosed = errors.New("publisher is closed")

// TopicPublisher publishes topic messages on a durable topic exchange, using
// the topic name as routing key.
type TopicPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewTopicPublisher(ctx context.Context, url, exchange string) (*TopicPublisher, error) {
	log := logging.GetFromContext(ctx)

	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to message broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("connected to message broker")

	return &TopicPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *TopicPublisher) PublishOnTopic(ctx context.Context, message types.TopicMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return ErrClosed
	}

	return p.channel.PublishWithContext(ctx, p.exchange, message.TopicName(), false, false, newPublishing(message, time.Now().UTC()))
}

func (p *TopicPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return nil
	}

	p.channel = nil
	return p.conn.Close()
}

func newPublishing(message types.TopicMessage, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  message.ContentType(),
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now,
		Type:         message.TopicName(),
		Body:         message.Body(),
	}
}
