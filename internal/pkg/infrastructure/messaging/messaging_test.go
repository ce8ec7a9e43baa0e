package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/diwise/iot-sensor-telemetry/pkg/types"
	"github.com/matryer/is"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestThatPublishingCarriesTopicAndBody(t *testing.T) {
	is := is.New(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	p := newPublishing(&types.GasAlarm{DeviceID: "AA", SensorID: "AA01", Value: 600}, now)

	is.Equal("readings.alarm", p.Type)
	is.Equal("application/json", p.ContentType)
	is.Equal(amqp.Persistent, p.DeliveryMode)
	is.Equal(now, p.Timestamp)
	is.True(p.MessageId != "")

	alarm := types.GasAlarm{}
	is.NoErr(json.Unmarshal(p.Body, &alarm))
	is.Equal("AA01", alarm.SensorID)
}

func TestThatClosedPublisherRefusesMessages(t *testing.T) {
	is := is.New(t)

	p := &TopicPublisher{exchange: DefaultExchange}
	is.NoErr(p.Close())

	err := p.PublishOnTopic(context.Background(), &types.ReadingsIngested{})
	is.True(errors.Is(err, ErrClosed))
}
