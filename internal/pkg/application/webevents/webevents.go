package webevents

import (
	"context"
	"fmt"

	gosse "github.com/alexandrevicenzi/go-sse"
	"github.com/diwise/iot-sensor-telemetry/pkg/types"
)

// WebEvents pushes published topic messages to connected dashboards as
// server-sent events named after the topic.
type WebEvents interface {
	Server() *gosse.Server
	Shutdown()
	PublishOnTopic(ctx context.Context, message types.TopicMessage) error
}

type webEvents struct {
	s *gosse.Server
}

func New() WebEvents {
	return &webEvents{
		s: gosse.NewServer(&gosse.Options{}),
	}
}

func (we *webEvents) Server() *gosse.Server {
	return we.s
}

func (we *webEvents) Shutdown() {
	we.s.Shutdown()
}

func (we *webEvents) PublishOnTopic(ctx context.Context, message types.TopicMessage) error {
	body := message.Body()
	if len(body) == 0 {
		return fmt.Errorf("empty body for topic %s", message.TopicName())
	}

	we.s.SendMessage("", gosse.NewMessage("", string(body), message.TopicName()))
	return nil
}
