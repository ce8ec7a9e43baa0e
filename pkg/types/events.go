package types

import (
	"encoding/json"
	"time"
)

// TopicMessage is implemented by all events that the service publishes.
type TopicMessage interface {
	ContentType() string
	TopicName() string
	Body() []byte
}

type ReadingsIngested struct {
	DeviceID      string    `json:"deviceID"`
	BatchID       string    `json:"batchID,omitempty"`
	Inserted      int       `json:"inserted"`
	Alarms        int       `json:"alarms"`
	DeviceCreated bool      `json:"deviceCreated"`
	BoundUserID   string    `json:"boundUserID,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e *ReadingsIngested) ContentType() string {
	return "application/json"
}
func (e *ReadingsIngested) TopicName() string {
	return "readings.ingested"
}
func (e *ReadingsIngested) Body() []byte {
	b, _ := json.Marshal(e)
	return b
}

type GasAlarm struct {
	DeviceID   string    `json:"deviceID"`
	SensorID   string    `json:"sensorID"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	ObservedAt time.Time `json:"observedAt"`
}

func (e *GasAlarm) ContentType() string {
	return "application/json"
}
func (e *GasAlarm) TopicName() string {
	return "readings.alarm"
}
func (e *GasAlarm) Body() []byte {
	b, _ := json.Marshal(e)
	return b
}
