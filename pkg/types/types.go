package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	KindGas         string = "gas"
	KindHumidity    string = "humidity"
	KindTemperature string = "temperature"
)

var SensorKinds = []string{KindGas, KindHumidity, KindTemperature}

// Batch is the ingestion payload sent by a field device.
type Batch struct {
	MacBase  string    `json:"mac_base"`
	BatchID  string    `json:"batch_id,omitempty"`
	Lecturas []Lecture `json:"lecturas"`
}

type Lecture struct {
	Type      string       `json:"type"`
	Lecture   LectureValue `json:"Lecture"`
	TimeStamp string       `json:"TimeStamp"`
	IDSuffix  string       `json:"id_suffix"`
}

// LectureValue holds the raw reading value as sent by the device. Firmware
// versions differ in whether they send it as a JSON string or a number.
type LectureValue string

func (v *LectureValue) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*v = ""
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*v = LectureValue(str)
		return nil
	}

	// anything that is not a number is kept as raw text and fails Float
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		*v = LectureValue(s)
		return nil
	}
	*v = LectureValue(n.String())
	return nil
}

func (v LectureValue) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
}

type IngestResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Inserted int    `json:"inserted,omitempty"`
}

const (
	StatusSuccess string = "success"
	StatusError   string = "error"
)

type RealtimePoint struct {
	TimeStamp time.Time `json:"TimeStamp"`
	Value     float64   `json:"value"`
}

type DailyConsumption struct {
	Date        string  `json:"date"`
	Consumption float64 `json:"consumption"`
	Count       int     `json:"count"`
	P95         float64 `json:"p95"`
}

type AlarmEntry struct {
	TimeStamp time.Time `json:"TimeStamp"`
	IDSensor  string    `json:"IDSensor"`
	GasPPM    float64   `json:"gas_ppm"`
}

type User struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	DeviceID     *string   `json:"device_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

type AlertStatus struct {
	State   string  `json:"state"`
	Raised  bool    `json:"raised"`
	Value   float64 `json:"value"`
	Session string  `json:"session"`
}
