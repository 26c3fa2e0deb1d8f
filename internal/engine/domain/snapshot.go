package engine

import "time"

// Liveness is the derived activity flag of a device.
type Liveness string

const (
	LivenessActive   Liveness = "active"
	LivenessInactive Liveness = "inactive"
)

// Sensor payload keys as sent by the stations.
const (
	SensorAmonia = "amonia"
	SensorWater  = "water"
	SensorSoap   = "soap"
	SensorTissue = "tissue"
)

// RawReading is one ingest payload before normalization.
// Sensor values may be any JSON value; absent and null are equivalent.
type RawReading struct {
	DeviceID string `json:"deviceId"`
	Amonia   any    `json:"amonia,omitempty"`
	Water    any    `json:"water,omitempty"`
	Soap     any    `json:"soap,omitempty"`
	Tissue   any    `json:"tissue,omitempty"`
}

// Reading holds the four canonical sensor payloads: empty or a JSON-encoded string.
type Reading struct {
	Amonia string `json:"amonia"`
	Water  string `json:"water"`
	Soap   string `json:"soap"`
	Tissue string `json:"tissue"`
}

// NormalizedReading is a validated reading bound to its device.
type NormalizedReading struct {
	DeviceID string
	Reading  Reading
}

// Snapshot is the last known reading of one device.
type Snapshot struct {
	DeviceID     string    `json:"deviceId"`
	Amonia       string    `json:"amonia"`
	Water        string    `json:"water"`
	Soap         string    `json:"soap"`
	Tissue       string    `json:"tissue"`
	Timestamp    time.Time `json:"timestamp"`
	Status       Liveness  `json:"status"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Reading returns the sensor payloads of the snapshot.
func (s Snapshot) Reading() Reading {
	return Reading{Amonia: s.Amonia, Water: s.Water, Soap: s.Soap, Tissue: s.Tissue}
}
