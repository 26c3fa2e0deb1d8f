package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	engine "restroom-cloud/internal/engine/domain"
)

// DecodeRawReading parses an ingest body. Numbers keep their original text.
func DecodeRawReading(body []byte) (engine.RawReading, error) {
	var wire struct {
		DeviceID any `json:"deviceId"`
		Amonia   any `json:"amonia"`
		Water    any `json:"water"`
		Soap     any `json:"soap"`
		Tissue   any `json:"tissue"`
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&wire); err != nil {
		return engine.RawReading{}, &engine.ValidationError{Reason: "invalid json body: " + err.Error()}
	}
	deviceID, ok := wire.DeviceID.(string)
	if wire.DeviceID != nil && !ok {
		return engine.RawReading{}, &engine.ValidationError{Reason: "deviceId must be a string"}
	}
	return engine.RawReading{
		DeviceID: deviceID,
		Amonia:   wire.Amonia,
		Water:    wire.Water,
		Soap:     wire.Soap,
		Tissue:   wire.Tissue,
	}, nil
}

// Normalize validates a raw reading and canonicalizes its sensor payloads: strings
// pass through, other values are JSON-encoded, absent and null become "".
func Normalize(raw engine.RawReading) (engine.NormalizedReading, error) {
	deviceID := strings.TrimSpace(raw.DeviceID)
	if deviceID == "" {
		return engine.NormalizedReading{}, &engine.ValidationError{Reason: "deviceId is required"}
	}
	var reading engine.Reading
	var err error
	if reading.Amonia, err = canonicalize(engine.SensorAmonia, raw.Amonia); err != nil {
		return engine.NormalizedReading{}, err
	}
	if reading.Water, err = canonicalize(engine.SensorWater, raw.Water); err != nil {
		return engine.NormalizedReading{}, err
	}
	if reading.Soap, err = canonicalize(engine.SensorSoap, raw.Soap); err != nil {
		return engine.NormalizedReading{}, err
	}
	if reading.Tissue, err = canonicalize(engine.SensorTissue, raw.Tissue); err != nil {
		return engine.NormalizedReading{}, err
	}
	return engine.NormalizedReading{DeviceID: deviceID, Reading: reading}, nil
}

func canonicalize(field string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return "", &engine.ValidationError{Reason: fmt.Sprintf("%s is not serializable: %v", field, err)}
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
