package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Odor classes on the station's three-point scale.
const (
	OdorGood     = "Bagus"
	OdorNormal   = "Normal"
	OdorCritical = "Kritis"
	OdorUnknown  = "Tidak diketahui"
)

// Soap and tissue slot labels.
const (
	SlotEmpty     = "Habis"
	SlotAvailable = "Aman"
	SlotUnknown   = "?"
)

// Odor regression used by the station firmware to turn NH3 ppm into a Likert score.
const (
	odorRegressionIntercept = -0.805
	odorRegressionSlope     = 1.989
)

// AmoniaReading is the decoded ammonia sensor payload.
type AmoniaReading struct {
	PPM    *float64 `json:"ppm,omitempty"`
	Score  *int     `json:"score,omitempty"`
	Status string   `json:"status,omitempty"`
}

// WaterReading is the decoded floor water sensor payload.
type WaterReading struct {
	Detected *bool  `json:"detected,omitempty"`
	Status   string `json:"status,omitempty"`
}

// SoapSlot is one dispenser's measurement.
type SoapSlot struct {
	Distance *float64 `json:"distance,omitempty"`
	Status   string   `json:"status,omitempty"`
}

// ParseAmonia decodes the ammonia payload. Empty input yields ok=false without error.
func ParseAmonia(raw string) (AmoniaReading, bool, error) {
	var reading AmoniaReading
	if strings.TrimSpace(raw) == "" {
		return reading, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &reading); err != nil {
		return reading, false, fmt.Errorf("%w: amonia: %v", ErrMalformedSensorPayload, err)
	}
	return reading, true, nil
}

// OdorClass resolves the odor classification of the reading.
func (a AmoniaReading) OdorClass() string {
	if status := normalizeOdor(a.Status); status != "" {
		return status
	}
	if a.Score != nil {
		return odorFromScore(*a.Score)
	}
	if a.PPM != nil {
		return odorFromScore(ScoreFromPPM(*a.PPM))
	}
	return OdorUnknown
}

// ScoreFromPPM maps an averaged NH3 concentration onto the 1..3 scale.
func ScoreFromPPM(ppm float64) int {
	if ppm < 0 || math.IsNaN(ppm) {
		ppm = 0
	}
	score := odorRegressionIntercept + odorRegressionSlope*ppm
	switch {
	case score <= 1.5:
		return 1
	case score <= 2.5:
		return 2
	default:
		return 3
	}
}

func odorFromScore(score int) string {
	switch score {
	case 1:
		return OdorGood
	case 2:
		return OdorNormal
	case 3:
		return OdorCritical
	default:
		return OdorUnknown
	}
}

func normalizeOdor(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "bagus", "good":
		return OdorGood
	case "normal":
		return OdorNormal
	case "kritis", "critical", "bau":
		return OdorCritical
	default:
		return ""
	}
}

// ParseWater decodes the water payload.
func ParseWater(raw string) (WaterReading, bool, error) {
	var reading WaterReading
	if strings.TrimSpace(raw) == "" {
		return reading, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &reading); err != nil {
		return reading, false, fmt.Errorf("%w: water: %v", ErrMalformedSensorPayload, err)
	}
	return reading, true, nil
}

// PuddleDetected reports whether water was detected; ok=false when undeterminable.
func (w WaterReading) PuddleDetected() (detected bool, ok bool) {
	if w.Detected != nil {
		return *w.Detected, true
	}
	status := strings.ToLower(strings.TrimSpace(w.Status))
	switch {
	case status == "":
		return false, false
	case strings.Contains(status, "genangan"), strings.Contains(status, "terdeteksi"), status == "wet", status == "detected":
		return true, true
	case strings.Contains(status, "kering"), status == "dry":
		return false, true
	default:
		return false, false
	}
}

// ParseSoap decodes the soap payload into per-slot measurements keyed by slot name.
func ParseSoap(raw string) (map[string]SoapSlot, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, false, nil
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, false, fmt.Errorf("%w: soap: %v", ErrMalformedSensorPayload, err)
	}
	slots := make(map[string]SoapSlot, len(generic))
	for key, value := range generic {
		var slot SoapSlot
		if err := json.Unmarshal(value, &slot); err != nil {
			// bare numbers are distances, bare strings are statuses
			var distance float64
			var status string
			switch {
			case json.Unmarshal(value, &distance) == nil:
				slot.Distance = &distance
			case json.Unmarshal(value, &status) == nil:
				slot.Status = status
			default:
				return nil, false, fmt.Errorf("%w: soap slot %s: %v", ErrMalformedSensorPayload, key, err)
			}
		}
		slots[key] = slot
	}
	return slots, true, nil
}

// SlotEmpty reports whether the slot's level crossed the empty threshold; ok=false when unknown.
func (s SoapSlot) SlotEmpty(thresholdCm float64) (empty bool, ok bool) {
	if s.Distance != nil && !math.IsNaN(*s.Distance) {
		return *s.Distance > thresholdCm, true
	}
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case "habis", "empty":
		return true, true
	case "aman", "ok", "available":
		return false, true
	}
	return false, false
}

// ParseTissue decodes the tissue payload into per-slot values keyed by slot name.
func ParseTissue(raw string) (map[string]string, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, false, nil
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, false, fmt.Errorf("%w: tissue: %v", ErrMalformedSensorPayload, err)
	}
	slots := make(map[string]string, len(generic))
	for key, value := range generic {
		switch v := value.(type) {
		case string:
			slots[key] = v
		case bool:
			slots[key] = strconv.FormatBool(v)
		case float64:
			slots[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
		default:
			return nil, false, fmt.Errorf("%w: tissue slot %s: unsupported value", ErrMalformedSensorPayload, key)
		}
	}
	return slots, true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
