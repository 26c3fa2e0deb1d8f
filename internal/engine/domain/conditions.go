package engine

import "strings"

// Condition labels carried by incident notifications.
const (
	ConditionSoapCritical   = "SABUN HAMPIR HABIS"
	ConditionTissueCritical = "TISU HABIS"
)

// TickConditions is what one reading says about the consumables this tick.
type TickConditions struct {
	SoapEmpty   bool
	TissueEmpty bool
	// Malformed lists the sensor payloads that could not be read and were treated as unknown.
	Malformed []string
}

// EvaluateConditions inspects a reading against the configured thresholds.
// A payload that cannot be decoded contributes nothing and is reported in Malformed.
func EvaluateConditions(reading Reading, cfg Config) TickConditions {
	var out TickConditions

	soap, ok, err := ParseSoap(reading.Soap)
	if err != nil {
		out.Malformed = append(out.Malformed, SensorSoap)
	} else if ok {
		for _, name := range cfg.SoapSensors {
			slot, present := soap[name]
			if !present {
				continue
			}
			if empty, known := slot.SlotEmpty(cfg.SoapEmptyDistanceCm); known && empty {
				out.SoapEmpty = true
				break
			}
		}
	}

	tissue, ok, err := ParseTissue(reading.Tissue)
	if err != nil {
		out.Malformed = append(out.Malformed, SensorTissue)
	} else if ok {
		for _, name := range cfg.TissueSlots {
			value, present := tissue[name]
			if !present {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(cfg.TissueEmptyValue)) {
				out.TissueEmpty = true
				break
			}
		}
	}
	return out
}
