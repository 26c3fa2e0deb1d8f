package engine

import (
	"fmt"
	"strings"
)

// Water labels.
const (
	WaterPuddle  = "Genangan air terdeteksi"
	WaterDry     = "Lantai kering"
	WaterUnknown = "Tidak diketahui"
)

// SlotStatus is the label of one dispenser or tissue slot.
type SlotStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// StatusSummary is the human readable view of one snapshot.
type StatusSummary struct {
	DeviceID string       `json:"deviceId"`
	Odor     string       `json:"odor"`
	Water    string       `json:"water"`
	Soap     []SlotStatus `json:"soap"`
	Tissue   []SlotStatus `json:"tissue"`
}

// Summarize derives odor, water and per-slot labels from a reading.
// Slots that are configured but missing or unreadable are labelled unknown.
func Summarize(deviceID string, reading Reading, cfg Config) StatusSummary {
	summary := StatusSummary{DeviceID: deviceID, Odor: OdorUnknown, Water: WaterUnknown}

	if amonia, ok, err := ParseAmonia(reading.Amonia); err == nil && ok {
		summary.Odor = amonia.OdorClass()
	}
	if water, ok, err := ParseWater(reading.Water); err == nil && ok {
		if detected, known := water.PuddleDetected(); known {
			summary.Water = WaterDry
			if detected {
				summary.Water = WaterPuddle
			}
		}
	}

	soap, _, err := ParseSoap(reading.Soap)
	if err != nil {
		soap = nil
	}
	for _, name := range slotNames(cfg.SoapSensors, soap) {
		status := SlotUnknown
		if slot, present := soap[name]; present {
			if empty, known := slot.SlotEmpty(cfg.SoapEmptyDistanceCm); known {
				status = SlotAvailable
				if empty {
					status = SlotEmpty
				}
			}
		}
		summary.Soap = append(summary.Soap, SlotStatus{Name: name, Status: status})
	}

	tissue, _, err := ParseTissue(reading.Tissue)
	if err != nil {
		tissue = nil
	}
	for _, name := range slotNames(cfg.TissueSlots, tissue) {
		status := SlotUnknown
		if value, present := tissue[name]; present && strings.TrimSpace(value) != "" {
			status = SlotAvailable
			if strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(cfg.TissueEmptyValue)) {
				status = SlotEmpty
			}
		}
		summary.Tissue = append(summary.Tissue, SlotStatus{Name: name, Status: status})
	}
	return summary
}

// slotNames returns the configured slots, or every reported slot in order when none are configured.
func slotNames[V any](configured []string, reported map[string]V) []string {
	if len(configured) > 0 {
		return configured
	}
	return sortedKeys(reported)
}

// SoapLabel aggregates the soap slots into a single label.
func (s StatusSummary) SoapLabel() string {
	return aggregateSlots(s.Soap)
}

// TissueLabel aggregates the tissue slots into a single label.
func (s StatusSummary) TissueLabel() string {
	return aggregateSlots(s.Tissue)
}

func aggregateSlots(slots []SlotStatus) string {
	if len(slots) == 0 {
		return SlotUnknown
	}
	var empty []string
	known := 0
	for _, slot := range slots {
		switch slot.Status {
		case SlotEmpty:
			empty = append(empty, slot.Name)
			known++
		case SlotAvailable:
			known++
		}
	}
	switch {
	case len(empty) > 0:
		return fmt.Sprintf("%s (%s)", SlotEmpty, strings.Join(empty, ", "))
	case known == 0:
		return SlotUnknown
	default:
		return SlotAvailable
	}
}

// Lines renders the summary as message lines.
func (s StatusSummary) Lines() []string {
	return []string{
		"Bau: " + s.Odor,
		"Air: " + s.Water,
		"Sabun: " + s.SoapLabel(),
		"Tisu: " + s.TissueLabel(),
	}
}
