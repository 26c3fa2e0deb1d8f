package engine

import "time"

// SoapState is the debounced soap condition.
type SoapState string

const (
	SoapSafe     SoapState = "safe"
	SoapPending  SoapState = "pending"
	SoapCritical SoapState = "critical"
)

// IncidentState is the incident lifecycle of one device.
type IncidentState string

const (
	IncidentIdle     IncidentState = "idle"
	IncidentAlerting IncidentState = "alerting"
)

// AlertState tracks debounce, incident and routine reporting progress of one device.
// RecoverySent is false whenever Incident is alerting; SoapPendingSince is zero unless Soap is pending.
type AlertState struct {
	DeviceID         string        `json:"deviceId"`
	Soap             SoapState     `json:"soap"`
	SoapPendingSince time.Time     `json:"soapPendingSince,omitempty"`
	Incident         IncidentState `json:"incident"`
	AlertStartedAt   time.Time     `json:"alertStartedAt,omitempty"`
	LastAlertSentAt  time.Time     `json:"lastAlertSentAt,omitempty"`
	RemindersSent    int           `json:"remindersSent"`
	RecoverySent     bool          `json:"recoverySent"`
	LastPersistedAt  time.Time     `json:"lastPersistedAt,omitempty"`
	ActiveConditions []string      `json:"activeConditions,omitempty"`
}

// NewAlertState returns the initial state of a device seen for the first time.
func NewAlertState(deviceID string) AlertState {
	return AlertState{
		DeviceID: deviceID,
		Soap:     SoapSafe,
		Incident: IncidentIdle,
	}
}

// Alerting reports whether an incident is open.
func (s AlertState) Alerting() bool {
	return s.Incident == IncidentAlerting
}

// Clone returns a copy safe to hand out of the owning registry.
func (s AlertState) Clone() AlertState {
	out := s
	out.ActiveConditions = append([]string(nil), s.ActiveConditions...)
	return out
}

// MarkPersisted advances the routine reporting cursor after a successful history write.
func (s AlertState) MarkPersisted(at time.Time) AlertState {
	if at.After(s.LastPersistedAt) {
		s.LastPersistedAt = at
	}
	return s
}
