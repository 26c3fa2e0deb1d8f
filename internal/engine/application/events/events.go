package events

import (
	"time"

	engine "restroom-cloud/internal/engine/domain"
)

// DeviceNotice is raised for every incident lifecycle step and successful routine report.
// Kind is one of new_incident, reminder, recovery or routine.
type DeviceNotice struct {
	DeviceID         string
	Kind             engine.NoticeKind
	ActiveConditions []string
	Snapshot         engine.Snapshot
	Summary          engine.StatusSummary
	AlertStartedAt   time.Time
	ReminderNumber   int
	OccurredAt       time.Time
}

// HistoryDue asks the persistence collaborator to append the snapshot to history.
// The routine cursor advances only when the write succeeds.
type HistoryDue struct {
	DeviceID   string
	Snapshot   engine.Snapshot
	Alerting   bool
	OccurredAt time.Time
}

// LivenessChanged is raised when a device flips between active and inactive.
type LivenessChanged struct {
	DeviceID   string
	Status     engine.Liveness
	OccurredAt time.Time
}

func (e DeviceNotice) EventDeviceID() string { return e.DeviceID }
func (e DeviceNotice) EventTime() time.Time { return e.OccurredAt }
func (e HistoryDue) EventDeviceID() string { return e.DeviceID }
func (e HistoryDue) EventTime() time.Time { return e.OccurredAt }
func (e LivenessChanged) EventDeviceID() string { return e.DeviceID }
func (e LivenessChanged) EventTime() time.Time { return e.OccurredAt }
