package engine

import "time"

// NoticeKind identifies an outbound incident or routine message.
type NoticeKind string

const (
	NoticeNewIncident NoticeKind = "new_incident"
	NoticeReminder    NoticeKind = "reminder"
	NoticeRecovery    NoticeKind = "recovery"
	NoticeRoutine     NoticeKind = "routine"
)

// Notice is a message decision produced by a transition.
type Notice struct {
	Kind             NoticeKind
	ActiveConditions []string
}

// Decision lists the side effects a transition asks for.
type Decision struct {
	Notices []Notice
	// RoutineDue is set when the historical interval has elapsed since the last successful write.
	RoutineDue bool
}

// Transition advances a device's alert state for one reading. It is pure: all
// side effects are returned as a Decision for the caller to carry out.
func Transition(prev AlertState, tick TickConditions, now time.Time, cfg Config) (AlertState, Decision) {
	next := prev.Clone()
	var decision Decision

	next = stepSoap(next, tick.SoapEmpty, now)
	active := activeConditions(next, tick)
	next.ActiveConditions = active
	alerting := len(active) > 0

	switch {
	case !next.Alerting() && alerting:
		next.Incident = IncidentAlerting
		next.AlertStartedAt = now
		next.LastAlertSentAt = now
		next.RemindersSent = 0
		next.RecoverySent = false
		decision.Notices = append(decision.Notices, Notice{Kind: NoticeNewIncident, ActiveConditions: copyStrings(active)})
	case next.Alerting() && alerting:
		if reminderDue(next, now, cfg) {
			next.LastAlertSentAt = now
			next.RemindersSent++
			decision.Notices = append(decision.Notices, Notice{Kind: NoticeReminder, ActiveConditions: copyStrings(active)})
		}
	case next.Alerting() && !alerting:
		next.Incident = IncidentIdle
		if !next.RecoverySent {
			decision.Notices = append(decision.Notices, Notice{Kind: NoticeRecovery})
		}
		next.RecoverySent = true
		next.AlertStartedAt = time.Time{}
		next.LastAlertSentAt = time.Time{}
		next.RemindersSent = 0
	}

	if now.Sub(next.LastPersistedAt) >= cfg.HistoricalInterval() {
		decision.RoutineDue = true
	}
	return next, decision
}

func stepSoap(state AlertState, soapEmpty bool, now time.Time) AlertState {
	if !soapEmpty {
		state.Soap = SoapSafe
		state.SoapPendingSince = time.Time{}
		return state
	}
	switch state.Soap {
	case SoapCritical:
	case SoapPending:
		if now.Sub(state.SoapPendingSince) >= SoapDebounceWindow {
			state.Soap = SoapCritical
			state.SoapPendingSince = time.Time{}
		}
	default:
		state.Soap = SoapPending
		state.SoapPendingSince = now
	}
	return state
}

func activeConditions(state AlertState, tick TickConditions) []string {
	var active []string
	if state.Soap == SoapCritical {
		active = append(active, ConditionSoapCritical)
	}
	if tick.TissueEmpty {
		active = append(active, ConditionTissueCritical)
	}
	return active
}

// reminderDue applies bounded escalation: reminders are spaced at least
// ReminderInterval apart and stop once the escalation window plus one interval has
// passed since the incident opened. The RemindersSent cap bounds the count to
// MaxReminders; the extra interval only lets the last reminder, due exactly at the
// window's end, still go out.
func reminderDue(state AlertState, now time.Time, cfg Config) bool {
	if cfg.MaxReminders <= 0 || state.RemindersSent >= cfg.MaxReminders {
		return false
	}
	interval := cfg.ReminderInterval()
	if now.Sub(state.LastAlertSentAt) < interval {
		return false
	}
	return now.Sub(state.AlertStartedAt) < cfg.ReminderWindow()+interval
}

func copyStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}
