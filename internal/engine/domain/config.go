package engine

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SoapDebounceWindow is how long a soap-empty reading must persist before it is confirmed.
	SoapDebounceWindow = 5 * time.Second
	// InactivityThreshold marks a device inactive once its last ingest is older than this.
	InactivityThreshold = 30 * time.Second
)

const (
	DefaultHistoricalIntervalMinutes = 60
	DefaultMaxReminders              = 3
	DefaultReminderIntervalMinutes   = 10
	DefaultSoapEmptyDistanceCm       = 10
	DefaultTissueEmptyValue          = "Habis"
)

// Config holds the tunables used by the alert state machine.
type Config struct {
	HistoricalIntervalMinutes int      `json:"historicalIntervalMinutes" yaml:"historical_interval_minutes"`
	MaxReminders              int      `json:"maxReminders" yaml:"max_reminders"`
	ReminderIntervalMinutes   int      `json:"reminderIntervalMinutes" yaml:"reminder_interval_minutes"`
	SoapEmptyDistanceCm       float64  `json:"soapEmptyDistanceCm" yaml:"soap_empty_distance_cm"`
	SoapSensors               []string `json:"soapSensors" yaml:"soap_sensors"`
	TissueEmptyValue          string   `json:"tissueEmptyValue" yaml:"tissue_empty_value"`
	TissueSlots               []string `json:"tissueSlots" yaml:"tissue_slots"`

	historicalInterval time.Duration
	reminderInterval   time.Duration
}

// ConfigPatch carries a partial config update. Nil fields keep the current value.
type ConfigPatch struct {
	HistoricalIntervalMinutes *int      `json:"historicalIntervalMinutes,omitempty"`
	MaxReminders              *int      `json:"maxReminders,omitempty"`
	ReminderIntervalMinutes   *int      `json:"reminderIntervalMinutes,omitempty"`
	SoapEmptyDistanceCm       *float64  `json:"soapEmptyDistanceCm,omitempty"`
	SoapSensors               *[]string `json:"soapSensors,omitempty"`
	TissueEmptyValue          *string   `json:"tissueEmptyValue,omitempty"`
	TissueSlots               *[]string `json:"tissueSlots,omitempty"`
}

// DefaultConfig returns the factory tunables with derived durations populated.
func DefaultConfig() Config {
	cfg := Config{
		HistoricalIntervalMinutes: DefaultHistoricalIntervalMinutes,
		MaxReminders:              DefaultMaxReminders,
		ReminderIntervalMinutes:   DefaultReminderIntervalMinutes,
		SoapEmptyDistanceCm:       DefaultSoapEmptyDistanceCm,
		SoapSensors:               []string{"sabun1", "sabun2", "sabun3"},
		TissueEmptyValue:          DefaultTissueEmptyValue,
		TissueSlots:               []string{"tisu1", "tisu2"},
	}
	cfg.derive()
	return cfg
}

// Validate checks config invariants.
func (c Config) Validate() error {
	var problems []string
	if c.HistoricalIntervalMinutes < 1 {
		problems = append(problems, "historicalIntervalMinutes must be >= 1")
	}
	if c.ReminderIntervalMinutes < 1 {
		problems = append(problems, "reminderIntervalMinutes must be >= 1")
	}
	if c.MaxReminders < 0 {
		problems = append(problems, "maxReminders must be >= 0")
	}
	if c.SoapEmptyDistanceCm <= 0 {
		problems = append(problems, "soapEmptyDistanceCm must be > 0")
	}
	if strings.TrimSpace(c.TissueEmptyValue) == "" {
		problems = append(problems, "tissueEmptyValue must not be empty")
	}
	if len(problems) > 0 {
		return &ValidationError{Reason: strings.Join(problems, "; ")}
	}
	return nil
}

// Apply merges a patch into a copy of c, validates it and recomputes derived values.
func (c Config) Apply(patch ConfigPatch) (Config, error) {
	next := c.Clone()
	if patch.HistoricalIntervalMinutes != nil {
		next.HistoricalIntervalMinutes = *patch.HistoricalIntervalMinutes
	}
	if patch.MaxReminders != nil {
		next.MaxReminders = *patch.MaxReminders
	}
	if patch.ReminderIntervalMinutes != nil {
		next.ReminderIntervalMinutes = *patch.ReminderIntervalMinutes
	}
	if patch.SoapEmptyDistanceCm != nil {
		next.SoapEmptyDistanceCm = *patch.SoapEmptyDistanceCm
	}
	if patch.SoapSensors != nil {
		next.SoapSensors = append([]string(nil), (*patch.SoapSensors)...)
	}
	if patch.TissueEmptyValue != nil {
		next.TissueEmptyValue = *patch.TissueEmptyValue
	}
	if patch.TissueSlots != nil {
		next.TissueSlots = append([]string(nil), (*patch.TissueSlots)...)
	}
	if err := next.Validate(); err != nil {
		return Config{}, err
	}
	next.derive()
	return next, nil
}

// Normalize validates a fully specified config and recomputes derived values.
func (c Config) Normalize() (Config, error) {
	return c.Apply(ConfigPatch{})
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.SoapSensors = append([]string(nil), c.SoapSensors...)
	out.TissueSlots = append([]string(nil), c.TissueSlots...)
	return out
}

// HistoricalInterval is the routine reporting cadence.
func (c Config) HistoricalInterval() time.Duration {
	if c.historicalInterval > 0 {
		return c.historicalInterval
	}
	return time.Duration(c.HistoricalIntervalMinutes) * time.Minute
}

// ReminderInterval is the minimum spacing between incident notifications.
func (c Config) ReminderInterval() time.Duration {
	if c.reminderInterval > 0 {
		return c.reminderInterval
	}
	return time.Duration(c.ReminderIntervalMinutes) * time.Minute
}

// ReminderWindow bounds how long reminders are sent for one incident.
func (c Config) ReminderWindow() time.Duration {
	return time.Duration(c.MaxReminders) * c.ReminderInterval()
}

func (c *Config) derive() {
	c.historicalInterval = time.Duration(c.HistoricalIntervalMinutes) * time.Minute
	c.reminderInterval = time.Duration(c.ReminderIntervalMinutes) * time.Minute
}

func (c Config) String() string {
	return fmt.Sprintf("historical=%dm reminders=%d every %dm soap>%.1fcm tissue=%q",
		c.HistoricalIntervalMinutes, c.MaxReminders, c.ReminderIntervalMinutes, c.SoapEmptyDistanceCm, c.TissueEmptyValue)
}
