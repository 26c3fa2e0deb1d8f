package application

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	engine "restroom-cloud/internal/engine/domain"
)

// ConfigRepository persists the active tunables.
type ConfigRepository interface {
	Load(ctx context.Context) (engine.Config, bool, error)
	Save(ctx context.Context, cfg engine.Config) error
}

// ConfigStore holds the active config. Readers get a consistent copy; writers
// validate, derive and swap the whole value.
type ConfigStore struct {
	current atomic.Pointer[engine.Config]
	writeMu sync.Mutex
	repo    ConfigRepository
	logger  *log.Logger
}

// ConfigStoreOption configures the store.
type ConfigStoreOption func(*ConfigStore)

// WithConfigRepository persists accepted configs.
func WithConfigRepository(repo ConfigRepository) ConfigStoreOption {
	return func(s *ConfigStore) {
		s.repo = repo
	}
}

// WithConfigLogger sets the logger.
func WithConfigLogger(logger *log.Logger) ConfigStoreOption {
	return func(s *ConfigStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewConfigStore constructs a store holding initial.
func NewConfigStore(initial engine.Config, opts ...ConfigStoreOption) (*ConfigStore, error) {
	normalized, err := initial.Normalize()
	if err != nil {
		return nil, err
	}
	store := &ConfigStore{logger: log.Default()}
	for _, opt := range opts {
		opt(store)
	}
	store.current.Store(&normalized)
	return store, nil
}

// Get returns a copy of the active config.
func (s *ConfigStore) Get() engine.Config {
	if s == nil {
		return engine.DefaultConfig()
	}
	return s.current.Load().Clone()
}

// Set merges a partial update into the active config and swaps it in.
// Persistence is best-effort; a failed save is logged and the swap stands.
func (s *ConfigStore) Set(ctx context.Context, patch engine.ConfigPatch) (engine.Config, error) {
	if s == nil {
		return engine.Config{}, errors.New("config store: nil")
	}
	s.writeMu.Lock()
	next, err := s.current.Load().Apply(patch)
	if err != nil {
		s.writeMu.Unlock()
		return engine.Config{}, err
	}
	s.current.Store(&next)
	s.writeMu.Unlock()

	s.logger.Printf("engine config: updated %s", next)
	if s.repo != nil {
		if err := s.repo.Save(ctx, next); err != nil {
			s.logger.Printf("engine config: persist failed: %v", err)
		}
	}
	return next.Clone(), nil
}

// Restore replaces the active config with the persisted one when present.
func (s *ConfigStore) Restore(ctx context.Context) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stored, ok, err := s.repo.Load(ctx)
	if err != nil || !ok {
		return err
	}
	normalized, err := stored.Normalize()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	s.current.Store(&normalized)
	s.writeMu.Unlock()
	s.logger.Printf("engine config: restored %s", normalized)
	return nil
}

// LoadConfigFile reads tunables from a YAML file over the defaults, then applies
// ENGINE_* environment overrides. An empty path skips the file.
func LoadConfigFile(path string) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	var patch engine.ConfigPatch
	patch.HistoricalIntervalMinutes = envInt("ENGINE_HISTORICAL_INTERVAL_MINUTES")
	patch.MaxReminders = envInt("ENGINE_MAX_REMINDERS")
	patch.ReminderIntervalMinutes = envInt("ENGINE_REMINDER_INTERVAL_MINUTES")
	if value := os.Getenv("ENGINE_SOAP_EMPTY_DISTANCE_CM"); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			patch.SoapEmptyDistanceCm = &parsed
		}
	}
	if value := splitCSV(os.Getenv("ENGINE_SOAP_SENSORS")); len(value) > 0 {
		patch.SoapSensors = &value
	}
	if value := splitCSV(os.Getenv("ENGINE_TISSUE_SLOTS")); len(value) > 0 {
		patch.TissueSlots = &value
	}
	if value := os.Getenv("ENGINE_TISSUE_EMPTY_VALUE"); value != "" {
		patch.TissueEmptyValue = &value
	}
	return cfg.Apply(patch)
}

func envInt(key string) *int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
