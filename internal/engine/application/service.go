package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"restroom-cloud/internal/engine/application/events"
	engine "restroom-cloud/internal/engine/domain"
	"restroom-cloud/internal/observability/metrics"
)

// Publisher appends events for asynchronous handling.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// DeviceView is the read model of one device.
type DeviceView struct {
	Snapshot engine.Snapshot      `json:"snapshot"`
	Summary  engine.StatusSummary `json:"summary"`
	Alert    engine.AlertState    `json:"alert"`
}

// defaultPersistTimeout bounds how long a scheduled history write blocks the next one.
const defaultPersistTimeout = 2 * time.Minute

type deviceSlot struct {
	mu                 sync.Mutex
	state              engine.AlertState
	persistInFlight    bool
	persistScheduledAt time.Time
}

// Service owns the snapshot cache and per-device alert states. Ingests of one
// device are serialized; different devices proceed in parallel.
type Service struct {
	cache     *SnapshotCache
	configs   *ConfigStore
	publisher Publisher
	clock     Clock
	logger    *log.Logger

	persistTimeout time.Duration

	mu      sync.Mutex
	devices map[string]*deviceSlot
}

// ServiceOption customizes the engine service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPersistTimeout sets how long a scheduled history write may stay unanswered
// before the next qualifying ingest schedules another one.
func WithPersistTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.persistTimeout = timeout
		}
	}
}

// WithSnapshotCache replaces the default cache.
func WithSnapshotCache(cache *SnapshotCache) ServiceOption {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// NewService constructs the engine service.
func NewService(configs *ConfigStore, publisher Publisher, opts ...ServiceOption) (*Service, error) {
	if configs == nil {
		return nil, errors.New("engine: nil config store")
	}
	if publisher == nil {
		return nil, errors.New("engine: nil publisher")
	}
	s := &Service{
		cache:     NewSnapshotCache(engine.InactivityThreshold),
		configs:   configs,
		publisher: publisher,
		clock:     systemClock{},
		logger:    log.Default(),
		devices:   make(map[string]*deviceSlot),

		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest records one raw reading. A *engine.ValidationError is returned before
// any state changes; everything after validation is best-effort and never fails the call.
func (s *Service) Ingest(ctx context.Context, raw engine.RawReading) error {
	if s == nil {
		return errors.New("engine: nil service")
	}
	normalized, err := Normalize(raw)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	cfg := s.configs.Get()
	slot := s.slot(normalized.DeviceID)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	snapshot, revived := s.cache.Upsert(normalized, now)
	conds := engine.EvaluateConditions(snapshot.Reading(), cfg)
	for _, sensor := range conds.Malformed {
		metrics.IncMalformedPayload(sensor)
		s.logger.Printf("engine: malformed %s payload device=%s treated as unknown", sensor, snapshot.DeviceID)
	}

	next, decision := engine.Transition(slot.state, conds, now, cfg)
	slot.state = next

	if revived {
		metrics.IncLivenessTransition(string(engine.LivenessActive))
		s.publish(ctx, events.LivenessChanged{DeviceID: snapshot.DeviceID, Status: engine.LivenessActive, OccurredAt: now})
	}

	for _, notice := range decision.Notices {
		s.publishNotice(ctx, notice, snapshot, next, cfg, now)
	}

	if slot.persistInFlight && now.Sub(slot.persistScheduledAt) >= s.persistTimeout {
		s.logger.Printf("engine: history write for device=%s unanswered since %s; rescheduling", snapshot.DeviceID, slot.persistScheduledAt.Format(time.RFC3339))
		slot.persistInFlight = false
	}
	if decision.RoutineDue && !slot.persistInFlight {
		due := events.HistoryDue{
			DeviceID:   snapshot.DeviceID,
			Snapshot:   snapshot,
			Alerting:   next.Alerting(),
			OccurredAt: now,
		}
		if err := s.publisher.Publish(ctx, due); err != nil {
			s.logger.Printf("engine: schedule history write failed device=%s err=%v", snapshot.DeviceID, err)
		} else {
			slot.persistInFlight = true
			slot.persistScheduledAt = now
		}
	}
	return nil
}

// CompleteRoutineReport is called by the persistence handler once a history write
// finished. Only a successful write advances the routine cursor; the routine notice
// is sent only if the device is not alerting by then.
func (s *Service) CompleteRoutineReport(ctx context.Context, due events.HistoryDue, writeErr error) {
	if s == nil {
		return
	}
	slot := s.slot(due.DeviceID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	slot.persistInFlight = false
	if writeErr != nil {
		s.logger.Printf("engine: history write failed device=%s err=%v", due.DeviceID, fmt.Errorf("%w: %v", engine.ErrTransientPersistence, writeErr))
		return
	}
	slot.state = slot.state.MarkPersisted(due.Snapshot.Timestamp)
	if slot.state.Alerting() {
		return
	}
	now := s.clock.Now()
	s.publishNotice(ctx, engine.Notice{Kind: engine.NoticeRoutine}, due.Snapshot, slot.state, s.configs.Get(), now)
}

// ListSnapshots returns every snapshot, sweeping liveness first.
func (s *Service) ListSnapshots(ctx context.Context) map[string]engine.Snapshot {
	if s == nil {
		return nil
	}
	now := s.clock.Now()
	snapshots, transitioned := s.cache.ListAll(now)
	for _, id := range transitioned {
		s.publishInactive(ctx, id, now)
	}
	metrics.SetTrackedDevices(len(snapshots))
	return snapshots
}

// Devices returns the read model of every device, ordered by id.
func (s *Service) Devices(ctx context.Context) []DeviceView {
	snapshots := s.ListSnapshots(ctx)
	cfg := s.configs.Get()
	views := make([]DeviceView, 0, len(snapshots))
	for id, snapshot := range snapshots {
		views = append(views, DeviceView{
			Snapshot: snapshot,
			Summary:  engine.Summarize(id, snapshot.Reading(), cfg),
			Alert:    s.alertState(id),
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Snapshot.DeviceID < views[j].Snapshot.DeviceID
	})
	return views
}

// Device returns the read model of one device.
func (s *Service) Device(ctx context.Context, deviceID string) (DeviceView, error) {
	if s == nil {
		return DeviceView{}, errors.New("engine: nil service")
	}
	now := s.clock.Now()
	snapshot, found, transitioned := s.cache.Get(deviceID, now)
	if !found {
		return DeviceView{}, engine.ErrDeviceNotFound
	}
	if transitioned {
		s.publishInactive(ctx, deviceID, now)
	}
	return DeviceView{
		Snapshot: snapshot,
		Summary:  engine.Summarize(deviceID, snapshot.Reading(), s.configs.Get()),
		Alert:    s.alertState(deviceID),
	}, nil
}

// GetConfig returns the active tunables.
func (s *Service) GetConfig() engine.Config {
	return s.configs.Get()
}

// SetConfig applies a partial update. Later ingests use the new values; nothing
// already sent is recomputed.
func (s *Service) SetConfig(ctx context.Context, patch engine.ConfigPatch) (engine.Config, error) {
	return s.configs.Set(ctx, patch)
}

func (s *Service) slot(deviceID string) *deviceSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.devices[deviceID]
	if !ok {
		slot = &deviceSlot{state: engine.NewAlertState(deviceID)}
		s.devices[deviceID] = slot
	}
	return slot
}

func (s *Service) alertState(deviceID string) engine.AlertState {
	s.mu.Lock()
	slot, ok := s.devices[deviceID]
	s.mu.Unlock()
	if !ok {
		return engine.NewAlertState(deviceID)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.state.Clone()
}

func (s *Service) publishNotice(ctx context.Context, notice engine.Notice, snapshot engine.Snapshot, state engine.AlertState, cfg engine.Config, now time.Time) {
	metrics.IncEngineEvent(string(notice.Kind))
	s.publish(ctx, events.DeviceNotice{
		DeviceID:         snapshot.DeviceID,
		Kind:             notice.Kind,
		ActiveConditions: notice.ActiveConditions,
		Snapshot:         snapshot,
		Summary:          engine.Summarize(snapshot.DeviceID, snapshot.Reading(), cfg),
		AlertStartedAt:   state.AlertStartedAt,
		ReminderNumber:   state.RemindersSent,
		OccurredAt:       now,
	})
}

func (s *Service) publishInactive(ctx context.Context, deviceID string, now time.Time) {
	metrics.IncLivenessTransition(string(engine.LivenessInactive))
	s.publish(ctx, events.LivenessChanged{DeviceID: deviceID, Status: engine.LivenessInactive, OccurredAt: now})
}

func (s *Service) publish(ctx context.Context, event any) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Printf("engine: publish %T failed: %v", event, err)
	}
}
