package application

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"restroom-cloud/internal/engine/application/events"
	engine "restroom-cloud/internal/engine/domain"
	"restroom-cloud/internal/eventing"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) notices(kind engine.NoticeKind) []events.DeviceNotice {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.DeviceNotice
	for _, event := range p.events {
		if notice, ok := event.(events.DeviceNotice); ok && notice.Kind == kind {
			out = append(out, notice)
		}
	}
	return out
}

func (p *recordingPublisher) historyDue() []events.HistoryDue {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.HistoryDue
	for _, event := range p.events {
		if due, ok := event.(events.HistoryDue); ok {
			out = append(out, due)
		}
	}
	return out
}

func (p *recordingPublisher) liveness() []events.LivenessChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.LivenessChanged
	for _, event := range p.events {
		if evt, ok := event.(events.LivenessChanged); ok {
			out = append(out, evt)
		}
	}
	return out
}

var quietLogger = log.New(io.Discard, "", 0)

func newTestService(t *testing.T, patch engine.ConfigPatch) (*Service, *fakeClock, *recordingPublisher) {
	t.Helper()
	cfg, err := engine.DefaultConfig().Apply(patch)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	store, err := NewConfigStore(cfg, WithConfigLogger(quietLogger))
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)}
	publisher := &recordingPublisher{}
	service, err := NewService(store, publisher, WithClock(clock), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, clock, publisher
}

func soapEmpty(deviceID string) engine.RawReading {
	return engine.RawReading{
		DeviceID: deviceID,
		Soap:     map[string]any{"sabun1": map[string]any{"distance": 15}},
		Tissue:   map[string]any{"tisu1": "Ada", "tisu2": "Ada"},
	}
}

func allGood(deviceID string) engine.RawReading {
	return engine.RawReading{
		DeviceID: deviceID,
		Amonia:   map[string]any{"ppm": 0.5},
		Soap:     map[string]any{"sabun1": map[string]any{"distance": 3}},
		Tissue:   map[string]any{"tisu1": "Ada", "tisu2": "Ada"},
	}
}

func TestIngestRejectsMissingDeviceID(t *testing.T) {
	service, _, publisher := newTestService(t, engine.ConfigPatch{})
	err := service.Ingest(context.Background(), engine.RawReading{DeviceID: "   "})
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(service.ListSnapshots(context.Background())) != 0 {
		t.Fatalf("expected no snapshot after rejected ingest")
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(publisher.events))
	}
}

func TestIngestKeepsOneSnapshotPerDevice(t *testing.T) {
	service, clock, _ := newTestService(t, engine.ConfigPatch{})
	ctx := context.Background()
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	clock.Add(2 * time.Second)
	if err := service.Ingest(ctx, allGood(" toilet-lantai-1 ")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	snapshots := service.ListSnapshots(ctx)
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	snapshot := snapshots["toilet-lantai-1"]
	if !snapshot.Timestamp.Equal(clock.Now()) || !snapshot.LastActiveAt.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %v, got %v", clock.Now(), snapshot.Timestamp)
	}
	if snapshot.Status != engine.LivenessActive {
		t.Fatalf("expected active, got %s", snapshot.Status)
	}
	if snapshot.Soap != `{"sabun1":{"distance":3}}` {
		t.Fatalf("unexpected canonical soap payload %q", snapshot.Soap)
	}
}

func TestListSnapshotsSweepsLiveness(t *testing.T) {
	service, clock, publisher := newTestService(t, engine.ConfigPatch{})
	ctx := context.Background()
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	clock.Add(engine.InactivityThreshold)
	if got := service.ListSnapshots(ctx)["toilet-lantai-1"].Status; got != engine.LivenessActive {
		t.Fatalf("expected active at the threshold, got %s", got)
	}
	clock.Add(time.Millisecond)
	if got := service.ListSnapshots(ctx)["toilet-lantai-1"].Status; got != engine.LivenessInactive {
		t.Fatalf("expected inactive past the threshold, got %s", got)
	}
	service.ListSnapshots(ctx)
	if got := publisher.liveness(); len(got) != 1 || got[0].Status != engine.LivenessInactive {
		t.Fatalf("expected one inactive transition, got %+v", got)
	}

	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := service.ListSnapshots(ctx)["toilet-lantai-1"].Status; got != engine.LivenessActive {
		t.Fatalf("expected active after ingest, got %s", got)
	}
	if got := publisher.liveness(); len(got) != 2 || got[1].Status != engine.LivenessActive {
		t.Fatalf("expected revival to be published, got %+v", got)
	}
}

func TestIngestRaisesDebouncedSoapIncident(t *testing.T) {
	service, clock, publisher := newTestService(t, engine.ConfigPatch{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := service.Ingest(ctx, soapEmpty("toilet-lantai-2")); err != nil {
			t.Fatalf("ingest: %v", err)
		}
		clock.Add(time.Second)
	}
	if got := publisher.notices(engine.NoticeNewIncident); len(got) != 0 {
		t.Fatalf("expected no incident before the debounce window, got %d", len(got))
	}
	if err := service.Ingest(ctx, soapEmpty("toilet-lantai-2")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got := publisher.notices(engine.NoticeNewIncident)
	if len(got) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(got))
	}
	if len(got[0].ActiveConditions) != 1 || got[0].ActiveConditions[0] != engine.ConditionSoapCritical {
		t.Fatalf("unexpected conditions %v", got[0].ActiveConditions)
	}
	if got[0].Summary.SoapLabel() != "Habis (sabun1)" {
		t.Fatalf("unexpected summary %+v", got[0].Summary)
	}

	view, err := service.Device(ctx, "toilet-lantai-2")
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	if !view.Alert.Alerting() || view.Alert.Soap != engine.SoapCritical {
		t.Fatalf("unexpected alert state %+v", view.Alert)
	}
}

func TestMalformedPayloadDoesNotBreakIngest(t *testing.T) {
	service, _, publisher := newTestService(t, engine.ConfigPatch{})
	ctx := context.Background()
	raw := engine.RawReading{DeviceID: "toilet-lantai-3", Soap: "not json", Tissue: map[string]any{"tisu1": "Habis"}}
	if err := service.Ingest(ctx, raw); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got := publisher.notices(engine.NoticeNewIncident)
	if len(got) != 1 || got[0].ActiveConditions[0] != engine.ConditionTissueCritical {
		t.Fatalf("expected tissue incident despite malformed soap, got %+v", got)
	}
	if err := service.Ingest(ctx, allGood("toilet-lantai-4")); err != nil {
		t.Fatalf("ingest other device: %v", err)
	}
}

func TestRoutineReportCursor(t *testing.T) {
	one := 1
	service, clock, publisher := newTestService(t, engine.ConfigPatch{HistoricalIntervalMinutes: &one})
	ctx := context.Background()

	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	clock.Add(time.Second)
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	due := publisher.historyDue()
	if len(due) != 1 {
		t.Fatalf("expected one outstanding history write, got %d", len(due))
	}

	service.CompleteRoutineReport(ctx, due[0], errors.New("db down"))
	if got := publisher.notices(engine.NoticeRoutine); len(got) != 0 {
		t.Fatalf("expected no routine notice after failure, got %d", len(got))
	}
	clock.Add(time.Second)
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	due = publisher.historyDue()
	if len(due) != 2 {
		t.Fatalf("expected retry on next ingest, got %d", len(due))
	}

	service.CompleteRoutineReport(ctx, due[1], nil)
	if got := publisher.notices(engine.NoticeRoutine); len(got) != 1 {
		t.Fatalf("expected one routine notice, got %d", len(got))
	}
	clock.Add(30 * time.Second)
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := publisher.historyDue(); len(got) != 2 {
		t.Fatalf("expected no write before the interval, got %d", len(got))
	}
	clock.Add(30 * time.Second)
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := publisher.historyDue(); len(got) != 3 {
		t.Fatalf("expected write once the interval elapsed, got %d", len(got))
	}
}

func TestRoutineNoticeSuppressedWhileAlerting(t *testing.T) {
	service, _, publisher := newTestService(t, engine.ConfigPatch{})
	ctx := context.Background()
	raw := engine.RawReading{DeviceID: "toilet-lantai-5", Tissue: map[string]any{"tisu1": "Habis"}}
	if err := service.Ingest(ctx, raw); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	due := publisher.historyDue()
	if len(due) != 1 {
		t.Fatalf("expected a history write, got %d", len(due))
	}
	service.CompleteRoutineReport(ctx, due[0], nil)
	if got := publisher.notices(engine.NoticeRoutine); len(got) != 0 {
		t.Fatalf("expected routine notice suppressed while alerting, got %d", len(got))
	}
	view, err := service.Device(ctx, "toilet-lantai-5")
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	if view.Alert.LastPersistedAt.IsZero() {
		t.Fatalf("expected cursor to advance even while alerting")
	}
}

func TestDeviceNotFound(t *testing.T) {
	service, _, _ := newTestService(t, engine.ConfigPatch{})
	if _, err := service.Device(context.Background(), "missing-1"); !errors.Is(err, engine.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

type fakeHistory struct {
	mu       sync.Mutex
	appended []engine.Snapshot
	statuses []engine.Liveness
	fail     bool
}

func (f *fakeHistory) AppendHistory(_ context.Context, snapshot engine.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	f.appended = append(f.appended, snapshot)
	return nil
}

func (f *fakeHistory) UpdateLivenessStatus(_ context.Context, _ string, status engine.Liveness) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

type noticeCollector struct {
	mu      sync.Mutex
	notices []events.DeviceNotice
}

func (c *noticeCollector) HandleNotice(_ context.Context, notice events.DeviceNotice) error {
	c.mu.Lock()
	c.notices = append(c.notices, notice)
	c.mu.Unlock()
	return nil
}

func TestOutboxPipelineRoutineReport(t *testing.T) {
	cfg := engine.DefaultConfig()
	store, err := NewConfigStore(cfg, WithConfigLogger(quietLogger))
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	RegisterEvents(registry)
	outbox := eventing.NewMemoryOutbox()
	dispatcher, err := eventing.NewDispatcher(bus, outbox, registry, eventing.NewLogDLQ(quietLogger), eventing.WithDispatcherLogger(quietLogger))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)}
	service, err := NewService(store, eventing.NewPublisher(outbox, dispatcher), WithClock(clock), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	history := &fakeHistory{}
	reporter, err := NewReporter(service, history, quietLogger)
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}
	collector := &noticeCollector{}
	WireEngineEventBus(bus, reporter, []NoticeSink{collector}, nil, eventing.NewMemoryProcessedStore(0))

	ctx := context.Background()
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(history.appended) != 0 {
		t.Fatalf("expected no write before the dispatcher runs")
	}
	if err := dispatcher.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(history.appended) != 1 {
		t.Fatalf("expected one history row, got %d", len(history.appended))
	}
	if len(collector.notices) != 1 || collector.notices[0].Kind != engine.NoticeRoutine {
		t.Fatalf("expected routine notice, got %+v", collector.notices)
	}
	if collector.notices[0].Summary.Odor != engine.OdorGood {
		t.Fatalf("expected good odor in summary, got %s", collector.notices[0].Summary.Odor)
	}
}

type panickingHistory struct {
	fakeHistory
	calls  int
	panics int
}

func (p *panickingHistory) AppendHistory(ctx context.Context, snapshot engine.Snapshot) error {
	p.mu.Lock()
	p.calls++
	shouldPanic := p.calls <= p.panics
	p.mu.Unlock()
	if shouldPanic {
		panic("disk controller reset")
	}
	return p.fakeHistory.AppendHistory(ctx, snapshot)
}

func TestOutboxPipelineRecoversFromPanickingHistoryWriter(t *testing.T) {
	one := 1
	cfg, err := engine.DefaultConfig().Apply(engine.ConfigPatch{HistoricalIntervalMinutes: &one})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	store, err := NewConfigStore(cfg, WithConfigLogger(quietLogger))
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	RegisterEvents(registry)
	outbox := eventing.NewMemoryOutbox()
	dlq := eventing.NewLogDLQ(quietLogger)
	dispatcher, err := eventing.NewDispatcher(bus, outbox, registry, dlq, eventing.WithDispatcherLogger(quietLogger))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)}
	service, err := NewService(store, eventing.NewPublisher(outbox, dispatcher), WithClock(clock), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	history := &panickingHistory{panics: 1}
	reporter, err := NewReporter(service, history, quietLogger)
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}
	WireEngineEventBus(bus, reporter, nil, nil, eventing.NewMemoryProcessedStore(0))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if err := dispatcher.Drain(ctx); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
		clock.Add(2 * time.Minute)
	}

	if history.calls != 5 {
		t.Fatalf("expected a write attempt per ingest after the panic, got %d", history.calls)
	}
	if len(history.appended) != 4 {
		t.Fatalf("expected 4 stored rows, got %d", len(history.appended))
	}
	if depth, _ := dlq.Depth(ctx); depth != 1 {
		t.Fatalf("expected the panicking write in the dlq, got %d", depth)
	}
}

func TestUnansweredHistoryWriteIsRescheduled(t *testing.T) {
	one := 1
	cfg, err := engine.DefaultConfig().Apply(engine.ConfigPatch{HistoricalIntervalMinutes: &one})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	store, err := NewConfigStore(cfg, WithConfigLogger(quietLogger))
	if err != nil {
		t.Fatalf("config store: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)}
	publisher := &recordingPublisher{}
	service, err := NewService(store, publisher, WithClock(clock), WithLogger(quietLogger), WithPersistTimeout(3*time.Minute))
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	ctx := context.Background()
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	clock.Add(2 * time.Minute)
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := len(publisher.historyDue()); got != 1 {
		t.Fatalf("expected in-flight write to block a second one, got %d", got)
	}

	clock.Add(2 * time.Minute)
	if err := service.Ingest(ctx, allGood("toilet-lantai-1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := len(publisher.historyDue()); got != 2 {
		t.Fatalf("expected write rescheduled after the timeout, got %d", got)
	}
}
