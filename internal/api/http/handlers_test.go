package apihttp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"restroom-cloud/internal/audit"
	"restroom-cloud/internal/engine/application"
	"restroom-cloud/internal/engine/application/events"
	engine "restroom-cloud/internal/engine/domain"
	"restroom-cloud/internal/eventing"
)

type fakeEngine struct {
	ingested    []engine.RawReading
	correlation string
	snaps       map[string]engine.Snapshot
	cfg         engine.Config
	err         error
}

func newFakeEngine() *fakeEngine {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeEngine{
		snaps: map[string]engine.Snapshot{
			"toilet-lantai-1": {DeviceID: "toilet-lantai-1", Tissue: `{"tisu1":"Habis"}`, Status: engine.LivenessActive, Timestamp: now, LastActiveAt: now},
		},
		cfg: engine.DefaultConfig(),
	}
}

func (f *fakeEngine) Ingest(ctx context.Context, raw engine.RawReading) error {
	f.correlation = eventing.MetaFromContext(ctx).CorrelationID
	if f.err != nil {
		return f.err
	}
	if raw.DeviceID == "" {
		return &engine.ValidationError{Reason: "deviceId is required"}
	}
	f.ingested = append(f.ingested, raw)
	return nil
}

func (f *fakeEngine) ListSnapshots(context.Context) map[string]engine.Snapshot {
	return f.snaps
}

func (f *fakeEngine) Devices(context.Context) []application.DeviceView {
	var out []application.DeviceView
	for id, snap := range f.snaps {
		out = append(out, application.DeviceView{
			Snapshot: snap,
			Summary:  engine.Summarize(id, snap.Reading(), f.cfg),
			Alert:    engine.NewAlertState(id),
		})
	}
	return out
}

func (f *fakeEngine) Device(_ context.Context, id string) (application.DeviceView, error) {
	snap, ok := f.snaps[id]
	if !ok {
		return application.DeviceView{}, engine.ErrDeviceNotFound
	}
	return application.DeviceView{Snapshot: snap, Alert: engine.NewAlertState(id)}, nil
}

func (f *fakeEngine) GetConfig() engine.Config {
	return f.cfg
}

func (f *fakeEngine) SetConfig(_ context.Context, patch engine.ConfigPatch) (engine.Config, error) {
	next, err := f.cfg.Apply(patch)
	if err != nil {
		return f.cfg, err
	}
	f.cfg = next
	return next, nil
}

type auditRecorder struct {
	entries []audit.Entry
}

func (a *auditRecorder) Log(_ context.Context, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func TestIngestHandler(t *testing.T) {
	fake := newFakeEngine()
	handler := NewIngestHandler(fake, nil)

	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader(`{"deviceId":"toilet-lantai-2","soap":{"sabun1":{"distance":12}}}`))
	req.Header.Set(HeaderRequestID, "station-req-7")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if fake.correlation != "station-req-7" {
		t.Fatalf("expected correlation id station-req-7, got %q", fake.correlation)
	}
	if len(fake.ingested) != 1 || fake.ingested[0].DeviceID != "toilet-lantai-2" {
		t.Fatalf("unexpected ingests %+v", fake.ingested)
	}

	for _, body := range []string{`{"soap":"x"}`, `not json`, `{"deviceId":42}`} {
		req = httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader(body))
		resp = httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.Code)
		}
	}

	fake.err = errors.New("boom")
	req = httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader(`{"deviceId":"a"}`))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ingest/telemetry", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestDevicesHandler(t *testing.T) {
	handler := NewDevicesHandler(newFakeEngine())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var snaps map[string]engine.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snaps["toilet-lantai-1"].Status != engine.LivenessActive {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/toilet-lantai-1", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/missing", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestConfigHandler(t *testing.T) {
	fake := newFakeEngine()
	recorder := &auditRecorder{}
	handler := NewConfigHandler(fake, recorder)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(`{"maxReminders":5}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if fake.cfg.MaxReminders != 5 {
		t.Fatalf("expected maxReminders 5, got %d", fake.cfg.MaxReminders)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Action != "config.update" {
		t.Fatalf("expected one audit entry, got %+v", recorder.entries)
	}
	if recorder.entries[0].Actor != "anonymous" {
		t.Fatalf("expected anonymous actor without auth, got %q", recorder.entries[0].Actor)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(`{"unknownField":1}`))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/config", strings.NewReader(`{"historicalIntervalMinutes":0}`))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid interval, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	var cfg engine.Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.MaxReminders != 5 {
		t.Fatalf("expected persisted update, got %+v", cfg)
	}
}

func TestExportHandler(t *testing.T) {
	handler := NewExportHandler(newFakeEngine(), time.UTC, nil)
	cases := map[string]string{
		"/api/v1/devices/export.xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"/api/v1/devices/export.pdf":  "application/pdf",
	}
	for path, contentType := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
		if resp.Header().Get("Content-Type") != contentType {
			t.Fatalf("%s: unexpected content type %s", path, resp.Header().Get("Content-Type"))
		}
		if resp.Body.Len() == 0 {
			t.Fatalf("%s: empty body", path)
		}
	}
}

func TestStreamHandlerDeliversNotice(t *testing.T) {
	broker := NewSSEBroker()
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
	}

	if event, _ := readEvent(); event != "ready" {
		t.Fatalf("expected ready event, got %s", event)
	}

	deadline := time.Now().Add(2 * time.Second)
	for broker.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := broker.HandleNotice(context.Background(), events.DeviceNotice{DeviceID: "toilet-lantai-4", Kind: engine.NoticeRecovery}); err != nil {
		t.Fatalf("handle notice: %v", err)
	}
	event, data := readEvent()
	if event != "notice" {
		t.Fatalf("expected notice event, got %s", event)
	}
	if !strings.Contains(data, `"deviceId":"toilet-lantai-4"`) || !strings.Contains(data, `"kind":"recovery"`) {
		t.Fatalf("unexpected payload %s", data)
	}
}

func TestSSEBrokerBroadcastDuringDisconnects(t *testing.T) {
	broker := NewSSEBroker()
	ctx := context.Background()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ch := broker.Subscribe()
				broker.Unsubscribe(ch)
				broker.Unsubscribe(ch)
			}
		}()
	}

	notice := events.DeviceNotice{DeviceID: "toilet-lantai-1", Kind: engine.NoticeRecovery}
	for i := 0; i < 2000; i++ {
		if err := broker.HandleNotice(ctx, notice); err != nil {
			t.Fatalf("broadcast %d: %v", i, err)
		}
		if err := broker.HandleLiveness(ctx, events.LivenessChanged{DeviceID: "toilet-lantai-1", Status: engine.LivenessInactive}); err != nil {
			t.Fatalf("liveness %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
	if broker.Clients() != 0 {
		t.Fatalf("expected no clients left, got %d", broker.Clients())
	}
}
