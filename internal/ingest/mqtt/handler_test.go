package mqtt

import (
	"context"
	"errors"
	"testing"

	engine "restroom-cloud/internal/engine/domain"
)

type recordingIngester struct {
	readings []engine.RawReading
	err      error
}

func (r *recordingIngester) Ingest(_ context.Context, raw engine.RawReading) error {
	r.readings = append(r.readings, raw)
	return r.err
}

func TestHandleMessageUsesBodyDevice(t *testing.T) {
	ingester := &recordingIngester{}
	handler, err := NewHandler(ingester, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	body := []byte(`{"deviceId":"toilet-lantai-2","tissue":{"tisu1":"Habis"}}`)
	if err := handler.HandleMessage(context.Background(), "restroom/other/telemetry", body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(ingester.readings) != 1 || ingester.readings[0].DeviceID != "toilet-lantai-2" {
		t.Fatalf("unexpected readings %+v", ingester.readings)
	}
}

func TestHandleMessageFallsBackToTopic(t *testing.T) {
	ingester := &recordingIngester{}
	handler, err := NewHandler(ingester, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if err := handler.HandleMessage(context.Background(), "restroom/toilet-lantai-3/telemetry", []byte(`{"soap":"x"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ingester.readings[0].DeviceID != "toilet-lantai-3" {
		t.Fatalf("expected topic device, got %q", ingester.readings[0].DeviceID)
	}
}

func TestHandleMessageRejectsInvalidJSON(t *testing.T) {
	ingester := &recordingIngester{}
	handler, err := NewHandler(ingester, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	err = handler.HandleMessage(context.Background(), "restroom/x/telemetry", []byte(`{`))
	if !engine.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ingester.readings) != 0 {
		t.Fatalf("expected no ingest")
	}
}

func TestHandleMessagePropagatesIngestError(t *testing.T) {
	ingester := &recordingIngester{err: errors.New("boom")}
	handler, err := NewHandler(ingester, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if err := handler.HandleMessage(context.Background(), "restroom/a/telemetry", []byte(`{"deviceId":"a"}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDeviceFromTopic(t *testing.T) {
	cases := map[string]string{
		"restroom/toilet-lantai-1/telemetry": "toilet-lantai-1",
		"restroom/toilet-lantai-1/status":    "",
		"toilet-lantai-1":                    "",
		"a/b/c/telemetry":                    "",
	}
	for topic, want := range cases {
		if got := DeviceFromTopic(topic); got != want {
			t.Fatalf("topic %s: expected %q, got %q", topic, want, got)
		}
	}
}
