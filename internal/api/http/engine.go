package apihttp

import (
	"context"
	"encoding/json"
	"net/http"

	"restroom-cloud/internal/engine/application"
	engine "restroom-cloud/internal/engine/domain"
)

// Engine is the part of the engine service the HTTP surface depends on.
type Engine interface {
	Ingest(ctx context.Context, raw engine.RawReading) error
	ListSnapshots(ctx context.Context) map[string]engine.Snapshot
	Devices(ctx context.Context) []application.DeviceView
	Device(ctx context.Context, deviceID string) (application.DeviceView, error)
	GetConfig() engine.Config
	SetConfig(ctx context.Context, patch engine.ConfigPatch) (engine.Config, error)
}

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
