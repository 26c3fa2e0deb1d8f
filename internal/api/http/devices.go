package apihttp

import (
	"errors"
	"net/http"
	"strings"

	engine "restroom-cloud/internal/engine/domain"
)

const devicesPrefix = "/api/v1/devices/"

// DevicesHandler serves device snapshots.
type DevicesHandler struct {
	engine Engine
}

// NewDevicesHandler constructs a DevicesHandler.
func NewDevicesHandler(engine Engine) *DevicesHandler {
	return &DevicesHandler{engine: engine}
}

// ServeHTTP handles GET /api/v1/devices and GET /api/v1/devices/{id}.
// The list is keyed by device id; ?view=detail returns snapshots with summaries and alert state.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	deviceID := strings.Trim(strings.TrimPrefix(r.URL.Path, devicesPrefix), "/")
	if r.URL.Path == "/api/v1/devices" || deviceID == "" {
		if r.URL.Query().Get("view") == "detail" {
			writeJSON(w, http.StatusOK, h.engine.Devices(r.Context()))
			return
		}
		writeJSON(w, http.StatusOK, h.engine.ListSnapshots(r.Context()))
		return
	}

	view, err := h.engine.Device(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, engine.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "device lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}
