package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"restroom-cloud/internal/audit"
	"restroom-cloud/internal/auth"
	engine "restroom-cloud/internal/engine/domain"
)

// ConfigHandler reads and updates engine tunables.
type ConfigHandler struct {
	engine      Engine
	auditLogger audit.Logger
}

// NewConfigHandler constructs a ConfigHandler. auditLogger may be nil.
func NewConfigHandler(engine Engine, auditLogger audit.Logger) *ConfigHandler {
	return &ConfigHandler{engine: engine, auditLogger: auditLogger}
}

// ServeHTTP handles GET and PUT /api/v1/config. PUT takes a partial config.
func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.engine.GetConfig())
	case http.MethodPut, http.MethodPatch:
		var patch engine.ConfigPatch
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
			return
		}
		updated, err := h.engine.SetConfig(r.Context(), patch)
		if err != nil {
			var validation *engine.ValidationError
			if errors.As(err, &validation) {
				writeError(w, http.StatusBadRequest, validation.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "config update failed")
			return
		}
		h.logAudit(r, patch, updated)
		writeJSON(w, http.StatusOK, updated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *ConfigHandler) logAudit(r *http.Request, patch engine.ConfigPatch, updated engine.Config) {
	if h.auditLogger == nil {
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		identity.Subject = "anonymous"
	}
	payload, _ := json.Marshal(map[string]any{"patch": patch, "config": updated})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        identity.Subject,
		Role:         string(identity.Role),
		Action:       "config.update",
		ResourceType: "engine_config",
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
