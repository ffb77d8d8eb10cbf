package api

import (
	"net/http"
	"time"

	"github.com/snarg/scribe-engine/internal/session"
)

type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
}

type HealthHandler struct {
	controller *session.Controller
	version    string
	startTime  time.Time
}

func NewHealthHandler(controller *session.Controller, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{controller: controller, version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		Version:        h.version,
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		ActiveSessions: h.controller.ActiveSessionCount(),
	})
}
