package handlers

import (
	"net/http"
	"time"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/database"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if h.db != nil {
		dbStatus = "connected"
		if err := database.Ping(h.db); err != nil {
			dbStatus = "disconnected"
		}
	}

	status := "healthy"
	if dbStatus == "disconnected" {
		status = "unhealthy"
	}

	resp := map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"sessions": h.sessions.Count(),
	}
	if h.clock != nil {
		resp["idle_seconds"] = int64(h.clock.IdleFor(time.Now()).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}
