package handlers

import (
	"net/http"
	"time"
)

var startedAt = time.Now()

// Health handles GET /healthz.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startedAt).Seconds()),
	})
}
