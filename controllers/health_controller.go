package controllers

import (
	"net/http"
	"time"
)

// HealthController serves GET /health; startedAt is stamped once at
// process boot in main.go.
type HealthController struct {
	StartedAt time.Time
}

func (c *HealthController) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(c.StartedAt).String(),
		"serverAt": time.Now().UTC(),
	})
}
