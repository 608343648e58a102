package handler

import "net/http"

// HandleHealth is the liveness probe.
//
// HTTP: GET /health → {"status":"healthy"}
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
