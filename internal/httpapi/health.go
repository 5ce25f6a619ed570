package httpapi

import "net/http"

// handleHealth returns a minimal flat {"status":"ok"} liveness
// response.
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONBody(w, http.StatusOK, map[string]string{"status": "ok"})
}
