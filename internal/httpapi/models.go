package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// serverStartTime stamps ModelObject.Created with a fixed process-start
// time rather than the real weight-file mtime, which would require
// backend metadata introspection; it exists only so
// OpenAI-compatible clients that sort or cache by "created" get a
// stable, monotonically-sane value instead of a new one per request.
var serverStartTime = time.Now().Unix()

// handleModels implements GET /v1/models, listing the single model
// mlxd is serving (there is no multi-model registry).
func (h *handler) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelListResponse{
		Object: "list",
		Data: []ModelObject{
			{ID: h.modelID, Object: "model", Created: serverStartTime, OwnedBy: "mlxd"},
		},
	}
	writeJSONBody(w, http.StatusOK, resp)
}

// handleModel implements GET /v1/models/{id}.
func (h *handler) handleModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id != h.modelID {
		writeError(w, http.StatusNotFound, "not_found", "unknown model \""+id+"\"")
		return
	}
	writeJSONBody(w, http.StatusOK, ModelObject{ID: h.modelID, Object: "model", Created: serverStartTime, OwnedBy: "mlxd"})
}

func writeJSONBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
