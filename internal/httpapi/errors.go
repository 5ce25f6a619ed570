package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/allaspectsdev/mlxd/internal/generate"
)

// writeError writes an OpenAI-shaped error envelope.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := ErrorBody{Error: Error{Message: message, Type: errType}}
	data, _ := json.Marshal(body)
	_, _ = w.Write(data)
}

// writeGenerateError maps a generate.Error's Kind to an HTTP status and
// writes it, falling back to 500 internal_error for anything that
// isn't a tagged *generate.Error.
func writeGenerateError(w http.ResponseWriter, err error) {
	gErr, ok := err.(*generate.Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, string(generate.KindInternal), err.Error())
		return
	}
	writeError(w, statusForKind(gErr.Kind), string(gErr.Kind), gErr.Message)
}

// statusForKind maps the generation-core error taxonomy to HTTP status
// codes.
func statusForKind(kind generate.Kind) int {
	switch kind {
	case generate.KindInvalidRequest:
		return http.StatusBadRequest
	case generate.KindNotFound:
		return http.StatusNotFound
	case generate.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case generate.KindRateLimited:
		return http.StatusTooManyRequests
	case generate.KindQueueFull:
		return http.StatusServiceUnavailable
	case generate.KindTimeout:
		return http.StatusGatewayTimeout
	case generate.KindCancelled:
		return 499 // nginx's conventional "client closed request"
	case generate.KindModelError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
