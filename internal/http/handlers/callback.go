package handlers

import (
	"net/http"
	"strings"

	"github.com/dailyclearing/digest-back/internal/runner"
)

// StatusCallback receives terminal-state and destroy reports from
// ephemeral compute instances. It authenticates with the callback token,
// not the API token, since the reporting instance never holds the latter.
func (api *API) StatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if api.callbackToken != "" {
		authorization := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
		if !strings.HasPrefix(authorization, "Bearer ") || token != api.callbackToken {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid callback token")
			return
		}
	}

	var payload runner.CallbackPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	if err := api.callbacks.Handle(r.Context(), payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}
