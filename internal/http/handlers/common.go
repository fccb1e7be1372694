package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dailyclearing/digest-back/internal/http/middleware"
	"github.com/dailyclearing/digest-back/internal/runner"
	"github.com/dailyclearing/digest-back/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	digests       *service.DigestService
	callbacks     *runner.CallbackProcessor
	callbackToken string
}

func NewAPI(digests *service.DigestService, callbacks *runner.CallbackProcessor, callbackToken string) *API {
	return &API{
		digests:       digests,
		callbacks:     callbacks,
		callbackToken: callbackToken,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func validateOwnerID(ownerID string) error {
	trimmed := strings.TrimSpace(ownerID)
	if trimmed == "" || len(trimmed) > 64 {
		return errInvalidPayload
	}
	return nil
}
