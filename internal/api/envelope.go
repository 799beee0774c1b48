package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/logging"
	"github.com/pulsemetrics/localpulse/internal/serrors"
)

// envelope is the uniform response wrapper. Data is set on success, Error on
// failure, never both.
type envelope struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// kindStatus maps each semantic error kind onto its HTTP status.
var kindStatus = map[serrors.Kind]int{
	serrors.ErrUnauthenticated: http.StatusUnauthorized,
	serrors.ErrForbidden:       http.StatusForbidden,
	serrors.ErrInvalidInput:    http.StatusBadRequest,
	serrors.ErrNotFound:        http.StatusNotFound,
	serrors.ErrInternal:        http.StatusInternalServerError,
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeFailure collapses err into the five-case taxonomy. Internal errors are
// logged with their cause but leave the response message generic.
func writeFailure(w http.ResponseWriter, err error) {
	k := serrors.KindOf(err)
	status, ok := kindStatus[k]
	if !ok {
		k = serrors.ErrInternal
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	if k == serrors.ErrInternal {
		logging.L.Error("request failed", zap.Error(err))
		msg = "internal error"
	}

	writeJSON(w, status, envelope{
		Success: false,
		Error:   &errorPayload{Code: k.Error(), Message: msg},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.L.Error("write response", zap.Error(err))
	}
}
