package handlers

import (
	"encoding/json"
	"net/http"

	"bedsync/internal/common/errors"
	"bedsync/internal/common/logging"
)

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	h.sendJSONStatus(w, http.StatusOK, data)
}

func (h *Handlers) sendJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

// sendJSONError logs logMsg with err and writes userMsg with status.
func (h *Handlers) sendJSONError(w http.ResponseWriter, err error, logMsg, userMsg string, status int) {
	fields := []logging.Field{logging.Int("status", status)}
	if status >= http.StatusInternalServerError {
		h.logger.Error(logMsg, err, fields...)
	} else {
		if err != nil {
			fields = append(fields, logging.Err(err))
		}
		h.logger.Warn(logMsg, fields...)
	}

	resp := errorResponse{Error: userMsg}
	if err != nil {
		resp.Type = string(errors.GetType(err))
	}
	h.sendJSONStatus(w, status, resp)
}

// statusFor maps an error's type to the response status.
func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrTypeUpstreamAuth:
		return http.StatusBadGateway
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
