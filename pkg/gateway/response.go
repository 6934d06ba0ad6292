package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	tgerr "github.com/trustgate-dev/trustgate/pkg/errors"
	"github.com/trustgate-dev/trustgate/pkg/logger"
)

// errorResponse is the uniform error envelope returned by every gateway
// endpoint.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// writeError writes err using the uniform envelope. Internal errors are
// logged with full context but surface only a generic description.
func writeError(w http.ResponseWriter, err error) {
	code := tgerr.Type(err)
	status := tgerr.HTTPStatus(err)

	description := "internal error"
	var gwErr *tgerr.Error
	if errors.As(err, &gwErr) && gwErr.Type != tgerr.ErrInternal {
		description = gwErr.Message
	}

	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "error", err)
	}

	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}
