package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bistrohq/orders-api/internal/domain"
)

const (
	codeMethodNotAllowed   = "method_not_allowed"
	codeNotFound           = "not_found"
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidQuery       = "invalid_query"
	codeValidation         = "validation_failed"
	codeMissingMenuItems   = "menu_items_unavailable"
	codeRemoteNotApproved  = "remote_order_not_approved"
	codeInvalidOperation   = "invalid_operation"
	codeConflict           = "conflict"
	codeGateway            = "payment_gateway_error"
	codeTimeout            = "timeout"
	codeCanceled           = "canceled"
	codeForbidden          = "forbidden"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	DebugID string   `json:"debug_id,omitempty"`
	IDs     []string `json:"ids,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorBody(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorBody(w http.ResponseWriter, status int, body errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(body)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeServiceError maps a service error onto a status code and JSON body.
// Unclassified errors are logged and reported as a bare internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}
	writeErrorBody(w, status, body)
}

func classify(err error) (int, errorResponse) {
	var (
		missing   *domain.MissingMenuItemsError
		remote    *domain.RemoteStatusError
		gatewayEr *domain.GatewayError
	)
	switch {
	case errors.As(err, &missing):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Code: codeMissingMenuItems, IDs: missing.IDs}
	case errors.As(err, &remote):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeRemoteNotApproved}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Code: codeNotFound}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeValidation}
	case errors.Is(err, domain.ErrInvalidOperation):
		return http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: codeInvalidOperation}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: codeConflict}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: "upstream timed out", Code: codeTimeout}
	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest, errorResponse{Error: "request canceled", Code: codeCanceled}
	case errors.As(err, &gatewayEr):
		return http.StatusBadGateway, errorResponse{Error: "payment provider request failed", Code: codeGateway, DebugID: gatewayEr.DebugID}
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway, errorResponse{Error: err.Error(), Code: codeGateway}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: codeInternalError}
}
