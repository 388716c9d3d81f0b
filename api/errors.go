package api

import (
	"errors"
	"net/http"

	"github.com/xraph/tally"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var cfgErr *tally.ConfigurationError
	switch {
	case tally.IsInactive(err):
		return http.StatusForbidden
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	case tally.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, tally.ErrInvalidInput),
		errors.Is(err, tally.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, tally.ErrConflict),
		errors.Is(err, tally.ErrAlreadyExists),
		errors.Is(err, tally.ErrInvoiceExists),
		errors.Is(err, tally.ErrInvoiceNotPayable),
		errors.Is(err, tally.ErrInvalidTransition),
		errors.Is(err, tally.ErrCycleNotOpen),
		errors.Is(err, tally.ErrCycleNotClosed):
		return http.StatusConflict
	case errors.Is(err, tally.ErrStoreNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("tally api: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Status: status})
}
