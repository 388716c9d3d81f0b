package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/meter"
)

// recordUsageRequest is the body of POST /accounts/{id}/usage.
type recordUsageRequest struct {
	Category       meter.Category    `json:"category"`
	Quantity       int64             `json:"quantity"`
	Timestamp      time.Time         `json:"timestamp,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Source         string            `json:"source,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// summaryResponse wraps a usage summary with the stale warning, if any.
type summaryResponse struct {
	*tally.UsageSummary
	Warning string `json:"warning,omitempty"`
}

// recordUsage handles POST /accounts/{id}/usage
func (h *Handler) recordUsage(w http.ResponseWriter, r *http.Request) {
	aid, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req recordUsageRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	ev := &meter.UsageEvent{
		AccountID:      aid,
		Category:       req.Category,
		Quantity:       req.Quantity,
		Timestamp:      req.Timestamp,
		IdempotencyKey: req.IdempotencyKey,
		Source:         req.Source,
		Metadata:       req.Metadata,
	}
	if err := h.engine.RecordUsage(r.Context(), ev); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

// usageSummary handles GET /accounts/{id}/usage
func (h *Handler) usageSummary(w http.ResponseWriter, r *http.Request) {
	aid, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sum, err := h.engine.GetUsageSummary(r.Context(), aid)
	var warn *tally.StaleAggregationWarning
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summaryResponse{UsageSummary: sum})
	case sum != nil && errors.As(err, &warn):
		w.Header().Set("Warning", `199 tally "stale usage"`)
		writeJSON(w, http.StatusOK, summaryResponse{UsageSummary: sum, Warning: warn.Error()})
	default:
		h.writeError(w, r, err)
	}
}

// queryUsage handles GET /accounts/{id}/usage/events
func (h *Handler) queryUsage(w http.ResponseWriter, r *http.Request) {
	aid, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	opts := meter.QueryOpts{
		Category: meter.Category(q.Get("category")),
		Limit:    limit,
		Offset:   offset,
	}
	if opts.Start, err = parseTime(q.Get("start")); err != nil {
		h.writeError(w, r, validation("start", err))
		return
	}
	if opts.End, err = parseTime(q.Get("end")); err != nil {
		h.writeError(w, r, validation("end", err))
		return
	}

	events, err := h.engine.QueryUsage(r.Context(), aid, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func validation(field string, err error) error {
	return tally.ValidationError{Field: field, Message: err.Error()}
}
