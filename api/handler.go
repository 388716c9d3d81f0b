// Package api exposes the Tally engine over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xraph/tally"
)

// Handler serves the Tally HTTP API.
type Handler struct {
	engine   *tally.Engine
	logger   *slog.Logger
	basePath string
	router   *mux.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithBasePath mounts every route under prefix.
func WithBasePath(prefix string) Option {
	return func(h *Handler) { h.basePath = strings.TrimRight(prefix, "/") }
}

// WithLogger sets the logger used for server-side failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a Handler for engine.
func New(engine *tally.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.router = mux.NewRouter()
	r := h.router
	if h.basePath != "" {
		r = h.router.PathPrefix(h.basePath).Subrouter()
	}
	h.RegisterRoutes(r)
	return h
}

// RegisterRoutes registers the API routes on router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tiers", h.listTiers).Methods("GET")
	router.HandleFunc("/tiers", h.publishTier).Methods("POST")

	router.HandleFunc("/accounts", h.listAccounts).Methods("GET")
	router.HandleFunc("/accounts", h.createAccount).Methods("POST")
	router.HandleFunc("/accounts/{id}", h.getAccount).Methods("GET")
	router.HandleFunc("/accounts/{id}/convert", h.convertPilot).Methods("POST")
	router.HandleFunc("/accounts/{id}/cancel", h.cancelAccount).Methods("POST")

	router.HandleFunc("/accounts/{id}/usage", h.recordUsage).Methods("POST")
	router.HandleFunc("/accounts/{id}/usage", h.usageSummary).Methods("GET")
	router.HandleFunc("/accounts/{id}/usage/events", h.queryUsage).Methods("GET")

	router.HandleFunc("/accounts/{id}/cycles", h.listCycles).Methods("GET")
	router.HandleFunc("/accounts/{id}/cycles/close", h.closeCycle).Methods("POST")

	router.HandleFunc("/accounts/{id}/invoices", h.listInvoices).Methods("GET")
	router.HandleFunc("/accounts/{id}/invoices", h.generateInvoice).Methods("POST")
	router.HandleFunc("/accounts/{id}/reminders", h.listReminders).Methods("GET")

	router.HandleFunc("/invoices/{id}", h.getInvoice).Methods("GET")
	router.HandleFunc("/invoices/{id}/payments", h.recordPayment).Methods("POST")
	router.HandleFunc("/invoices/{id}/compensations", h.compensate).Methods("POST")
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return tally.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

// page reads limit and offset query parameters.
func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, tally.ValidationError{Field: "limit", Message: "must be a non-negative integer"}
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, tally.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
	}
	return limit, offset, nil
}
