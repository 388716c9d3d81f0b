package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xraph/tally"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/reminder"
)

// paymentRequest is the body of POST /invoices/{id}/payments.
type paymentRequest struct {
	Reference string `json:"reference"`
}

// compensationRequest is the body of POST /invoices/{id}/compensations.
type compensationRequest struct {
	Reason      string             `json:"reason"`
	Adjustments []tally.Adjustment `json:"adjustments"`
}

func invoiceID(r *http.Request) (id.InvoiceID, error) {
	iid, err := id.ParseInvoiceID(mux.Vars(r)["id"])
	if err != nil {
		return id.Nil, validation("id", err)
	}
	return iid, nil
}

// generateInvoice handles POST /accounts/{id}/invoices
func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	aid, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, err := h.engine.GenerateInvoice(r.Context(), aid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// listInvoices handles GET /accounts/{id}/invoices
func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
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
	invs, err := h.engine.ListInvoices(r.Context(), aid, invoice.ListOpts{
		Status: invoice.Status(q.Get("status")),
		Kind:   invoice.Kind(q.Get("kind")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invs)
}

// listReminders handles GET /accounts/{id}/reminders
func (h *Handler) listReminders(w http.ResponseWriter, r *http.Request) {
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
	recs, err := h.engine.ListReminders(r.Context(), reminder.ListOpts{
		AccountID: aid,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// getInvoice handles GET /invoices/{id}
func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	iid, err := invoiceID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, err := h.engine.GetInvoice(r.Context(), iid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// recordPayment handles POST /invoices/{id}/payments
func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	iid, err := invoiceID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, err := h.engine.RecordPayment(r.Context(), iid, req.Reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// compensate handles POST /invoices/{id}/compensations
func (h *Handler) compensate(w http.ResponseWriter, r *http.Request) {
	iid, err := invoiceID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req compensationRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, err := h.engine.IssueCompensatingInvoice(r.Context(), iid, req.Adjustments, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}
