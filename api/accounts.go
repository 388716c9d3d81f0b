package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/tier"
)

// createAccountRequest is the body of POST /accounts.
type createAccountRequest struct {
	Name     string            `json:"name"`
	TaxID    string            `json:"tax_id,omitempty"`
	Tier     string            `json:"tier"`
	Founding bool              `json:"founding"`
	Pilot    bool              `json:"pilot"`
	Currency string            `json:"currency,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// accountID reads the {id} route variable as an account ID.
func accountID(r *http.Request) (id.AccountID, error) {
	aid, err := id.ParseAccountID(mux.Vars(r)["id"])
	if err != nil {
		return id.Nil, validation("id", err)
	}
	return aid, nil
}

// listTiers handles GET /tiers
func (h *Handler) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.engine.ListTiers(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

// publishTier handles POST /tiers
func (h *Handler) publishTier(w http.ResponseWriter, r *http.Request) {
	var def tier.Definition
	if err := decode(r, &def); err != nil {
		h.writeError(w, r, err)
		return
	}
	published, err := h.engine.PublishTier(r.Context(), &def)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, published)
}

// listAccounts handles GET /accounts
func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	accts, err := h.engine.ListAccounts(r.Context(), account.ListOpts{
		Status: subscription.State(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accts)
}

// createAccount handles POST /accounts
func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	a := &account.Account{
		Name:     req.Name,
		TaxID:    req.TaxID,
		Tier:     req.Tier,
		Founding: req.Founding,
		Pilot:    req.Pilot,
		Currency: req.Currency,
		Metadata: req.Metadata,
	}
	if err := h.engine.CreateAccount(r.Context(), a); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// getAccount handles GET /accounts/{id}
func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	aid, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.engine.GetAccount(r.Context(), aid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// convertPilot handles POST /accounts/{id}/convert
func (h *Handler) convertPilot(w http.ResponseWriter, r *http.Request) {
	aid, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.engine.ConvertPilot(r.Context(), aid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// cancelAccount handles POST /accounts/{id}/cancel
func (h *Handler) cancelAccount(w http.ResponseWriter, r *http.Request) {
	aid, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, inv, err := h.engine.CancelAccount(r.Context(), aid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":       a,
		"final_invoice": inv,
	})
}

// listCycles handles GET /accounts/{id}/cycles
func (h *Handler) listCycles(w http.ResponseWriter, r *http.Request) {
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
	cycles, err := h.engine.ListCycles(r.Context(), aid, cycle.ListOpts{
		Status: cycle.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

// closeCycle handles POST /accounts/{id}/cycles/close
func (h *Handler) closeCycle(w http.ResponseWriter, r *http.Request) {
	aid, err := accountID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	closed, err := h.engine.CloseCycle(r.Context(), aid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closed)
}
