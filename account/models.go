// Package account defines the billed customer record.
package account

import (
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

type Account struct {
	types.Entity
	ID              id.AccountID       `json:"id"`
	Name            string             `json:"name"`
	TaxID           string             `json:"tax_id,omitempty"`
	Tier            string             `json:"tier"`
	Founding        bool               `json:"founding"`
	Pilot           bool               `json:"pilot"`
	Status          subscription.State `json:"status"`
	Currency        string             `json:"currency,omitempty"`
	StatusChangedAt time.Time          `json:"status_changed_at"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
}

// BillingCurrency returns the currency invoices are presented in, falling
// back to the tier currency.
func (a *Account) BillingCurrency(tierCurrency string) string {
	if a.Currency != "" {
		return a.Currency
	}
	return tierCurrency
}
