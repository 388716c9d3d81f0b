package account

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/subscription"
)

type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
	ListAccounts(ctx context.Context, opts ListOpts) ([]*Account, error)
	// UpdateAccount persists profile fields. Status is ignored.
	UpdateAccount(ctx context.Context, a *Account) error
	// UpdateAccountStatus moves the account from one status to another and
	// fails with a conflict when the stored status is not from.
	UpdateAccountStatus(ctx context.Context, accountID id.AccountID, from, to subscription.State, at time.Time) error
}

type ListOpts struct {
	Status subscription.State
	Limit  int
	Offset int
}
