package tier

import (
	"context"

	"github.com/xraph/tally/id"
)

type Store interface {
	CreateTier(ctx context.Context, d *Definition) error
	GetTier(ctx context.Context, tierID id.TierID) (*Definition, error)
	// GetLatestTier returns the highest version published under name.
	GetLatestTier(ctx context.Context, name string) (*Definition, error)
	// ListTiers returns versions ordered by name then version. An empty
	// name lists every tier.
	ListTiers(ctx context.Context, name string) ([]*Definition, error)
}
