package tally

import (
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Aliases for the value types callers handle most, so the root package is
// enough for typical use.
type (
	// ID identifies every Tally entity.
	ID = id.ID
	// Prefix names the entity kind carried by an ID.
	Prefix = id.Prefix
	// Money is an amount in minor units.
	Money = types.Money
	// Entity holds creation and update timestamps.
	Entity = types.Entity
)

var (
	USD        = types.USD
	EUR        = types.EUR
	GBP        = types.GBP
	JPY        = types.JPY
	Zero       = types.Zero
	Sum        = types.Sum
	ParseMajor = types.ParseMajor
)
