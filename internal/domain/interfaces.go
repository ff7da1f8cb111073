package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// SnapshotFetcher retrieves the full list of tracked assets.
type SnapshotFetcher interface {
	Fetch(ctx context.Context) (SnapshotBatch, error)
}

// TickHandler consumes normalized live ticks.
type TickHandler func(LiveTick)

// ErrorHandler receives transport failures from a push subscription.
type ErrorHandler func(error)

// Subscription is an open push connection owned by whoever opened it.
type Subscription interface {
	// Close is idempotent and safe when nothing is open.
	Close()
	Done() <-chan struct{}
}

// LiveFeed opens push subscriptions against one streaming endpoint.
type LiveFeed interface {
	Name() string
	Subscribe(ctx context.Context, ids []AssetID, onTick TickHandler, onError ErrorHandler) (Subscription, error)
}

// PreferenceStore persists user-scoped preferences.
type PreferenceStore interface {
	LoadFavorites() ([]AssetID, error)
	// SaveFavorites rewrites the whole ordered list.
	SaveFavorites(ids []AssetID) error
	LoadHoldings() (map[AssetID]decimal.Decimal, error)
	SaveHolding(id AssetID, quantity decimal.Decimal) error
}
