package domain

import "context"

// MarketDataProvider supplies quotes, history, and indicator inputs for
// user-alert evaluation. Implementations live behind this interface so the
// scheduler never depends on a concrete feed.
type MarketDataProvider interface {
	// GetSnapshot returns the current market snapshot for (symbol, venue).
	GetSnapshot(ctx context.Context, symbol, venue string) (*MarketSnapshot, error)

	// GetHistory returns up to limit OHLCV bars, oldest first.
	GetHistory(ctx context.Context, symbol, venue string, limit int) ([]OHLCV, error)
}

// NotificationBus publishes formatted user notifications to downstream
// channels. Delivery is at-least-once; the dispatcher owns retries.
type NotificationBus interface {
	Send(ctx context.Context, n Notification) error
}

// PrincipalDirectory resolves user identity records. Identity management is
// external; the core only reads.
type PrincipalDirectory interface {
	// Lookup returns the principal for a user id, or a NotFound error.
	Lookup(ctx context.Context, userID string) (*Principal, error)

	// EligibleForPlans returns enabled principals holding at least one of
	// the given plan ids, ordered by ascending user id.
	EligibleForPlans(ctx context.Context, planIDs []string) ([]Principal, error)
}
