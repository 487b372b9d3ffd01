// Package notify resolves notification destinations and delivers composed
// messages to them.
package notify

import (
	"context"

	"problembot/internal/domain"
	"problembot/internal/source"
)

// SubscriptionSearcher is the slice of the source API the router needs.
type SubscriptionSearcher interface {
	SearchSubscriptions(ctx context.Context, f source.SubscriptionFilter) ([]domain.Subscription, error)
}

// Scope identifies the tenant/channel a cycle notifies for.
type Scope struct {
	BotID   int64
	GroupID int64 // VK only; zero for Telegram tenants
}

// Router resolves the current set of interested destinations for a scope.
type Router struct {
	subs SubscriptionSearcher
}

func NewRouter(subs SubscriptionSearcher) *Router {
	return &Router{subs: subs}
}

// Resolve returns the subscriptions matching the scope and mode exactly.
// An empty result is the normal "nothing to notify" case, not an error.
func (r *Router) Resolve(ctx context.Context, scope Scope, mode domain.SubscriptionMode) ([]domain.Subscription, error) {
	return r.subs.SearchSubscriptions(ctx, source.SubscriptionFilter{
		BotID:   scope.BotID,
		GroupID: scope.GroupID,
		Mode:    mode,
	})
}
