package source

import (
	"context"
	"fmt"

	"problembot/internal/domain"
)

// SubscriptionFilter selects subscriptions by exact field match. Zero
// fields are ignored.
type SubscriptionFilter struct {
	BotID   int64
	UserID  int64
	GroupID int64
	ChatID  int64
	Mode    domain.SubscriptionMode
}

type subscriptionWire struct {
	ID      int64  `json:"id"`
	UserID  int64  `json:"user_id"`
	BotID   int64  `json:"bot_id"`
	GroupID int64  `json:"group_id"`
	ChatID  int64  `json:"chat_id"`
	Mode    string `json:"mode"`
}

func (w subscriptionWire) toDomain() domain.Subscription {
	return domain.Subscription{
		ID:      w.ID,
		UserID:  w.UserID,
		BotID:   w.BotID,
		GroupID: w.GroupID,
		ChatID:  w.ChatID,
		Mode:    domain.SubscriptionMode(w.Mode),
	}
}

func (f SubscriptionFilter) matches(s domain.Subscription) bool {
	if f.BotID != 0 && s.BotID != f.BotID {
		return false
	}
	if f.UserID != 0 && s.UserID != f.UserID {
		return false
	}
	if f.GroupID != 0 && s.GroupID != f.GroupID {
		return false
	}
	if f.ChatID != 0 && s.ChatID != f.ChatID {
		return false
	}
	if f.Mode != "" && s.Mode != f.Mode {
		return false
	}
	return true
}

// SearchSubscriptions queries the source API and applies the exact-match
// filter again client side; the API search is looser than the callers need.
func (c *Client) SearchSubscriptions(ctx context.Context, f SubscriptionFilter) ([]domain.Subscription, error) {
	var wire []subscriptionWire
	if err := c.request(ctx, "GET", "/api/subscribes/search/", nil, &wire); err != nil {
		return nil, err
	}
	var out []domain.Subscription
	for _, w := range wire {
		if s := w.toDomain(); f.matches(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Client) AddSubscription(ctx context.Context, s domain.Subscription) error {
	body := map[string]any{
		"user_id":  s.UserID,
		"bot_id":   s.BotID,
		"group_id": s.GroupID,
		"chat_id":  s.ChatID,
		"mode":     string(s.Mode),
	}
	return c.request(ctx, "POST", "/api/subscribes/", body, nil)
}

func (c *Client) DeleteSubscription(ctx context.Context, id int64) error {
	return c.request(ctx, "DELETE", fmt.Sprintf("/api/subscribes/%d", id), nil, nil)
}
