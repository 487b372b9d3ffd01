package source

import (
	"context"

	"problembot/internal/domain"
)

type tenantWire struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Host    string `json:"host"`
	Enabled bool   `json:"enabled"`
	Options struct {
		GroupID            int64  `json:"group_id"`
		AppID              int64  `json:"app_id"`
		Token              string `json:"token"`
		VKConfirmationCode string `json:"vk_confirmation_code"`
	} `json:"options"`
}

func (w tenantWire) toDomain() domain.Tenant {
	return domain.Tenant{
		ID:               w.ID,
		Code:             w.Code,
		Kind:             domain.TenantKind(w.Type),
		Name:             w.Name,
		Host:             w.Host,
		Enabled:          w.Enabled,
		GroupID:          w.Options.GroupID,
		AppID:            w.Options.AppID,
		ConfirmationCode: w.Options.VKConfirmationCode,
		Token:            w.Options.Token,
	}
}

// ListTenants returns every configured chat-bot project.
func (c *Client) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	var wire []tenantWire
	if err := c.request(ctx, "GET", "/api/clients/", nil, &wire); err != nil {
		return nil, err
	}
	tenants := make([]domain.Tenant, 0, len(wire))
	for _, w := range wire {
		tenants = append(tenants, w.toDomain())
	}
	return tenants, nil
}
