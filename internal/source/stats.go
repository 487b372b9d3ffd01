package source

import (
	"context"
	"fmt"
	"time"

	"problembot/internal/domain"
)

// StatPeriod selects the digest window.
type StatPeriod string

const (
	PeriodGlobal StatPeriod = "global"
	PeriodWeekly StatPeriod = "weekly"
	PeriodDaily  StatPeriod = "daily"
)

type statWire struct {
	Count    int `json:"count"`
	Resolved int `json:"resolved"`
}

// Stats returns aggregate problem counters for digest messages.
func (c *Client) Stats(ctx context.Context, period StatPeriod) (domain.StatSummary, error) {
	path := "/api/stat/global/"
	var from time.Time
	switch period {
	case PeriodWeekly:
		from = time.Now().AddDate(0, 0, -7)
	case PeriodDaily:
		from = time.Now().AddDate(0, 0, -1)
	}
	if !from.IsZero() {
		path += "?from=" + from.Format("2006-01-02T15:04:05")
	}

	var wire []statWire
	if err := c.request(ctx, "GET", path, nil, &wire); err != nil {
		return domain.StatSummary{}, fmt.Errorf("stats %s: %w", period, err)
	}
	var sum domain.StatSummary
	for _, w := range wire {
		sum.Total += w.Count
		sum.Resolved += w.Resolved
	}
	return sum, nil
}
