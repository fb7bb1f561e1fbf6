package catalog

import (
	"context"

	"supplybot/internal/schedule"
)

// StartRefresher pre-warms the cache on the given cron schedule so documents
// rarely pay for a refresh. An empty schedule disables it.
func (c *Cache) StartRefresher(ctx context.Context, spec string) error {
	return schedule.Start(ctx, "catalog-refresh", spec, c.logger, func(ctx context.Context) {
		if _, err := c.Refresh(ctx); err != nil {
			c.logger.WithField("job", "catalog-refresh").Warnf("scheduled catalog refresh failed: %v", err)
		}
	})
}
