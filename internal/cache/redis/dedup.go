package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// Deduper implements domain.Deduper with SET NX: the first caller for a key
// wins until the key expires.
type Deduper struct {
	c *Client
}

// NewDeduper creates a Deduper.
func NewDeduper(c *Client) *Deduper {
	return &Deduper{c: c}
}

// Seen records key and reports whether it was already recorded.
func (d *Deduper) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := d.c.rdb.SetNX(ctx, d.c.key("dedup", key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup %s: %w", key, err)
	}
	return !fresh, nil
}

// Forget deletes key.
func (d *Deduper) Forget(ctx context.Context, key string) error {
	if err := d.c.rdb.Del(ctx, d.c.key("dedup", key)).Err(); err != nil {
		return fmt.Errorf("redis: dedup forget %s: %w", key, err)
	}
	return nil
}

var _ domain.Deduper = (*Deduper)(nil)
