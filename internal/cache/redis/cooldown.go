package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// CooldownGate implements domain.CooldownGate with SET NX and a TTL, so the
// cooldown survives restarts and is shared by every instance on the same
// Redis.
type CooldownGate struct {
	rdb    *redis.Client
	prefix string
	owner  string
}

// NewCooldownGate creates a gate whose keys are namespaced under prefix.
func NewCooldownGate(c *Client, prefix string) *CooldownGate {
	return &CooldownGate{rdb: c.Underlying(), prefix: prefix, owner: uuid.NewString()}
}

func (g *CooldownGate) key(k string) string { return g.prefix + "cooldown:" + k }

// Allow claims key for ttl. It returns false while an earlier claim is live.
func (g *CooldownGate) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.key(key), g.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: cooldown %s: %w", key, err)
	}
	return ok, nil
}

var _ domain.CooldownGate = (*CooldownGate)(nil)
