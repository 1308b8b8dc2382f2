// Package redisgate implements the cooldown gate on Redis, for fleets
// where signal admission must be shared across nodes.
package redisgate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/warden/internal/cooldown"
)

const keyPrefix = "warden:cooldown:"

// Gate admits at most one signal per key per window, coordinated
// through SET NX with expiry. The write and the expiry are one atomic
// command, so concurrent nodes agree on the single admission.
type Gate struct {
	client *redis.Client
	window time.Duration
}

// New creates a Gate on the given client.
func New(client *redis.Client, window time.Duration) *Gate {
	if window <= 0 {
		window = cooldown.DefaultWindow
	}
	return &Gate{client: client, window: window}
}

// Admit reports whether a signal scoped by key may pass. Backend errors
// are returned for the caller to handle; the workflow service fails
// open on them.
func (g *Gate) Admit(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, "1", g.window).Result()
	if err != nil {
		return false, fmt.Errorf("redisgate: admit %q: %w", key, err)
	}
	return ok, nil
}
