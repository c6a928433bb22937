// Package notify fans one event out to every user subscribed to a feeder,
// gated by the user's per-category settings. Delivery is fire-and-forget
// best-effort: one failed recipient never blocks the rest, and there is no
// dead-letter queue.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/autofeeder/bridge/internal/model"
)

type userStore interface {
	UsersByFeeder(ctx context.Context, feederID string) ([]model.User, error)
}

type mailSender interface {
	Send(to, subject, body string) error
}

type subscriberCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Gateway delivers one notification per subscribed user.
type Gateway struct {
	users    userStore
	mailer   mailSender
	cache    subscriberCache
	cacheTTL time.Duration
	strategy retry.Strategy
}

// New creates a gateway. The cache bounds how long a removed or re-pointed
// user keeps receiving a feeder's notifications; cacheTTL <= 0 disables
// caching entirely.
func New(users userStore, mailer mailSender, cache subscriberCache, cacheTTL time.Duration, strategy retry.Strategy) *Gateway {
	return &Gateway{
		users:    users,
		mailer:   mailer,
		cache:    cache,
		cacheTTL: cacheTTL,
		strategy: strategy,
	}
}

// Notify sends subject/body to every user of feederID whose settings enable
// category. It returns an error only when the subscriber lookup itself fails;
// per-recipient delivery failures are logged and skipped.
func (g *Gateway) Notify(ctx context.Context, feederID, subject, body, category string) error {
	users, err := g.subscribers(ctx, feederID)
	if err != nil {
		return fmt.Errorf("failed to look up users for feeder %s: %w", feederID, err)
	}

	for _, u := range users {
		if !u.Settings[category] {
			continue
		}

		if err := g.send(u.Email, subject, body); err != nil {
			zlog.Logger.Error().Err(err).Str("email", u.Email).Str("subject", subject).Msg("failed to send notification")
			continue
		}

		zlog.Logger.Info().Str("email", u.Email).Str("subject", subject).Msg("notification sent")
	}

	return nil
}

// subscribers resolves the user list for a feeder, serving from the cache
// when possible. Any cache failure degrades to a direct store read.
func (g *Gateway) subscribers(ctx context.Context, feederID string) ([]model.User, error) {
	key := "subscribers:" + feederID

	if g.cacheTTL > 0 && g.cache != nil {
		cached, err := g.cache.Get(ctx, key).Result()
		switch {
		case err == nil:
			var users []model.User
			if jsonErr := json.Unmarshal([]byte(cached), &users); jsonErr == nil {
				return users, nil
			}
			zlog.Logger.Warn().Str("key", key).Msg("corrupt subscriber cache entry, refetching")
		case !errors.Is(err, redis.Nil):
			zlog.Logger.Warn().Err(err).Str("key", key).Msg("subscriber cache read failed")
		}
	}

	users, err := g.users.UsersByFeeder(ctx, feederID)
	if err != nil {
		return nil, err
	}

	if g.cacheTTL > 0 && g.cache != nil {
		if data, err := json.Marshal(users); err == nil {
			if err := g.cache.Set(ctx, key, data, g.cacheTTL).Err(); err != nil {
				zlog.Logger.Warn().Err(err).Str("key", key).Msg("failed to cache subscribers")
			}
		}
	}

	return users, nil
}

// send attempts delivery with the configured retry strategy.
func (g *Gateway) send(to, subject, body string) error {
	attempts := g.strategy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := g.strategy.Delay

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = g.mailer.Send(to, subject, body); err == nil {
			return nil
		}

		if attempt < attempts-1 {
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * g.strategy.Backoff)
		}
	}

	return err
}
