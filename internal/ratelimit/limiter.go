// Package ratelimit provides Redis-backed rate limiting using the INCR +
// EXPIRE window algorithm. The live server throttles per-user message
// sending with it so one noisy client cannot saturate a room's fanout.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number
// of events allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMessage allows 10 sendMessage events per 10 seconds per user.
var RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given identifier is within the rate limit defined
// by rule. It increments the counter in Redis and sets the expiry on first
// access.
//
// Returns true if the event is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does
// not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("ratelimit: redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL and would block the identifier
			// forever. Best effort: delete it.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// AllowMessage applies RuleMessage to the given user. It is the live
// layer's hook for per-user sendMessage throttling.
func (l *Limiter) AllowMessage(ctx context.Context, userID string) (bool, error) {
	return l.Allow(ctx, userID, RuleMessage)
}
