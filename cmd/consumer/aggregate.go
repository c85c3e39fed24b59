package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/activity-radar/internal/events"
)

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) error
	ZIncrBy(ctx context.Context, key string, incr float64, member string) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HIncrBy(ctx context.Context, key, field string, incr int64) error {
	return r.c.HIncrBy(ctx, key, field, incr).Err()
}

func (r *redisAdapter) ZIncrBy(ctx context.Context, key string, incr float64, member string) error {
	return r.c.ZIncrBy(ctx, key, incr, member).Err()
}

// op is one counter increment. Ops are applied and retried one at a
// time so an increment that already landed is not repeated.
type op struct {
	hash   bool
	key    string
	field  string
	amount int64
}

func (o op) apply(ctx context.Context, rc RedisUpdater) error {
	if o.hash {
		return rc.HIncrBy(ctx, o.key, o.field, o.amount)
	}
	return rc.ZIncrBy(ctx, o.key, float64(o.amount), o.field)
}

// opsFor maps an event onto popularity counters:
//
//	<prefix>:item:<id>     hash views/likes
//	<prefix>:popular       sorted set of items by views+likes
//	<prefix>:zones         hash of views per zone
//	<prefix>:achievements  hash of unlocks per achievement
func opsFor(prefix string, e events.Event) []op {
	switch e.Type {
	case events.ItemViewed:
		if e.ItemID == "" {
			return nil
		}
		id := string(e.ItemID)
		ops := []op{
			{hash: true, key: prefix + ":item:" + id, field: "views", amount: 1},
			{key: prefix + ":popular", field: id, amount: 1},
		}
		for _, z := range e.Zones {
			ops = append(ops, op{hash: true, key: prefix + ":zones", field: z, amount: 1})
		}
		return ops
	case events.FavoriteToggled:
		if e.ItemID == "" || e.Liked == nil {
			return nil
		}
		delta := int64(-1)
		if *e.Liked {
			delta = 1
		}
		id := string(e.ItemID)
		return []op{
			{hash: true, key: prefix + ":item:" + id, field: "likes", amount: delta},
			{key: prefix + ":popular", field: id, amount: delta},
		}
	case events.AchievementUnlocked:
		if e.Achievement == "" {
			return nil
		}
		return []op{{hash: true, key: prefix + ":achievements", field: e.Achievement, amount: 1}}
	}
	return nil
}

// updateRedisWithRetry applies ops in order, retrying each with doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, ops []op, attempts int, delay time.Duration) error {
	for _, o := range ops {
		d := delay
		for i := 0; i < attempts; i++ {
			err := o.apply(ctx, rc)
			if err == nil {
				break
			}
			if i == attempts-1 {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
			d *= 2
		}
	}
	return nil
}
