package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cryptobotics/internal/models"

	"github.com/redis/go-redis/v9"
)

const statsKey = "cryptobotics:platform_stats"

const (
	fieldTotalRPC  = "total_rpc_calls"
	fieldDailyRPC  = "daily_rpc_calls"
	fieldActive    = "active_bots"
	fieldLastReset = "last_reset"
)

// RedisStats keeps the hot counters (RPC calls, active bots) in a Redis hash so
// several processes can share them. User and revenue figures stay in base.
type RedisStats struct {
	rdb  *redis.Client
	base StatsStore
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	return c
}

func NewRedisStats(ctx context.Context, cfg RedisConfig, base StatsStore) (*RedisStats, error) {
	cfg = cfg.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStats{rdb: rdb, base: base}, nil
}

func (r *RedisStats) Close() error {
	return r.rdb.Close()
}

func (r *RedisStats) IncrementRPCCalls(ctx context.Context, n int64) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, statsKey, fieldTotalRPC, n)
		p.HIncrBy(ctx, statsKey, fieldDailyRPC, n)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: increment rpc calls: %w", err)
	}
	return nil
}

func (r *RedisStats) AdjustActiveBots(ctx context.Context, delta int64) error {
	v, err := r.rdb.HIncrBy(ctx, statsKey, fieldActive, delta).Result()
	if err != nil {
		return fmt.Errorf("redis: adjust active bots: %w", err)
	}
	if v < 0 {
		if err := r.rdb.HSet(ctx, statsKey, fieldActive, 0).Err(); err != nil {
			return fmt.Errorf("redis: clamp active bots: %w", err)
		}
	}
	return nil
}

func (r *RedisStats) ResetDailyRPCCalls(ctx context.Context, at time.Time) error {
	err := r.rdb.HSet(ctx, statsKey, fieldDailyRPC, 0, fieldLastReset, at.UTC().Format(time.RFC3339)).Err()
	if err != nil {
		return fmt.Errorf("redis: reset daily rpc calls: %w", err)
	}
	return nil
}

func (r *RedisStats) GetPlatformStats(ctx context.Context) (*models.PlatformStats, error) {
	st, err := r.base.GetPlatformStats(ctx)
	if err != nil {
		return nil, err
	}
	vals, err := r.rdb.HGetAll(ctx, statsKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get stats: %w", err)
	}
	st.TotalRPCCalls = parseInt(vals[fieldTotalRPC])
	st.DailyRPCCalls = parseInt(vals[fieldDailyRPC])
	st.ActiveBots = parseInt(vals[fieldActive])
	if ts, err := time.Parse(time.RFC3339, vals[fieldLastReset]); err == nil {
		st.LastReset = ts
	}
	return st, nil
}

// UpdatePlatformStats writes counter fields to Redis and the rest to base.
func (r *RedisStats) UpdatePlatformStats(ctx context.Context, upd models.StatsUpdate) (*models.PlatformStats, error) {
	var fields []any
	if upd.TotalRPCCalls != nil {
		fields = append(fields, fieldTotalRPC, *upd.TotalRPCCalls)
	}
	if upd.DailyRPCCalls != nil {
		fields = append(fields, fieldDailyRPC, *upd.DailyRPCCalls)
	}
	if upd.ActiveBots != nil {
		fields = append(fields, fieldActive, *upd.ActiveBots)
	}
	if upd.LastReset != nil {
		fields = append(fields, fieldLastReset, upd.LastReset.UTC().Format(time.RFC3339))
	}
	if len(fields) > 0 {
		if err := r.rdb.HSet(ctx, statsKey, fields...).Err(); err != nil {
			return nil, fmt.Errorf("redis: update stats: %w", err)
		}
	}

	if upd.TotalUsers != nil || upd.Revenue != nil {
		if _, err := r.base.UpdatePlatformStats(ctx, models.StatsUpdate{TotalUsers: upd.TotalUsers, Revenue: upd.Revenue}); err != nil {
			return nil, err
		}
	}
	return r.GetPlatformStats(ctx)
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
