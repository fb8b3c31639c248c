// Package wlredis provides a Redis sorted-set admission window log, letting several processes
// pace calls through one shared window.
package wlredis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"learn.admission/types"
)

type windowLog struct {
	key    string // Controller key from config
	client redis.Cmdable
	ttl    time.Duration
	script *redis.Script
	idFunc func() string
}

// Option is a function type for setting options on a window log.
type Option func(*windowLog)

// WithTTL sets how long an idle window survives in Redis. It should be at least
// the controller's max interval.
func WithTTL(ttl time.Duration) Option {
	return func(w *windowLog) {
		w.ttl = ttl
	}
}

// WithIDFunc sets the generator for sorted-set members.
func WithIDFunc(idFunc func() string) Option {
	return func(w *windowLog) {
		w.idFunc = idFunc
	}
}

// New creates a Redis window log for the controller identified by key.
func New(key string, client redis.Cmdable, opts ...Option) types.WindowLog {
	w := &windowLog{
		key:    key,
		client: client,
		script: redisAdmitScript,
		idFunc: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	log.Info().Str("backend", "Redis").Str("controller_key", key).Dur("ttl", w.ttl).Msg("WindowLog: Initialized")
	return w
}

func (w *windowLog) redisKey() string {
	return "admission:" + w.key
}

func (w *windowLog) Admit(ctx context.Context, now time.Time, interval time.Duration, limit int) (bool, time.Time, error) {
	redisKey := w.redisKey()

	ttl := w.ttl
	if ttl < interval {
		ttl = 2 * interval
	}

	// KEYS: [redisKey]
	// ARGV: [nowMicros, intervalMicros, limit, ttlMillis, member]
	result, err := w.script.Run(ctx, w.client, []string{redisKey},
		now.UnixMicro(), interval.Microseconds(), int64(limit), ttl.Milliseconds(), w.idFunc()).Result()
	if err != nil {
		log.Error().Err(err).Str("backend", "Redis").Str("controller_key", w.key).Str("redis_key", redisKey).Msg("WindowLog: Error executing admit script")
		return false, time.Time{}, fmt.Errorf("redis admit script for controller '%s': %w", w.key, err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, time.Time{}, fmt.Errorf("unexpected result from Redis admit script for key '%s': %v", redisKey, result)
	}
	admitted, ok1 := values[0].(int64)
	oldest, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return false, time.Time{}, fmt.Errorf("unexpected result types from Redis admit script for key '%s': %T, %T", redisKey, values[0], values[1])
	}

	if admitted == 1 {
		return true, time.Time{}, nil
	}
	return false, time.UnixMicro(oldest), nil
}

func (w *windowLog) Len(ctx context.Context, now time.Time, interval time.Duration) (int, error) {
	minScore := "(" + strconv.FormatInt(now.Add(-interval).UnixMicro(), 10)
	n, err := w.client.ZCount(ctx, w.redisKey(), minScore, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount for controller '%s': %w", w.key, err)
	}
	return int(n), nil
}

func (w *windowLog) Clear(ctx context.Context) error {
	if err := w.client.Del(ctx, w.redisKey()).Err(); err != nil {
		return fmt.Errorf("redis del for controller '%s': %w", w.key, err)
	}
	return nil
}
