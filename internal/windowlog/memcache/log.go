// Package wlmemcache provides a Memcache implementation of the admission window log.
// The log is stored as one JSON item and updated with compare-and-swap.
package wlmemcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/rs/zerolog/log"

	"learn.admission/internal/memcacheiface"
	"learn.admission/types"
)

// maxCASRetries bounds how often Admit retries after losing a compare-and-swap race.
const maxCASRetries = 8

// ErrContention is returned when the item kept changing under concurrent writers.
var ErrContention = errors.New("memcache window log contention")

type windowLog struct {
	key    string
	client memcacheiface.Client
	ttl    time.Duration
}

// windowState is the JSON document stored in Memcache.
type windowState struct {
	Admissions []int64 `json:"admissions"` // unix microseconds, oldest first
}

// Option is a function type for setting options on a window log.
type Option func(*windowLog)

// WithTTL sets the item expiration. It should be at least the controller's max interval.
func WithTTL(ttl time.Duration) Option {
	return func(w *windowLog) {
		w.ttl = ttl
	}
}

// New creates a Memcache window log for the controller identified by key.
func New(key string, client memcacheiface.Client, opts ...Option) types.WindowLog {
	w := &windowLog{
		key:    key,
		client: client,
	}
	for _, opt := range opts {
		opt(w)
	}
	log.Info().Str("backend", "Memcache").Str("controller_key", key).Dur("ttl", w.ttl).Msg("WindowLog: Initialized")
	return w
}

func (w *windowLog) itemKey() string {
	return "admission:" + w.key
}

// load returns the stored item (nil on a cache miss) and its decoded state.
func (w *windowLog) load() (*memcache.Item, *windowState, error) {
	state := &windowState{}
	item, err := w.client.Get(w.itemKey())
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, state, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get state from memcache: %w", err)
	}
	if err := json.Unmarshal(item.Value, state); err != nil {
		return nil, nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return item, state, nil
}

// expiration converts a TTL to whole memcache seconds, rounding up.
func expiration(ttl time.Duration) int32 {
	secs := int32((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (w *windowLog) Admit(ctx context.Context, now time.Time, interval time.Duration, limit int) (bool, time.Time, error) {
	ttl := w.ttl
	if ttl < interval {
		ttl = 2 * interval
	}
	nowMicros := now.UnixMicro()

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, time.Time{}, err
		}

		item, state, err := w.load()
		if err != nil {
			log.Error().Err(err).Str("backend", "Memcache").Str("controller_key", w.key).Msg("WindowLog: Failed to load state")
			return false, time.Time{}, err
		}

		kept := state.Admissions[:0]
		for _, t := range state.Admissions {
			if nowMicros-t < interval.Microseconds() {
				kept = append(kept, t)
			}
		}
		state.Admissions = kept

		if len(state.Admissions) >= limit {
			return false, time.UnixMicro(state.Admissions[0]), nil
		}
		state.Admissions = append(state.Admissions, nowMicros)

		value, err := json.Marshal(state)
		if err != nil {
			return false, time.Time{}, fmt.Errorf("marshal state: %w", err)
		}

		if item == nil {
			err = w.client.Add(&memcache.Item{Key: w.itemKey(), Value: value, Expiration: expiration(ttl)})
		} else {
			item.Value = value
			item.Expiration = expiration(ttl)
			err = w.client.CompareAndSwap(item)
		}
		switch {
		case err == nil:
			return true, time.Time{}, nil
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCASConflict), errors.Is(err, memcache.ErrCacheMiss):
			log.Debug().Str("backend", "Memcache").Str("controller_key", w.key).Int("attempt", attempt+1).Msg("WindowLog: Lost update race, retrying")
			continue
		default:
			log.Error().Err(err).Str("backend", "Memcache").Str("controller_key", w.key).Msg("WindowLog: Failed to store state")
			return false, time.Time{}, fmt.Errorf("store state in memcache: %w", err)
		}
	}
	return false, time.Time{}, fmt.Errorf("%w for controller '%s' after %d attempts", ErrContention, w.key, maxCASRetries)
}

func (w *windowLog) Len(ctx context.Context, now time.Time, interval time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, state, err := w.load()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range state.Admissions {
		if now.UnixMicro()-t < interval.Microseconds() {
			n++
		}
	}
	return n, nil
}

func (w *windowLog) Clear(ctx context.Context) error {
	err := w.client.Delete(w.itemKey())
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("delete state from memcache: %w", err)
	}
	return nil
}
