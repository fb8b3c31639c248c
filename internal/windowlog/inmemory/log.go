// Package wlinmemory provides an in-memory admission window log backed by a deque.
package wlinmemory

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog/log"
)

// windowLog keeps admission instants in arrival order, oldest at the front.
type windowLog struct {
	key     string
	entries deque.Deque[time.Time]
	mu      sync.Mutex
}

// New creates an empty in-memory window log for the controller identified by key.
func New(key string) *windowLog {
	log.Debug().Str("backend", "InMemory").Str("controller_key", key).Msg("WindowLog: Initialized")
	return &windowLog{key: key}
}

func (w *windowLog) Admit(ctx context.Context, now time.Time, interval time.Duration, limit int) (bool, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return false, time.Time{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, interval)

	if w.entries.Len() < limit {
		w.entries.PushBack(now)
		return true, time.Time{}, nil
	}
	return false, w.entries.Front(), nil
}

func (w *windowLog) Len(ctx context.Context, now time.Time, interval time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for i := 0; i < w.entries.Len(); i++ {
		if now.Sub(w.entries.At(i)) < interval {
			n++
		}
	}
	return n, nil
}

func (w *windowLog) Clear(ctx context.Context) error {
	w.mu.Lock()
	w.entries.Clear()
	w.mu.Unlock()
	return nil
}

// prune removes instants which are beyond the current window.
func (w *windowLog) prune(now time.Time, interval time.Duration) {
	for w.entries.Len() > 0 && now.Sub(w.entries.Front()) >= interval {
		w.entries.PopFront()
	}
}
