// Package admission provides an adaptive admission controller that paces outbound calls to a
// rate-limited remote service. Callers are served strictly in arrival order; at most
// maxAttempts admissions happen within any window of the current interval, and the interval
// grows on rate-limit feedback and shrinks again after sustained success.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog/log"

	"learn.admission/config"
	wlinmemory "learn.admission/internal/windowlog/inmemory"
	"learn.admission/metrics"
	"learn.admission/types"
)

// minWindowWait keeps a full window from turning into a busy loop when the backend
// reports an oldest instant that already rolled over.
const minWindowWait = time.Millisecond

// waiter is a caller queued behind the head. ready is closed when it becomes head,
// or when it is evicted by Reset (err is then set).
type waiter struct {
	ready chan struct{}
	turn  uint64
	err   error
}

// Controller is an adaptive admission controller. The zero value is not usable; use New.
type Controller struct {
	key           string
	baseInterval  time.Duration
	maxInterval   time.Duration
	backoffFactor float64
	maxAttempts   int
	queueTimeout  time.Duration
	tuneThreshold int
	tuneCooldown  time.Duration

	window  types.WindowLog
	metrics *metrics.Metrics
	nowFunc func() time.Time

	// interval is written under mu and read lock-free by CurrentInterval.
	interval atomic.Int64

	mu                 sync.Mutex
	successStreak      int
	lastIntervalChange time.Time
	busy               bool   // the turn is held by a caller
	turn               uint64 // bumped by Reset; stale holders cannot hand over
	resetc             chan struct{}
	waiters            deque.Deque[*waiter]
}

var _ types.Controller = (*Controller)(nil)

// New validates cfg and creates a controller. Unset tuning fields get their defaults.
func New(cfg config.ControllerConfig, opts ...Option) (*Controller, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Str("controller_key", cfg.Key).Msg("Controller: Invalid configuration")
		return nil, err
	}

	c := &Controller{
		key:           cfg.Key,
		baseInterval:  cfg.BaseInterval,
		maxInterval:   cfg.MaxInterval,
		backoffFactor: cfg.BackoffFactor,
		maxAttempts:   cfg.MaxAttempts,
		queueTimeout:  cfg.QueueTimeout,
		tuneThreshold: cfg.TuneThreshold,
		tuneCooldown:  cfg.TuneCooldown,
		nowFunc:       time.Now,
		resetc:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.window == nil {
		c.window = wlinmemory.New(cfg.Key)
	}

	c.interval.Store(int64(c.baseInterval))
	c.lastIntervalChange = c.nowFunc()
	c.metrics.RecordInterval(c.key, c.baseInterval, "")

	log.Info().Str("controller_key", c.key).Dur("base_interval", c.baseInterval).Dur("max_interval", c.maxInterval).
		Float64("backoff_factor", c.backoffFactor).Int("max_attempts", c.maxAttempts).Dur("queue_timeout", c.queueTimeout).
		Msg("Controller: Initialized")
	return c, nil
}

// Key returns the controller key from config.
func (c *Controller) Key() string {
	return c.key
}

// CurrentInterval returns the current sliding-window length.
func (c *Controller) CurrentInterval() time.Duration {
	return time.Duration(c.interval.Load())
}

// Gate blocks until it is the caller's turn and the sliding window has room, then records
// an admission. It fails with a *QueueTimeoutError if that takes longer than the queue
// timeout, with ErrControllerReset if Reset evicted the caller, or with the context's
// error if ctx ends first. A failed caller consumes no window slot.
func (c *Controller) Gate(ctx context.Context) error {
	start := c.nowFunc()
	qctx, cancel := context.WithTimeout(ctx, c.queueTimeout)
	defer cancel()

	turn, err := c.acquire(qctx)
	if err != nil {
		return c.gateError(ctx, err, start)
	}

	for {
		c.mu.Lock()
		if turn != c.turn {
			c.mu.Unlock()
			return ErrControllerReset
		}

		now := c.nowFunc()
		interval := c.CurrentInterval()
		admitted, oldest, err := c.window.Admit(qctx, now, interval, c.maxAttempts)
		if err != nil {
			c.release(turn)
			c.mu.Unlock()
			return c.gateError(ctx, err, start)
		}
		if admitted {
			c.recordAdmission(now)
			c.release(turn)
			c.mu.Unlock()

			waited := now.Sub(start)
			c.metrics.RecordAdmission(c.key, waited)
			log.Debug().Str("controller_key", c.key).Dur("waited", waited).Dur("interval", interval).Msg("Controller: Admitted")
			return nil
		}
		resetc := c.resetc
		c.mu.Unlock()

		wait := interval - now.Sub(oldest)
		if wait < minWindowWait {
			wait = minWindowWait
		}
		log.Debug().Str("controller_key", c.key).Dur("wait", wait).Int("max_attempts", c.maxAttempts).Msg("Controller: Window full, waiting")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-resetc:
			timer.Stop()
			return ErrControllerReset
		case <-qctx.Done():
			timer.Stop()
			c.mu.Lock()
			c.release(turn)
			c.mu.Unlock()
			return c.gateError(ctx, qctx.Err(), start)
		}
	}
}

// acquire waits until the caller holds the turn and returns the turn generation.
func (c *Controller) acquire(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	if !c.busy {
		c.busy = true
		turn := c.turn
		c.mu.Unlock()
		return turn, nil
	}
	w := &waiter{ready: make(chan struct{})}
	c.waiters.PushBack(w)
	c.mu.Unlock()

	select {
	case <-w.ready:
		return w.turn, w.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-w.ready:
		// The turn arrived while giving up; pass it on.
		if w.err == nil {
			c.release(w.turn)
		}
	default:
		if i := c.waiters.Index(func(q *waiter) bool { return q == w }); i >= 0 {
			c.waiters.Remove(i)
		}
	}
	return 0, ctx.Err()
}

// release hands the turn to the next waiter. Must be called with mu held.
func (c *Controller) release(turn uint64) {
	if turn != c.turn || !c.busy {
		return
	}
	if c.waiters.Len() == 0 {
		c.busy = false
		return
	}
	next := c.waiters.PopFront()
	next.turn = turn
	close(next.ready)
}

func (c *Controller) gateError(ctx context.Context, err error, start time.Time) error {
	waited := c.nowFunc().Sub(start)
	switch {
	case errors.Is(err, ErrControllerReset):
		return err
	case ctx.Err() != nil:
		log.Warn().Err(ctx.Err()).Str("controller_key", c.key).Dur("waited", waited).Msg("Controller: Context cancelled while waiting for admission")
		return fmt.Errorf("admission for controller '%s': %w", c.key, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		c.metrics.RecordQueueTimeout(c.key)
		log.Warn().Str("controller_key", c.key).Dur("waited", waited).Dur("queue_timeout", c.queueTimeout).Msg("Controller: Queue timeout")
		return &QueueTimeoutError{Key: c.key, Waited: waited, Timeout: c.queueTimeout}
	default:
		return fmt.Errorf("admission for controller '%s': %w", c.key, err)
	}
}

// recordAdmission bumps the success streak and runs the auto-tune shrink. A tune always
// restarts the streak and the cool-down, even when the interval is already at the base.
// Must be called with mu held.
func (c *Controller) recordAdmission(now time.Time) {
	c.successStreak++
	if c.successStreak >= c.tuneThreshold && now.Sub(c.lastIntervalChange) >= c.tuneCooldown {
		c.decreaseInterval(now)
		c.successStreak = 0
		c.lastIntervalChange = now
	}
}

// IncreaseInterval multiplies the interval by the backoff factor, capped at the max interval.
// It is a no-op at the ceiling.
func (c *Controller) IncreaseInterval() {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.CurrentInterval()
	next := min(time.Duration(float64(current)*c.backoffFactor), c.maxInterval)
	if next == current {
		return
	}
	c.setInterval(next, c.nowFunc())
	c.metrics.RecordInterval(c.key, next, "up")
	log.Warn().Str("controller_key", c.key).Dur("interval", next).Msg("Controller: Increasing interval")
}

// decreaseInterval divides the interval by the backoff factor, floored at the base interval.
// Must be called with mu held.
func (c *Controller) decreaseInterval(now time.Time) {
	current := c.CurrentInterval()
	next := max(c.baseInterval, time.Duration(float64(current)/c.backoffFactor))
	if next == current {
		return
	}
	streak := c.successStreak
	c.setInterval(next, now)
	c.metrics.RecordInterval(c.key, next, "down")
	log.Info().Str("controller_key", c.key).Dur("interval", next).Int("streak", streak).Msg("Controller: Decreasing interval")
}

func (c *Controller) setInterval(interval time.Duration, now time.Time) {
	c.interval.Store(int64(interval))
	c.successStreak = 0
	c.lastIntervalChange = now
}

// Reset clears the admission log, restores the base interval and streak, and drops the
// queue: the caller holding the turn and every queued caller fail with ErrControllerReset,
// and the next caller becomes head immediately.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turn++
	c.busy = false
	close(c.resetc)
	c.resetc = make(chan struct{})
	evicted := c.waiters.Len()
	for c.waiters.Len() > 0 {
		w := c.waiters.PopFront()
		w.err = ErrControllerReset
		close(w.ready)
	}

	c.setInterval(c.baseInterval, c.nowFunc())
	c.metrics.RecordInterval(c.key, c.baseInterval, "")

	if err := c.window.Clear(ctx); err != nil {
		log.Error().Err(err).Str("controller_key", c.key).Msg("Controller: Failed to clear admission log on reset")
		return fmt.Errorf("reset controller '%s': %w", c.key, err)
	}
	log.Info().Str("controller_key", c.key).Int("evicted", evicted).Msg("Controller: Reset")
	return nil
}

// Snapshot is the observable state of a controller.
type Snapshot struct {
	Key                string
	CurrentInterval    time.Duration
	BaseInterval       time.Duration
	MaxInterval        time.Duration
	MaxAttempts        int
	SuccessStreak      int
	LastIntervalChange time.Time
	Busy               bool
	Waiting            int
	Admissions         int // live admissions in the current window
}

// Snapshot returns the current state of the controller. The live admission count is
// read from the window log after the lock is released, so it may lag the other fields.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	s := Snapshot{
		Key:                c.key,
		CurrentInterval:    c.CurrentInterval(),
		BaseInterval:       c.baseInterval,
		MaxInterval:        c.maxInterval,
		MaxAttempts:        c.maxAttempts,
		SuccessStreak:      c.successStreak,
		LastIntervalChange: c.lastIntervalChange,
		Busy:               c.busy,
		Waiting:            c.waiters.Len(),
	}
	c.mu.Unlock()

	n, err := c.window.Len(ctx, c.nowFunc(), s.CurrentInterval)
	if err != nil {
		return s, fmt.Errorf("snapshot controller '%s': %w", c.key, err)
	}
	s.Admissions = n
	return s, nil
}

// Do gates, runs fn and backs off when fn reports ErrRateLimited. fn is not retried.
func Do(ctx context.Context, c types.Controller, fn func(context.Context) error) error {
	if err := c.Gate(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if errors.Is(err, ErrRateLimited) {
		c.IncreaseInterval()
	}
	return err
}
