package admission

import (
	"time"

	"learn.admission/metrics"
	"learn.admission/types"
)

// Option is a function type for setting options on a Controller.
type Option func(*Controller)

// WithClock sets a custom clock (nowFunc) for the Controller.
// Window waits still use real timers.
func WithClock(nowFunc func() time.Time) Option {
	return func(c *Controller) {
		c.nowFunc = nowFunc
	}
}

// WithWindowLog replaces the default in-memory admission log.
func WithWindowLog(w types.WindowLog) Option {
	return func(c *Controller) {
		c.window = w
	}
}

// WithMetrics records admissions, timeouts and interval changes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}
