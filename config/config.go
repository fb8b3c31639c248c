package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure returned from Validate.
var ErrInvalidConfig = errors.New("invalid controller config")

// BackendType represents the storage backend of the admission window log.
type BackendType string

const (
	InMemory BackendType = "in_memory"
	Redis    BackendType = "redis"
	Memcache BackendType = "memcache"
)

// Defaults used when a field is left empty.
const (
	DefaultBaseInterval  = 500 * time.Millisecond
	DefaultMaxInterval   = 3 * time.Second
	DefaultBackoffFactor = 1.5
	DefaultMaxAttempts   = 2
	DefaultQueueTimeout  = 30 * time.Second
	DefaultTuneThreshold = 50
	DefaultTuneCooldown  = 60 * time.Second
)

// ControllerConfig holds the configuration for a single admission controller instance.
type ControllerConfig struct {
	Key     string      `yaml:"key"`
	Backend BackendType `yaml:"backend"`

	BaseInterval  time.Duration `yaml:"base_interval"`
	MaxInterval   time.Duration `yaml:"max_interval"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	MaxAttempts   int           `yaml:"max_attempts"`
	QueueTimeout  time.Duration `yaml:"queue_timeout"`

	// Auto-tune: shrink the interval after TuneThreshold admissions once
	// TuneCooldown has passed since the last interval change. Zero (or omitted)
	// means the default for either field; use a tiny cool-down such as 1ns to
	// tune on the threshold alone.
	TuneThreshold int           `yaml:"tune_threshold,omitempty"`
	TuneCooldown  time.Duration `yaml:"tune_cooldown,omitempty"`

	// Upstream is the base URL paced by this controller when served through the proxy.
	Upstream string `yaml:"upstream,omitempty"`

	RedisParams    *RedisBackendConfig    `yaml:"redis_params,omitempty"`
	MemcacheParams *MemcacheBackendConfig `yaml:"memcache_params,omitempty"`
}

// RedisBackendConfig holds parameters for the Redis backend.
type RedisBackendConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// MemcacheBackendConfig holds parameters for the Memcache backend.
type MemcacheBackendConfig struct {
	Addresses []string `yaml:"addresses"`
}

// DefaultControllerConfig returns an in-memory configuration with the stock pacing values.
func DefaultControllerConfig(key string) ControllerConfig {
	return ControllerConfig{
		Key:           key,
		Backend:       InMemory,
		BaseInterval:  DefaultBaseInterval,
		MaxInterval:   DefaultMaxInterval,
		BackoffFactor: DefaultBackoffFactor,
		MaxAttempts:   DefaultMaxAttempts,
		QueueTimeout:  DefaultQueueTimeout,
		TuneThreshold: DefaultTuneThreshold,
		TuneCooldown:  DefaultTuneCooldown,
	}
}

// ApplyDefaults fills the optional fields that were left at their zero value.
// A zero TuneCooldown therefore means DefaultTuneCooldown, not "no cool-down".
// Pacing bounds are not defaulted: a config file must state them.
func (c *ControllerConfig) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = InMemory
	}
	if c.TuneThreshold == 0 {
		c.TuneThreshold = DefaultTuneThreshold
	}
	if c.TuneCooldown == 0 {
		c.TuneCooldown = DefaultTuneCooldown
	}
}

// Validate reports the first configuration problem found, wrapped in ErrInvalidConfig.
func (c ControllerConfig) Validate() error {
	switch {
	case c.BaseInterval <= 0:
		return fmt.Errorf("%w: base_interval must be positive, got %s", ErrInvalidConfig, c.BaseInterval)
	case c.BaseInterval > c.MaxInterval:
		return fmt.Errorf("%w: base_interval %s exceeds max_interval %s", ErrInvalidConfig, c.BaseInterval, c.MaxInterval)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	case c.BackoffFactor <= 1:
		return fmt.Errorf("%w: backoff_factor must be greater than 1, got %g", ErrInvalidConfig, c.BackoffFactor)
	case c.QueueTimeout <= 0:
		return fmt.Errorf("%w: queue_timeout must be positive, got %s", ErrInvalidConfig, c.QueueTimeout)
	case c.TuneThreshold < 1:
		return fmt.Errorf("%w: tune_threshold must be at least 1, got %d", ErrInvalidConfig, c.TuneThreshold)
	case c.TuneCooldown < 0:
		return fmt.Errorf("%w: tune_cooldown must not be negative, got %s", ErrInvalidConfig, c.TuneCooldown)
	}

	switch c.Backend {
	case InMemory:
	case Redis:
		if c.RedisParams == nil || c.RedisParams.Address == "" {
			return fmt.Errorf("%w: redis backend selected but redis_params.address is missing", ErrInvalidConfig)
		}
	case Memcache:
		if c.MemcacheParams == nil || len(c.MemcacheParams.Addresses) == 0 {
			return fmt.Errorf("%w: memcache backend selected but memcache_params.addresses is missing", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported backend type '%s'", ErrInvalidConfig, c.Backend)
	}
	return nil
}
