// Package api builds admission controllers from configuration.
package api

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	apiinternal "learn.admission/api/internal"
	"learn.admission/config"
	"learn.admission/metrics"
	"learn.admission/types"
)

// clientCloser is an internal type that holds backend clients and implements io.Closer.
type clientCloser struct {
	clients types.BackendClients
}

// Close gracefully shuts down all initialized backend clients held by the clientCloser.
func (c *clientCloser) Close() error {
	log.Info().Msg("API: Starting backend client shutdown...")
	var errs []error

	if c.clients.RedisClient != nil {
		if err := c.clients.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
			log.Error().Err(err).Msg("API: Error closing Redis client")
		}
	}
	if c.clients.MemcacheClient != nil {
		if err := c.clients.MemcacheClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Memcache client: %w", err))
			log.Error().Err(err).Msg("API: Error closing Memcache client")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during client shutdown: %w", errors.Join(errs...))
	}
	log.Info().Msg("API: Backend client shutdown complete.")
	return nil
}

// NewControllersFromConfigPath loads config, initializes any needed backend clients,
// and returns the controllers and their configs keyed by controller key, plus an io.Closer
// for the backend clients. m may be nil.
func NewControllersFromConfigPath(configPath string, m *metrics.Metrics) (map[string]*Controller, map[string]config.ControllerConfig, io.Closer, error) {
	cfgFile, err := apiinternal.LoadConfig(configPath)
	if err != nil {
		log.Error().Err(err).Str("config_path", configPath).Msg("API: Initialization failed: Error loading configuration")
		return nil, nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}
	return NewControllers(cfgFile.Controllers, m)
}

// NewControllers builds one controller per config, sharing backend clients between them.
func NewControllers(cfgs []config.ControllerConfig, m *metrics.Metrics) (map[string]*Controller, map[string]config.ControllerConfig, io.Closer, error) {
	if len(cfgs) == 0 {
		return nil, nil, nil, fmt.Errorf("no controller configurations found")
	}

	configs := make(map[string]config.ControllerConfig, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Key == "" {
			return nil, nil, nil, fmt.Errorf("controller configuration missing 'key' field")
		}
		if _, dup := configs[cfg.Key]; dup {
			return nil, nil, nil, fmt.Errorf("duplicate controller key '%s'", cfg.Key)
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, nil, nil, fmt.Errorf("controller '%s': %w", cfg.Key, err)
		}
		configs[cfg.Key] = cfg
	}

	closer := &clientCloser{}
	for _, cfg := range cfgs {
		var err error
		switch {
		case cfg.Backend == config.Redis && closer.clients.RedisClient == nil:
			log.Info().Str("controller_key", cfg.Key).Msg("API: Redis backend required. Initializing Redis client...")
			closer.clients.RedisClient, err = apiinternal.InitRedisClient(cfg.RedisParams)
		case cfg.Backend == config.Memcache && closer.clients.MemcacheClient == nil:
			log.Info().Str("controller_key", cfg.Key).Msg("API: Memcache backend required. Initializing Memcache client...")
			closer.clients.MemcacheClient, err = apiinternal.InitMemcacheClient(cfg.MemcacheParams)
		}
		if err != nil {
			closer.Close()
			return nil, nil, nil, err
		}
	}

	controllers := make(map[string]*Controller, len(configs))
	log.Info().Int("controllers", len(configs)).Msg("API: Creating controller instances...")
	for key, cfg := range configs {
		c, err := NewController(cfg, closer.clients, m)
		if err != nil {
			log.Error().Err(err).Str("controller_key", key).Msg("API: Initialization failed")
			closer.Close()
			return nil, nil, nil, err
		}
		controllers[key] = c
	}

	log.Info().Msg("API: All admission controllers initialized.")
	return controllers, configs, closer, nil
}
