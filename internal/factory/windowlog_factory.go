package factory

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"learn.admission/config"
	wlinmemory "learn.admission/internal/windowlog/inmemory"
	wlmemcache "learn.admission/internal/windowlog/memcache"
	wlredis "learn.admission/internal/windowlog/redis"
	"learn.admission/types"
)

// NewWindowLog creates the admission window log selected by cfg.Backend.
// Remote logs keep entries for at least the controller's max interval.
func NewWindowLog(cfg config.ControllerConfig, clients types.BackendClients) (types.WindowLog, error) {
	switch cfg.Backend {
	case config.InMemory, "":
		log.Debug().Str("controller_key", cfg.Key).Msg("Factory(WindowLog): Creating in-memory window log")
		return wlinmemory.New(cfg.Key), nil
	case config.Redis:
		if clients.RedisClient == nil {
			err := fmt.Errorf("redis client is required but not provided for redis backend for key '%s'", cfg.Key)
			log.Error().Err(err).Str("controller_key", cfg.Key).Msg("Factory(WindowLog): Creation failed")
			return nil, err
		}
		log.Debug().Str("controller_key", cfg.Key).Dur("ttl", cfg.MaxInterval).Msg("Factory(WindowLog): Creating Redis window log")
		return wlredis.New(cfg.Key, clients.RedisClient, wlredis.WithTTL(cfg.MaxInterval)), nil
	case config.Memcache:
		if clients.MemcacheClient == nil {
			err := fmt.Errorf("memcache client is required but not provided for memcache backend for key '%s'", cfg.Key)
			log.Error().Err(err).Str("controller_key", cfg.Key).Msg("Factory(WindowLog): Creation failed")
			return nil, err
		}
		log.Debug().Str("controller_key", cfg.Key).Dur("ttl", cfg.MaxInterval).Msg("Factory(WindowLog): Creating Memcache window log")
		return wlmemcache.New(cfg.Key, clients.MemcacheClient, wlmemcache.WithTTL(cfg.MaxInterval)), nil
	default:
		err := fmt.Errorf("unsupported backend type '%s' for key '%s'", cfg.Backend, cfg.Key)
		log.Error().Err(err).Str("controller_key", cfg.Key).Msg("Factory(WindowLog): Creation failed")
		return nil, err
	}
}
