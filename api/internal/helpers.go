package internal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"learn.admission/config"
)

// connectTimeout bounds the startup PING against a backend.
const connectTimeout = 5 * time.Second

// ConfigFile is the top-level layout of the YAML file: a list under "controllers".
type ConfigFile struct {
	Controllers []config.ControllerConfig `yaml:"controllers"`
}

// LoadConfig reads path and decodes it strictly, so misspelled fields are rejected.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var file ConfigFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	log.Info().Str("config_path", path).Int("controllers", len(file.Controllers)).Msg("Config: Loaded")
	return &file, nil
}

// InitRedisClient dials the Redis server in params and checks it answers PING.
func InitRedisClient(params *config.RedisBackendConfig) (*redis.Client, error) {
	if params == nil {
		return nil, fmt.Errorf("redis backend selected but redis_params are missing in config")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     params.Address,
		Password: params.Password,
		DB:       params.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		log.Error().Err(err).Str("address", params.Address).Msg("Backend: Redis unreachable")
		return nil, fmt.Errorf("connect to redis at %s: %w", params.Address, err)
	}
	log.Info().Str("address", params.Address).Int("db", params.DB).Msg("Backend: Redis connected")
	return client, nil
}

// InitMemcacheClient creates a client over every server in params and pings them.
func InitMemcacheClient(params *config.MemcacheBackendConfig) (*memcache.Client, error) {
	if params == nil || len(params.Addresses) == 0 {
		return nil, fmt.Errorf("memcache backend selected but memcache_params.addresses is empty")
	}
	client := memcache.New(params.Addresses...)
	client.Timeout = connectTimeout
	if err := client.Ping(); err != nil {
		client.Close()
		log.Error().Err(err).Strs("addresses", params.Addresses).Msg("Backend: Memcache unreachable")
		return nil, fmt.Errorf("connect to memcache at %v: %w", params.Addresses, err)
	}
	log.Info().Strs("addresses", params.Addresses).Msg("Backend: Memcache connected")
	return client, nil
}
