package factory_test

import (
	"testing"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-redis/redismock/v8"

	"learn.admission/config"
	"learn.admission/internal/factory"
	"learn.admission/types"
)

func TestNewWindowLog(t *testing.T) {
	redisClient, _ := redismock.NewClientMock()
	memcacheClient := memcache.New("localhost:11211")

	tests := []struct {
		name    string
		backend config.BackendType
		clients types.BackendClients
		wantErr bool
	}{
		{"InMemory", config.InMemory, types.BackendClients{}, false},
		{"DefaultBackend", "", types.BackendClients{}, false},
		{"Redis", config.Redis, types.BackendClients{RedisClient: redisClient}, false},
		{"RedisWithoutClient", config.Redis, types.BackendClients{}, true},
		{"Memcache", config.Memcache, types.BackendClients{MemcacheClient: memcacheClient}, false},
		{"MemcacheWithoutClient", config.Memcache, types.BackendClients{}, true},
		{"Unknown", "etcd", types.BackendClients{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultControllerConfig("factory_" + tt.name)
			cfg.Backend = tt.backend
			w, err := factory.NewWindowLog(cfg, tt.clients)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewWindowLog failed: %v", err)
			}
			if w == nil {
				t.Fatal("NewWindowLog returned nil")
			}
		})
	}
}
