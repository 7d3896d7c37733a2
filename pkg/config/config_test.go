package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 12310, cfg.Port)
	assert.Equal(t, PoolTypeLocal, cfg.PoolType)
	assert.Equal(t, 8192, cfg.MaxPoolSize)
	assert.Equal(t, 7200, cfg.MaxExpireTime)
	assert.Equal(t, 1800, cfg.MaxTimeoutSeconds)
	assert.Equal(t, 32, cfg.NumWorkers)
	assert.False(t, cfg.LocalMode)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
host: agents.internal
port: 9000
server_id: srv-1
pool_type: redis
redis_url: redis://cache:6379/2
max_pool_size: 128
max_expire_time: 60
max_timeout_seconds: 30
num_workers: 4
local_mode: true
metrics:
  enabled: true
  port: 9191
rate_limit:
  requests_per_second: 50
  burst: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "agents.internal", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "srv-1", cfg.ServerID)
	assert.Equal(t, PoolTypeRedis, cfg.PoolType)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, 128, cfg.MaxPoolSize)
	assert.Equal(t, 60, cfg.MaxExpireTime)
	assert.Equal(t, 30, cfg.MaxTimeoutSeconds)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.True(t, cfg.LocalMode)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, 50.0, cfg.RateLimit.RequestsPerSecond)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "host: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad pool type",
			mutate:  func(c *Config) { c.PoolType = "memcached" },
			wantErr: "pool_type",
		},
		{
			name: "redis without url",
			mutate: func(c *Config) {
				c.PoolType = PoolTypeRedis
				c.RedisURL = ""
			},
			wantErr: "redis_url",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.NumWorkers = 0 },
			wantErr: "num_workers",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBindAddr(t *testing.T) {
	cfg := Default()
	cfg.Port = 8000

	assert.Equal(t, "0.0.0.0:8000", cfg.BindAddr())

	cfg.LocalMode = true
	assert.Equal(t, "127.0.0.1:8000", cfg.BindAddr())
}
