package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(``))
	require.NoError(t, err)
	require.Equal(t, 64, cfg.MaxConcurrency)
	require.Equal(t, 30*time.Second, cfg.DefaultStepTimeout)
	require.Equal(t, "memory", cfg.Store.Driver)
	require.Equal(t, "memory", cfg.Dispatch.Driver)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
max_concurrency: 8
store:
  driver: postgres
  dsn: "postgres://localhost/saga"
dispatch:
  driver: nats
  brokers: ["nats://localhost:4222"]
`))
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxConcurrency)
	require.Equal(t, "postgres", cfg.Store.Driver)
	require.Equal(t, "nats", cfg.Dispatch.Driver)
	require.Equal(t, []string{"nats://localhost:4222"}, cfg.Dispatch.Brokers)
}
