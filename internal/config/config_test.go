package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:21212", cfg.ListenAddr)
	require.Equal(t, 1000, cfg.PlanCacheCapacity)
}

func TestFlagOverridesWinOverDefaults(t *testing.T) {
	cfg, err := Load("", map[string]any{"listen_addr": "0.0.0.0:9999"})
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9999", cfg.ListenAddr)
}
