package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsAndRequiresSecrets(t *testing.T) {
	t.Setenv("DURABLE_STORE_URL", "postgres://localhost/test")
	t.Setenv("AUTH_SECRET", "shh")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3002, cfg.Port)
	require.Equal(t, "todo.updates", cfg.PubSubChannel)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_FailsWithoutRequiredSecrets(t *testing.T) {
	t.Setenv("DURABLE_STORE_URL", "")
	t.Setenv("AUTH_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}
