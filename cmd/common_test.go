package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetman.io/fleetman/internal/cluster"
)

func TestSetFlagsFromEnv(t *testing.T) {
	var cfg cluster.ClusterStoreConnInfo
	var logLevel string
	c := &cobra.Command{Use: "test"}
	AddCommonFlags(c, &cfg, &logLevel)

	t.Setenv("FLEETCTL_CLUSTER_NAME", "from-env")
	t.Setenv("FLEETCTL_LOG_LEVEL", "debug")
	t.Setenv("FLEETCTL_STORE_ENDPOINTS", "http://etcd:2379")
	require.NoError(t, c.PersistentFlags().Parse([]string{"--log-level", "warn"}))

	require.NoError(t, SetFlagsFromEnv(c.PersistentFlags(), "fleetctl"))
	assert.Equal(t, "from-env", cfg.ClusterName)
	assert.Equal(t, "http://etcd:2379", cfg.StoreConnInfo.Endpoints)
	// command line wins
	assert.Equal(t, "warn", logLevel)
	assert.NoError(t, CheckConfig(&cfg))
}

func TestCheckConfig(t *testing.T) {
	assert.EqualError(t, CheckConfig(&cluster.ClusterStoreConnInfo{}), "cluster name required")
}
