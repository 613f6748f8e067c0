package serve

import (
	"testing"

	"github.com/ValentinKolb/dObj/om/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseServeFlags(t *testing.T, args ...string) error {
	t.Helper()
	viper.Reset()
	require.NoError(t, ServeCmd.ParseFlags(args))
	return processConfig(ServeCmd, []string{"/tmp/dobj-test.sock"})
}

func TestProcessConfig(t *testing.T) {
	err := parseServeFlags(t,
		"--node-name", "node-1",
		"--peer-listen", "127.0.0.1:7000",
		"--peers", "node-2=10.0.0.2:7000,node-3=10.0.0.3:7000",
		"--workers", "3",
		"--idle-timeout", "60",
		"--transport-write-buffer", "4",
		"--log-level", "debug",
	)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/dobj-test.sock", serveCmdConfig.SocketPath)
	assert.Equal(t, common.ClientIDFromName("node-1"), serveCmdConfig.NodeID)
	assert.Equal(t, "127.0.0.1:7000", serveCmdConfig.PeerListen)
	assert.Len(t, serveCmdConfig.Peers, 2)
	assert.Equal(t, 3, serveCmdConfig.Workers)
	assert.Equal(t, int64(60), serveCmdConfig.IdleTimeoutSecond)
	assert.Equal(t, 4096, serveCmdConfig.Transport.WriteBufferSize)
	assert.Equal(t, "debug", serveCmdConfig.LogLevel)
}

func TestProcessConfigRejects(t *testing.T) {
	assert.Error(t, parseServeFlags(t, "--node-name", "node-1", "--peers", "node-1=10.0.0.1:7000"), "self as peer")
	assert.Error(t, parseServeFlags(t, "--node-name", "node-1", "--peers", "broken"), "malformed peers")
	assert.Error(t, parseServeFlags(t, "--peers", "", "--log-level", "verbose"), "log level")
	assert.Error(t, parseServeFlags(t, "--log-level", "info", "--workers", "0"), "workers")
}
