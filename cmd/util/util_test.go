package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/dObj/om/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("short   text"))
}

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers("node-2=10.0.0.2:7000, node-3=10.0.0.3:7000,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"node-2": "10.0.0.2:7000", "node-3": "10.0.0.3:7000"}, peers)

	peers, err = ParsePeers("")
	require.NoError(t, err)
	assert.Empty(t, peers)

	for _, invalid := range []string{"node-2", "=10.0.0.2:7000", "node-2=", "a=1:1,a=2:2"} {
		_, err := ParsePeers(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestParseClientID(t *testing.T) {
	id := common.NewClientID()
	assert.Equal(t, id, ParseClientID(id.Hex()))
	assert.Equal(t, common.ClientIDFromName("node-2"), ParseClientID("node-2"))
}
