package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dObj/lib/store/memstore"
	"github.com/ValentinKolb/dObj/om/client"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runningNode struct {
	server *NodeServer
	cancel context.CancelFunc
	done   chan error
}

func startNode(t *testing.T, name string, peerListen string, peers map[string]string) *runningNode {
	t.Helper()

	config := common.DefaultServerConfig(filepath.Join(t.TempDir(), name+".sock"))
	config.NodeName = name
	config.NodeID = common.ClientIDFromName(name)
	config.PeerListen = peerListen
	config.Peers = peers
	config.Workers = 4
	config.ConnectTimeoutSecond = 1
	config.TransferTimeoutSecond = 2

	s, err := NewNodeServer(config, memstore.NewMemStore(), DefaultConnectors())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	n := &runningNode{server: s, cancel: cancel, done: make(chan error, 1)}
	go func() { n.done <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-n.done:
		case <-time.After(2 * time.Second):
			t.Errorf("node %s did not stop", name)
		}
	})
	return n
}

func dial(t *testing.T, n *runningNode, worker string) *client.LocalClient {
	t.Helper()
	c, err := client.DialLocal(common.ClientConfig{
		SocketPath:    n.server.LocalAddr().String(),
		WorkerName:    worker,
		TimeoutSecond: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNodeServerTransfer(t *testing.T) {
	receiver := startNode(t, "node-2", "127.0.0.1:0", nil)
	sender := startNode(t, "node-1", "", map[string]string{
		"node-2": receiver.server.PeerAddr().String(),
	})
	assert.Nil(t, sender.server.PeerAddr())

	worker := dial(t, sender, "worker-1")

	data := []byte("a payload travelling between nodes")
	id := common.ObjectIDFromData(data)
	require.NoError(t, worker.Put(id, data))
	require.NoError(t, worker.Transfer(id, common.ClientIDFromName("node-2")))

	require.Eventually(t, func() bool { return receiver.server.Store().Has(id) }, 2*time.Second, 5*time.Millisecond)
	got, _ := receiver.server.Store().Get(id)
	assert.Equal(t, data, got)
	assert.True(t, sender.server.Peers().Connected(common.ClientIDFromName("node-2")))
}

func TestNodeServerTransferErrors(t *testing.T) {
	n := startNode(t, "node-1", "", map[string]string{})
	worker := dial(t, n, "worker-1")

	missing := common.NewObjectID()
	err := worker.Transfer(missing, common.ClientIDFromName("node-2"))
	assert.True(t, errors.Is(err, common.ErrObjectNotFound))

	id := common.NewObjectID()
	require.NoError(t, worker.Put(id, []byte("x")))
	err = worker.Transfer(id, common.ClientIDFromName("node-2"))
	assert.True(t, errors.Is(err, common.ErrUnknownPeer))
}

func TestNodeServerManyWorkers(t *testing.T) {
	n := startNode(t, "node-1", "", nil)

	const workers = 5
	clients := make([]*client.LocalClient, workers)
	for i := range clients {
		clients[i] = dial(t, n, "")
	}

	for i, c := range clients {
		data := []byte{byte(i)}
		require.NoError(t, c.Put(common.ObjectIDFromData(data), data))
	}
	assert.Equal(t, workers, n.server.Store().Len())
}

func TestNodeServerStopsOnCancel(t *testing.T) {
	n := startNode(t, "node-1", "127.0.0.1:0", nil)
	worker := dial(t, n, "worker-1")

	n.cancel()
	select {
	case err := <-n.done:
		assert.NoError(t, err)
		n.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	err := worker.Put(common.NewObjectID(), []byte("late"))
	assert.Error(t, err)
}
