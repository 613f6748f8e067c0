package client

import (
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/transport/base"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeWriter(t *testing.T, config writerConfig) (*peerWriter, net.Conn, chan *peerWriter) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})
	exited := make(chan *peerWriter, 1)
	sender := base.NewSenderConnection(local, common.ClientIDFromName("peer"), "pipe")
	return newPeerWriter(sender, config, func(w *peerWriter) { exited <- w }), remote, exited
}

func request(data string) base.SendRequest {
	return base.SendRequest{
		ObjectID:   common.ObjectIDFromData([]byte(data)),
		ClientID:   common.ClientIDFromName("peer"),
		ObjectSize: int64(len(data)),
		Data:       []byte(data),
	}
}

// readPush reads one push frame from the remote end of the pipe
func readPush(t *testing.T, conn net.Conn) (common.PushHeader, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	h, err := common.ReadHeader(conn, nil)
	require.NoError(t, err)
	require.Equal(t, common.MsgTPush, h.Type)
	body, err := common.ReadBody(conn, h, nil)
	require.NoError(t, err)
	ph, payload, err := common.DecodePushBody(body)
	require.NoError(t, err)
	return ph, payload
}

func TestWriterAcceptJoinsDuplicates(t *testing.T) {
	w, _, _ := newPipeWriter(t, writerConfig{})

	first := newPushCmd(request("a"))
	dup := newPushCmd(request("a"))
	other := newPushCmd(request("b"))

	w.accept(first)
	w.accept(dup)
	w.accept(other)

	assert.Equal(t, 2, w.sender.QueueDepth(), "duplicate must not be queued twice")
	assert.Len(t, w.waiters[first.request.ObjectID], 2)
	assert.Len(t, w.waiters[other.request.ObjectID], 1)
}

func TestWriterAcceptQueueFull(t *testing.T) {
	w, _, _ := newPipeWriter(t, writerConfig{maxQueueDepth: 2})

	w.accept(newPushCmd(request("a")))
	w.accept(newPushCmd(request("b")))

	full := newPushCmd(request("c"))
	w.accept(full)
	assert.True(t, errors.Is(<-full.result, common.ErrQueueFull))
	assert.Equal(t, 2, w.sender.QueueDepth())

	// joining a queued object still works on a full queue
	dup := newPushCmd(request("a"))
	w.accept(dup)
	assert.Len(t, w.waiters[dup.request.ObjectID], 2)
}

func TestWriterTransferInOrder(t *testing.T) {
	self := common.ClientIDFromName("self")
	w, remote, _ := newPipeWriter(t, writerConfig{self: self, transferTimeout: time.Second})

	cmds := []*pushCmd{newPushCmd(request("one")), newPushCmd(request("two")), newPushCmd(request("three"))}
	dup := newPushCmd(request("two"))
	for _, cmd := range cmds {
		w.accept(cmd)
	}
	w.accept(dup)

	errCh := make(chan error, 1)
	go func() {
		for !w.sender.IsObjectIDQueueEmpty() {
			if err := w.transferNext(); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()

	for _, cmd := range cmds {
		ph, payload := readPush(t, remote)
		assert.Equal(t, cmd.request.ObjectID, ph.ObjectID)
		assert.Equal(t, self, ph.Sender)
		assert.Equal(t, cmd.request.Data, payload)
	}
	require.NoError(t, <-errCh)

	for _, cmd := range append(cmds, dup) {
		assert.NoError(t, <-cmd.result)
	}
	assert.Empty(t, w.waiters)
	assert.Equal(t, 0, w.sender.PendingRequests())
}

func TestWriterTransferTimeoutFailsPending(t *testing.T) {
	w, _, exited := newPipeWriter(t, writerConfig{transferTimeout: 20 * time.Millisecond})
	go w.run()

	// nobody reads the pipe: the first transfer times out
	first := newPushCmd(request("first"))
	second := newPushCmd(request("second"))
	require.True(t, w.submit(first))
	require.True(t, w.submit(second))

	err := <-first.result
	require.Error(t, err)
	var netErr net.Error
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout())

	assert.Error(t, <-second.result)

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not exit")
	}
	assert.Same(t, w, <-exited)
	assert.False(t, w.submit(newPushCmd(request("late"))))
	assert.Equal(t, 0, w.sender.PendingRequests())
}

func TestWriterIdleTimeout(t *testing.T) {
	w, remote, exited := newPipeWriter(t, writerConfig{idleTimeout: 30 * time.Millisecond})
	go w.run()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle writer did not exit")
	}
	<-exited

	// the connection was closed
	require.NoError(t, remote.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := remote.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestWriterStop(t *testing.T) {
	w, _, _ := newPipeWriter(t, writerConfig{})
	go w.run()

	w.stop()
	w.stop()
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop")
	}
}
