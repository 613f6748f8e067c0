package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWritePrometheus(t *testing.T) {
	ConnectionAccepted()
	before := ActiveHandlers()
	ConnectionAccepted()
	assert.Equal(t, before+1, ActiveHandlers())
	HandlerClosed()
	HandlerClosed()

	AcceptError()
	PeerConnected()
	ObjectSent(128, time.Now().Add(-time.Millisecond))
	ObjectReceived(64)
	PeerClosed()

	var buf bytes.Buffer
	WritePrometheus(&buf)
	out := buf.String()

	for _, name := range []string{
		"om_acceptor_accepted_total",
		"om_acceptor_accept_errors_total",
		"om_peer_bytes_sent_total",
		"om_objects_received_total",
		"om_active_handlers",
		"om_open_peer_connections",
		"om_peer_transfer_duration_seconds_bucket",
	} {
		assert.Contains(t, out, name)
	}

	// logs one line, must not panic on populated meters
	Report()
}
