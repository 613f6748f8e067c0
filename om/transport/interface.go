package transport

import (
	"context"
	"net"
	"time"

	"github.com/ValentinKolb/dObj/lib/workerpool"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Inbound connections
// --------------------------------------------------------------------------

// ConnectionHandler owns one accepted connection and processes its message stream.
// Serve blocks until the peer disconnects, a protocol error occurs or ctx is done,
// and closes the connection before returning.
type ConnectionHandler interface {
	// ID returns the identity of the handler, unique per accepted connection
	ID() uuid.UUID
	// Serve runs the read loop of the handler
	Serve(ctx context.Context)
}

// ConnectionFactory builds a handler for an accepted connection bound to the shared worker pool.
// Handlers are assumed to initialize successfully.
type ConnectionFactory interface {
	NewConnection(conn net.Conn, pool *workerpool.Pool) ConnectionHandler
}

// ConnectionFactoryFunc adapts a function to the ConnectionFactory interface
type ConnectionFactoryFunc func(conn net.Conn, pool *workerpool.Pool) ConnectionHandler

func (f ConnectionFactoryFunc) NewConnection(conn net.Conn, pool *workerpool.Pool) ConnectionHandler {
	return f(conn, pool)
}

// --------------------------------------------------------------------------
// Connectors (transport medium specific operations)
// --------------------------------------------------------------------------

// IServerConnector defines the interface for transport-specific listen operations
type IServerConnector interface {
	// Listen creates a listener on the given endpoint
	Listen(endpoint string) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// IClientConnector defines the interface for transport-specific dial operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint (0 timeout = no timeout)
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConf) error

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}
