package unix

import (
	"net"
	"os"

	"github.com/ValentinKolb/dObj/om/transport"
	"github.com/pkg/errors"
)

// serverConnector implements the IServerConnector interface for Unix sockets
type serverConnector struct{}

// NewServerConnector returns the unix socket listen connector
func NewServerConnector() transport.IServerConnector {
	return &serverConnector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "unix"
}

func (c *serverConnector) Listen(socketPath string) (net.Listener, error) {
	// A socket file left behind by a crashed node would make the bind fail
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, errors.Wrapf(err, "failed to remove existing socket %s", socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Unix socket %s", socketPath)
	}

	return listener, nil
}
