package client

import (
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/transport"
	"github.com/ValentinKolb/dObj/om/transport/unix"
	"github.com/pkg/errors"
)

// LocalClient is the worker side of the local socket. It registers the worker with the node
// and issues Put and Transfer requests, each answered by one status frame.
//
// Thread safety:
//
//	Requests are serialized, a LocalClient can be shared between goroutines.
type LocalClient struct {
	config common.ClientConfig
	id     common.ClientID
	conn   net.Conn
	mu     sync.Mutex
	header []byte
	closed bool
}

// DialLocal connects to the node's local socket and registers the worker
func DialLocal(config common.ClientConfig) (*LocalClient, error) {
	return DialLocalWith(unix.NewClientConnector(), config)
}

// DialLocalWith is DialLocal with an explicit connector
func DialLocalWith(connector transport.IClientConnector, config common.ClientConfig) (*LocalClient, error) {
	conn, err := connector.Connect(config.SocketPath, config.Timeout())
	if err != nil {
		return nil, &common.ConnectionError{Address: config.SocketPath, Err: err}
	}
	if err := connector.UpgradeConnection(conn, common.TransportConf{}); err != nil {
		_ = conn.Close()
		return nil, &common.ConnectionError{Address: config.SocketPath, Err: err}
	}

	id := common.NewClientID()
	if config.WorkerName != "" {
		id = common.ClientIDFromName(config.WorkerName)
	}

	c := &LocalClient{
		config: config,
		id:     id,
		conn:   conn,
		header: make([]byte, common.HeaderSize),
	}

	c.setDeadline()
	if err := common.WriteFrame(conn, common.MsgTRegister, id[:]); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to register worker")
	}

	Logger.Debugf("Registered worker %s on %s", id, config.SocketPath)
	return c, nil
}

// ID returns the client id the worker registered with
func (c *LocalClient) ID() common.ClientID {
	return c.id
}

// Put stores an object in the node's object store
func (c *LocalClient) Put(objectID common.ObjectID, data []byte) error {
	return c.request(common.MsgTPut, objectID, objectID[:], data)
}

// Transfer asks the node to push a stored object to the destination node.
// It returns once the object was written to the peer connection.
func (c *LocalClient) Transfer(objectID common.ObjectID, dest common.ClientID) error {
	return c.request(common.MsgTTransfer, objectID, objectID[:], dest[:])
}

func (c *LocalClient) request(msgType common.MessageType, objectID common.ObjectID, parts ...[]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return common.ErrConnectionClosed
	}

	c.setDeadline()
	if err := common.WriteFrame(c.conn, msgType, parts...); err != nil {
		return errors.Wrapf(err, "failed to send %s request", msgType)
	}

	h, err := common.ReadHeader(c.conn, c.header)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s response", msgType)
	}
	if h.Type != common.MsgTStatus {
		return errors.Wrapf(common.ErrProtocol, "expected status, got %s", h.Type)
	}
	body, err := common.ReadBody(c.conn, h, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s response", msgType)
	}
	status, err := common.DecodeStatus(body)
	if err != nil {
		return err
	}
	if status.ObjectID != objectID {
		return errors.Wrapf(common.ErrProtocol, "status for %s answers request for %s", status.ObjectID, objectID)
	}
	return status.Err()
}

func (c *LocalClient) setDeadline() {
	if timeout := c.config.Timeout(); timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(timeout))
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
}

// Close announces the disconnect and closes the connection
func (c *LocalClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.setDeadline()
	_ = common.WriteFrame(c.conn, common.MsgTDisconnect)
	return c.conn.Close()
}
