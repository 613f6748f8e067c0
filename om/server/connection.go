package server

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dObj/lib/store"
	"github.com/ValentinKolb/dObj/lib/workerpool"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/metrics"
	"github.com/ValentinKolb/dObj/om/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("om/server")

// ObjectPusher sends a stored object to another node (implemented by client.PeerManager)
type ObjectPusher interface {
	Push(ctx context.Context, dest common.ClientID, objectID common.ObjectID, data []byte) error
}

// Role decides which messages a connection accepts
type Role int

const (
	// RoleLocal connections come from workers on the local socket: Register, Put, Transfer
	RoleLocal Role = iota
	// RolePeer connections come from other nodes: Push
	RolePeer
)

func (r Role) String() string {
	if r == RolePeer {
		return "peer"
	}
	return "local"
}

// ConnectionFactory builds a ClientConnection for every accepted connection
type ConnectionFactory struct {
	Role        Role
	Store       store.IObjectStore
	Peers       ObjectPusher
	IdleTimeout time.Duration
}

// NewConnection implements transport.ConnectionFactory
func (f *ConnectionFactory) NewConnection(conn net.Conn, pool *workerpool.Pool) transport.ConnectionHandler {
	return &ClientConnection{
		id:      uuid.New(),
		conn:    conn,
		pool:    pool,
		factory: f,
		header:  make([]byte, common.HeaderSize),
	}
}

// ClientConnection serves one accepted connection. It reads frames in a loop and offloads the
// work of every request to the shared worker pool, so the next frame is read while the store or
// a peer transfer is busy. Responses are written under a mutex and may be sent out of request
// order, every status carries the object id it answers.
type ClientConnection struct {
	id      uuid.UUID
	conn    net.Conn
	pool    *workerpool.Pool
	factory *ConnectionFactory
	header  []byte

	// worker is set by a Register message
	worker common.ClientID

	writeMu sync.Mutex
	tasks   sync.WaitGroup
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ConnectionHandler)
// --------------------------------------------------------------------------

func (c *ClientConnection) ID() uuid.UUID {
	return c.id
}

func (c *ClientConnection) Serve(ctx context.Context) {
	defer c.conn.Close()

	// closing the connection unblocks the read loop on shutdown
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	role := c.factory.Role
	Logger.Debugf("Serving %s connection %s from %s", role, c.id, c.conn.RemoteAddr())

	for {
		err := c.handleFrame(ctx)
		if err == nil {
			continue
		}

		var netErr net.Error
		switch {
		case errors.Is(err, errDisconnect):
			Logger.Debugf("Connection %s disconnected", c.id)
		case errors.Is(err, io.EOF):
			Logger.Debugf("Connection %s closed by client", c.id)
		case ctx.Err() != nil:
			Logger.Debugf("Connection %s closed on shutdown", c.id)
		case errors.As(err, &netErr) && netErr.Timeout():
			Logger.Infof("Closing idle %s connection %s", role, c.id)
		case errors.Is(err, common.ErrProtocol):
			metrics.ProtocolError()
			Logger.Warningf("Protocol error on %s connection %s: %v", role, c.id, err)
		default:
			Logger.Errorf("Error handling %s connection %s: %v", role, c.id, err)
		}
		break
	}

	// let offloaded requests finish before the connection is closed
	c.tasks.Wait()
}

// --------------------------------------------------------------------------
// Request handling
// --------------------------------------------------------------------------

var errDisconnect = errors.New("disconnect")

// handleFrame reads one frame and dispatches it
func (c *ClientConnection) handleFrame(ctx context.Context) error {
	if timeout := c.factory.IdleTimeout; timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return errors.Wrap(err, "failed to set read deadline")
		}
	}

	h, err := common.ReadHeader(c.conn, c.header)
	if err != nil {
		return err
	}

	// payloads are handed to the store, every body gets its own buffer
	body, err := common.ReadBody(c.conn, h, nil)
	if err != nil {
		return err
	}

	switch c.factory.Role {
	case RoleLocal:
		return c.handleLocal(ctx, h, body)
	default:
		return c.handlePeer(ctx, h, body)
	}
}

func (c *ClientConnection) handleLocal(ctx context.Context, h common.Header, body []byte) error {
	switch h.Type {
	case common.MsgTRegister:
		if len(body) != common.IDSize {
			return errors.Wrapf(common.ErrProtocol, "register body of %d bytes", len(body))
		}
		copy(c.worker[:], body)
		Logger.Infof("Worker %s registered on connection %s", c.worker, c.id)
		return nil

	case common.MsgTPut:
		if len(body) < common.IDSize {
			return errors.Wrapf(common.ErrProtocol, "put body of %d bytes", len(body))
		}
		objectID, _ := common.ObjectIDFromBytes(body[:common.IDSize])
		data := body[common.IDSize:]
		return c.offload(ctx, objectID, true, func() error {
			return c.store(objectID, data)
		})

	case common.MsgTTransfer:
		if len(body) != 2*common.IDSize {
			return errors.Wrapf(common.ErrProtocol, "transfer body of %d bytes", len(body))
		}
		objectID, _ := common.ObjectIDFromBytes(body[:common.IDSize])
		dest, _ := common.ClientIDFromBytes(body[common.IDSize:])
		return c.offload(ctx, objectID, true, func() error {
			return c.transfer(ctx, objectID, dest)
		})

	case common.MsgTDisconnect:
		return errDisconnect

	default:
		return errors.Wrapf(common.ErrProtocol, "unexpected %s message on local connection", h.Type)
	}
}

func (c *ClientConnection) handlePeer(ctx context.Context, h common.Header, body []byte) error {
	switch h.Type {
	case common.MsgTPush:
		ph, data, err := common.DecodePushBody(body)
		if err != nil {
			return err
		}
		// pushes are not acknowledged
		return c.offload(ctx, ph.ObjectID, false, func() error {
			if err := c.store(ph.ObjectID, data); err != nil {
				Logger.Errorf("Failed to store object %s pushed by %s: %v", ph.ObjectID, ph.Sender, err)
				return err
			}
			Logger.Debugf("Received object %s (%d bytes) from %s", ph.ObjectID, ph.Size, ph.Sender)
			return nil
		})

	case common.MsgTDisconnect:
		return errDisconnect

	default:
		return errors.Wrapf(common.ErrProtocol, "unexpected %s message on peer connection", h.Type)
	}
}

// offload runs fn on the worker pool. With reply set the result is sent back as status.
// A request that cannot be scheduled is answered right away and ends the connection.
func (c *ClientConnection) offload(ctx context.Context, objectID common.ObjectID, reply bool, fn func() error) error {
	c.tasks.Add(1)
	err := c.pool.Submit(ctx, func() {
		defer c.tasks.Done()
		err := fn()
		if reply {
			c.reply(common.StatusFromError(objectID, err))
		}
	})
	if err != nil {
		c.tasks.Done()
		if reply {
			c.reply(common.StatusFromError(objectID, err))
		}
		return errors.Wrap(err, "failed to schedule request")
	}
	return nil
}

func (c *ClientConnection) store(objectID common.ObjectID, data []byte) error {
	if err := c.factory.Store.Put(objectID, data); err != nil {
		return errors.Wrapf(err, "failed to store object %s", objectID)
	}
	metrics.ObjectReceived(int64(len(data)))
	return nil
}

func (c *ClientConnection) transfer(ctx context.Context, objectID common.ObjectID, dest common.ClientID) error {
	data, ok := c.factory.Store.Get(objectID)
	if !ok {
		return errors.Wrapf(common.ErrObjectNotFound, "object %s", objectID)
	}
	if c.factory.Peers == nil {
		return errors.Wrapf(common.ErrUnknownPeer, "no peers configured, cannot reach %s", dest)
	}
	return c.factory.Peers.Push(ctx, dest, objectID, data)
}

// reply writes a status frame, concurrent replies are serialized
func (c *ClientConnection) reply(status common.Status) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout := c.factory.IdleTimeout; timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			Logger.Errorf("Failed to set write deadline: %v", err)
			return
		}
	}
	if err := common.WriteFrame(c.conn, common.MsgTStatus, status.Encode()); err != nil {
		Logger.Warningf("Failed to send status for object %s on connection %s: %v", status.ObjectID, c.id, err)
	}
}
