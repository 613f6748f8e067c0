package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/metrics"
	"github.com/ValentinKolb/dObj/om/transport"
	"github.com/ValentinKolb/dObj/om/transport/base"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("om/client")

// --------------------------------------------------------------------------
// Peer directory
// --------------------------------------------------------------------------

// PeerDirectory resolves the client id of a node to the host:port of its peer listener
type PeerDirectory interface {
	Lookup(peer common.ClientID) (endpoint string, ok bool)
}

// StaticDirectory is a PeerDirectory backed by a fixed table
type StaticDirectory map[common.ClientID]string

func (d StaticDirectory) Lookup(peer common.ClientID) (string, bool) {
	endpoint, ok := d[peer]
	return endpoint, ok
}

// --------------------------------------------------------------------------
// Peer manager
// --------------------------------------------------------------------------

// Config configures a PeerManager
type Config struct {
	// Self is written as sender into every pushed object
	Self common.ClientID

	Transport common.TransportConf

	// ConnectTimeout bounds the single connect attempt per writer (0 = OS default)
	ConnectTimeout time.Duration
	// IdleTimeout closes a connection with an empty queue (0 = never)
	IdleTimeout time.Duration
	// TransferTimeout bounds the transfer of one object (0 = no deadline)
	TransferTimeout time.Duration
	// MaxQueueDepth bounds the pending sends per peer (0 = unbounded)
	MaxQueueDepth int
}

// ConfigFromServer derives the peer manager settings from the node configuration
func ConfigFromServer(c *common.ServerConfig) Config {
	return Config{
		Self:            c.NodeID,
		Transport:       c.Transport,
		ConnectTimeout:  c.ConnectTimeout(),
		IdleTimeout:     c.IdleTimeout(),
		TransferTimeout: c.TransferTimeout(),
		MaxQueueDepth:   c.MaxQueueDepth,
	}
}

// PeerManager keeps at most one outbound connection per peer node. Every connection is owned
// by a writer goroutine that sends the objects pushed to that peer one after another in push
// order.
//
// Thread safety:
//
//	All methods are safe for concurrent use.
type PeerManager struct {
	config    Config
	connector transport.IClientConnector
	directory PeerDirectory

	writers *xsync.MapOf[common.ClientID, *peerSlot]
	closed  atomic.Bool
}

// NewPeerManager creates a manager that dials peers with the given connector
func NewPeerManager(config Config, connector transport.IClientConnector, directory PeerDirectory) *PeerManager {
	return &PeerManager{
		config:    config,
		connector: connector,
		directory: directory,
		writers:   xsync.NewMapOf[common.ClientID, *peerSlot](),
	}
}

// Push sends an object to the destination node and waits until it was written to the
// connection, the transfer failed or ctx is done. data is borrowed until Push returns
// or, if ctx ended first, until the queued transfer completed.
//
// Returns:
//   - common.ErrUnknownPeer if the directory has no endpoint for dest
//   - *common.ConnectionError if the connection could not be established (no retry)
//   - common.ErrQueueFull if the peer already has MaxQueueDepth pending sends
//   - common.ErrConnectionClosed if the connection was torn down before the transfer
//   - the transfer error (e.g. a write timeout) otherwise
func (m *PeerManager) Push(ctx context.Context, dest common.ClientID, objectID common.ObjectID, data []byte) error {
	cmd := newPushCmd(base.SendRequest{
		ObjectID:   objectID,
		ClientID:   dest,
		ObjectSize: int64(len(data)),
		Data:       data,
	})

	// a writer may shut down (idle) between lookup and submit, in that case retry once
	// with a fresh connection
	var w *peerWriter
	for attempt := 0; attempt < 2; attempt++ {
		var err error
		if w, err = m.writer(ctx, dest); err != nil {
			return err
		}
		if w.submit(cmd) {
			break
		}
		w = nil
	}
	if w == nil {
		return errors.Wrapf(common.ErrConnectionClosed, "peer %s", dest)
	}

	select {
	case err := <-cmd.result:
		return err
	case <-w.done:
		// the writer drained its mailbox before closing done
		select {
		case err := <-cmd.result:
			return err
		default:
			return errors.Wrapf(common.ErrConnectionClosed, "peer %s", dest)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// peerSlot is the table entry of a peer. ready is closed once the single connect attempt
// finished, after that writer or err is set and never changes.
type peerSlot struct {
	ready  chan struct{}
	writer *peerWriter
	err    error
}

// connected returns the writer if the connect attempt already succeeded
func (s *peerSlot) connected() (*peerWriter, bool) {
	select {
	case <-s.ready:
		return s.writer, s.writer != nil
	default:
		return nil, false
	}
}

// writer returns the writer of the peer, connecting if there is none. The table only holds
// a placeholder while dialing, so a slow peer never delays pushes to other peers.
func (m *PeerManager) writer(ctx context.Context, dest common.ClientID) (*peerWriter, error) {
	if m.closed.Load() {
		return nil, errors.Wrap(common.ErrConnectionClosed, "peer manager closed")
	}

	slot, ok := m.writers.Load(dest)
	if !ok {
		endpoint, found := m.directory.Lookup(dest)
		if !found {
			return nil, errors.Wrapf(common.ErrUnknownPeer, "no endpoint for %s", dest)
		}

		created := false
		slot, _ = m.writers.Compute(dest, func(old *peerSlot, loaded bool) (*peerSlot, bool) {
			if loaded {
				return old, false
			}
			created = true
			return &peerSlot{ready: make(chan struct{})}, false
		})
		if created {
			m.connect(slot, dest, endpoint)
		}
	}

	// pushes racing the first one share its connect attempt
	select {
	case <-slot.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if slot.err != nil {
		return nil, slot.err
	}

	// Close may have run while the connection was set up
	if m.closed.Load() {
		slot.writer.stop()
		return nil, errors.Wrap(common.ErrConnectionClosed, "peer manager closed")
	}
	return slot.writer, nil
}

// connect dials the peer outside of the table lock and publishes the result in slot
func (m *PeerManager) connect(slot *peerSlot, dest common.ClientID, endpoint string) {
	defer close(slot.ready)

	sender, err := base.ConnectSenderEndpoint(m.connector, dest, endpoint, m.config.Transport, m.config.ConnectTimeout)
	if err != nil {
		metrics.PeerConnectFailed()
		Logger.Warningf("Failed to connect to peer %s: %v", dest, err)
		slot.err = err
		m.remove(dest, slot)
		return
	}
	slot.writer = m.startWriter(sender, slot)
}

func (m *PeerManager) startWriter(sender *base.SenderConnection, slot *peerSlot) *peerWriter {
	metrics.PeerConnected()
	Logger.Infof("Opened connection to peer %s at %s", sender.Peer(), sender.Endpoint())

	peer := sender.Peer()
	w := newPeerWriter(sender, writerConfig{
		self:            m.config.Self,
		maxQueueDepth:   m.config.MaxQueueDepth,
		idleTimeout:     m.config.IdleTimeout,
		transferTimeout: m.config.TransferTimeout,
	}, func(*peerWriter) { m.remove(peer, slot) })
	go w.run()
	return w
}

// remove drops the slot from the table unless it was already replaced
func (m *PeerManager) remove(peer common.ClientID, slot *peerSlot) {
	m.writers.Compute(peer, func(old *peerSlot, loaded bool) (*peerSlot, bool) {
		if loaded && old != slot {
			return old, false
		}
		return nil, true
	})
}

// Connected reports whether there is an open connection to the peer
func (m *PeerManager) Connected(peer common.ClientID) bool {
	slot, ok := m.writers.Load(peer)
	if !ok {
		return false
	}
	_, ok = slot.connected()
	return ok
}

// Peers returns the number of open peer connections
func (m *PeerManager) Peers() int {
	n := 0
	m.writers.Range(func(_ common.ClientID, slot *peerSlot) bool {
		if _, ok := slot.connected(); ok {
			n++
		}
		return true
	})
	return n
}

// Close tears down all peer connections. Pending pushes fail with common.ErrConnectionClosed.
func (m *PeerManager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	var writers []*peerWriter
	m.writers.Range(func(_ common.ClientID, slot *peerSlot) bool {
		// writers still connecting are stopped by their creator
		if w, ok := slot.connected(); ok {
			writers = append(writers, w)
		}
		return true
	})

	var wg sync.WaitGroup
	for _, w := range writers {
		wg.Add(1)
		go func(w *peerWriter) {
			defer wg.Done()
			w.stop()
			<-w.done
		}(w)
	}
	wg.Wait()

	Logger.Infof("Closed %d peer connections", len(writers))
	return nil
}
