package server

import (
	"context"
	"net"

	"github.com/ValentinKolb/dObj/lib/store"
	"github.com/ValentinKolb/dObj/lib/workerpool"
	"github.com/ValentinKolb/dObj/om/client"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/transport"
	"github.com/ValentinKolb/dObj/om/transport/base"
	"github.com/ValentinKolb/dObj/om/transport/tcp"
	"github.com/ValentinKolb/dObj/om/transport/unix"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// NodeServer is the data plane of one node: workers attach to the local socket, other nodes
// push objects to the peer listener and objects leave the node through the peer manager.
type NodeServer struct {
	config common.ServerConfig
	store  store.IObjectStore
	pool   *workerpool.Pool
	peers  *client.PeerManager

	local *base.LocalAcceptor
	peer  *base.LocalAcceptor // nil if PeerListen is empty
}

// Connectors selects the transports of a node server
type Connectors struct {
	Local transport.IServerConnector
	Peer  transport.IServerConnector
	Dial  transport.IClientConnector
}

// DefaultConnectors uses a unix socket for workers and tcp between nodes
func DefaultConnectors() Connectors {
	return Connectors{
		Local: unix.NewServerConnector(),
		Peer:  tcp.NewServerConnector(),
		Dial:  tcp.NewClientConnector(),
	}
}

// NewNodeServer opens the listeners of the node. Nothing is accepted before Serve.
func NewNodeServer(config common.ServerConfig, objects store.IObjectStore, connectors Connectors) (*NodeServer, error) {
	s := &NodeServer{
		config: config,
		store:  objects,
		pool:   workerpool.New(config.Workers),
	}

	s.peers = client.NewPeerManager(
		client.ConfigFromServer(&config),
		connectors.Dial,
		client.StaticDirectory(config.PeerDirectory()),
	)

	acceptorConfig := base.AcceptorConfig{MaxConsecutiveErrors: config.MaxConsecutiveAcceptErrors}

	var err error
	acceptorConfig.Name = "local"
	s.local, err = base.Listen(connectors.Local, config.SocketPath, &ConnectionFactory{
		Role:        RoleLocal,
		Store:       objects,
		Peers:       s.peers,
		IdleTimeout: config.IdleTimeout(),
	}, s.pool, acceptorConfig)
	if err != nil {
		s.pool.Close()
		return nil, err
	}

	if config.PeerListen != "" {
		acceptorConfig.Name = "peer"
		s.peer, err = base.Listen(connectors.Peer, config.PeerListen, &ConnectionFactory{
			Role:        RolePeer,
			Store:       objects,
			IdleTimeout: config.IdleTimeout(),
		}, s.pool, acceptorConfig)
		if err != nil {
			_ = s.local.Close()
			s.pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// Serve accepts connections until ctx is done or one of the acceptors gave up.
// On return all handlers finished, peer connections are closed and the worker pool is drained.
func (s *NodeServer) Serve(ctx context.Context) error {
	Logger.Infof("Node %s (%s) serving", s.config.NodeName, s.config.NodeID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.Close()
		return s.local.Serve(gctx)
	})
	if s.peer != nil {
		g.Go(func() error {
			defer s.Close()
			return s.peer.Serve(gctx)
		})
	}

	err := g.Wait()

	_ = s.peers.Close()
	s.pool.Close()

	if err != nil {
		Logger.Errorf("Node %s stopped: %v", s.config.NodeName, err)
		return errors.Wrap(err, "node server stopped")
	}
	Logger.Infof("Node %s stopped", s.config.NodeName)
	return nil
}

// Close stops both acceptors and waits for their handlers, Serve returns afterwards.
// When one acceptor stops on its own the other one is closed the same way.
func (s *NodeServer) Close() error {
	err := s.local.Close()
	if s.peer != nil {
		if perr := s.peer.Close(); err == nil {
			err = perr
		}
	}
	return err
}

// LocalAddr returns the address of the local socket
func (s *NodeServer) LocalAddr() net.Addr {
	return s.local.Addr()
}

// PeerAddr returns the address of the peer listener or nil if disabled
func (s *NodeServer) PeerAddr() net.Addr {
	if s.peer == nil {
		return nil
	}
	return s.peer.Addr()
}

// Store returns the object store of the node
func (s *NodeServer) Store() store.IObjectStore {
	return s.store
}

// Peers returns the peer manager of the node
func (s *NodeServer) Peers() *client.PeerManager {
	return s.peers
}
