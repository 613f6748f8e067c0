package base

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dObj/lib/workerpool"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/metrics"
	"github.com/ValentinKolb/dObj/om/transport"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// AcceptorState is the state of a LocalAcceptor
type AcceptorState int32

const (
	// StateAwaitingConnection means an accept is armed on the listener
	StateAwaitingConnection AcceptorState = iota
	// StateShutdown is terminal: the listener is closed and no further accept is armed
	StateShutdown
)

func (s AcceptorState) String() string {
	if s == StateShutdown {
		return "Shutdown"
	}
	return "AwaitingConnection"
}

const (
	defaultMinAcceptBackoff = 5 * time.Millisecond
	defaultMaxAcceptBackoff = time.Second
)

// AcceptorConfig configures a LocalAcceptor
type AcceptorConfig struct {
	// Name is used in log messages (e.g. "local", "peer")
	Name string
	// MaxConsecutiveErrors moves the acceptor to Shutdown after that many failed accepts
	// in a row. 0 keeps accepting forever (with backoff).
	MaxConsecutiveErrors int
	// MinBackoff / MaxBackoff bound the delay before re-arming after a failed accept
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// LocalAcceptor accepts connections on one listening endpoint and hands every accepted
// connection to a new handler built by the ConnectionFactory. Each handler runs on its own
// goroutine, so a slow or stuck client never blocks the next accept.
//
// Thread safety:
//
//	All exported methods are safe for concurrent use. Serve must be called once.
type LocalAcceptor struct {
	config   AcceptorConfig
	listener net.Listener
	factory  transport.ConnectionFactory
	pool     *workerpool.Pool

	state atomic.Int32

	// handlers tracks the running handlers by identity
	handlers *xsync.MapOf[uuid.UUID, transport.ConnectionHandler]
	active   sync.WaitGroup

	// handlerCtx is cancelled on shutdown so handlers close their connections
	handlerCtx     context.Context
	cancelHandlers context.CancelFunc

	// mu orders handler registration against shutdown, no handler is added once closing is closed
	mu           sync.Mutex
	shutdownOnce sync.Once
	closing      chan struct{}
}

// Listen creates the listener through the connector and returns an acceptor for it
func Listen(
	connector transport.IServerConnector,
	endpoint string,
	factory transport.ConnectionFactory,
	pool *workerpool.Pool,
	config AcceptorConfig,
) (*LocalAcceptor, error) {
	listener, err := connector.Listen(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s endpoint %s", connector.GetName(), endpoint)
	}
	if config.Name == "" {
		config.Name = connector.GetName()
	}
	return NewLocalAcceptor(listener, factory, pool, config), nil
}

// NewLocalAcceptor creates an acceptor for an existing listener.
// The acceptor takes ownership of the listener.
func NewLocalAcceptor(
	listener net.Listener,
	factory transport.ConnectionFactory,
	pool *workerpool.Pool,
	config AcceptorConfig,
) *LocalAcceptor {
	if config.MinBackoff <= 0 {
		config.MinBackoff = defaultMinAcceptBackoff
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = defaultMaxAcceptBackoff
		if config.MaxBackoff < config.MinBackoff {
			config.MaxBackoff = config.MinBackoff
		}
	}
	if config.Name == "" {
		config.Name = "acceptor"
	}

	handlerCtx, cancel := context.WithCancel(context.Background())

	return &LocalAcceptor{
		config:         config,
		listener:       listener,
		factory:        factory,
		pool:           pool,
		handlers:       xsync.NewMapOf[uuid.UUID, transport.ConnectionHandler](),
		handlerCtx:     handlerCtx,
		cancelHandlers: cancel,
		closing:        make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Accept loop
// --------------------------------------------------------------------------

// Serve runs the accept loop until ctx is done, Close is called or the acceptor gives up
// after MaxConsecutiveErrors failed accepts. It waits for all handlers before returning.
//
// Returns:
//   - nil after ctx cancellation or Close
//   - common.ErrTooManyAcceptErrors (wrapping the last accept error) if the listener is broken
func (a *LocalAcceptor) Serve(ctx context.Context) error {
	Logger.Infof("Accepting %s connections on %s", a.config.Name, a.listener.Addr())

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			Logger.Infof("Shutdown signal received for %s acceptor: %v", a.config.Name, ctx.Err())
			a.shutdown()
		case <-stopWatch:
		}
	}()

	err := a.acceptLoop()

	// no accept is armed any more, wait for the handlers to finish
	a.shutdown()
	a.active.Wait()

	return err
}

func (a *LocalAcceptor) acceptLoop() error {
	consecutiveErrors := 0

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			// Expected error during shutdown (listener was closed)
			if a.isClosing() {
				return nil
			}

			consecutiveErrors++
			metrics.AcceptError()
			Logger.Warningf("Accept error on %s acceptor (%d in a row): %v", a.config.Name, consecutiveErrors, err)

			if a.config.MaxConsecutiveErrors > 0 && consecutiveErrors >= a.config.MaxConsecutiveErrors {
				metrics.AcceptorShutdown()
				Logger.Errorf("Giving up on %s acceptor after %d consecutive accept errors", a.config.Name, consecutiveErrors)
				return errors.Wrapf(common.ErrTooManyAcceptErrors, "%s acceptor: %v", a.config.Name, err)
			}

			// back off before re-arming so a broken listener does not spin
			select {
			case <-time.After(a.backoff(consecutiveErrors)):
			case <-a.closing:
				return nil
			}
			continue
		}

		consecutiveErrors = 0
		a.dispatch(conn)
	}
}

// dispatch builds the handler for an accepted connection and starts it on its own goroutine
func (a *LocalAcceptor) dispatch(conn net.Conn) {
	// built outside of mu, a slow factory must not hold up shutdown
	handler := a.factory.NewConnection(conn, a.pool)
	id := handler.ID()

	a.mu.Lock()
	if a.isClosing() {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	a.active.Add(1)
	a.handlers.Store(id, handler)
	a.mu.Unlock()

	metrics.ConnectionAccepted()

	Logger.Debugf("Accepted %s connection %s from %s", a.config.Name, id, conn.RemoteAddr())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Errorf("Handler %s panicked: %v", id, r)
				_ = conn.Close()
			}
			a.handlers.Delete(id)
			metrics.HandlerClosed()
			a.active.Done()
		}()
		handler.Serve(a.handlerCtx)
	}()
}

// backoff returns the delay before re-arming after n consecutive errors
func (a *LocalAcceptor) backoff(n int) time.Duration {
	d := a.config.MinBackoff
	for i := 1; i < n && d < a.config.MaxBackoff; i++ {
		d *= 2
	}
	if d > a.config.MaxBackoff {
		d = a.config.MaxBackoff
	}
	return d
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close stops accepting, cancels all handlers and waits for them to exit
func (a *LocalAcceptor) Close() error {
	err := a.shutdown()
	a.active.Wait()
	return err
}

// shutdown enters the terminal state exactly once
func (a *LocalAcceptor) shutdown() error {
	var err error
	a.shutdownOnce.Do(func() {
		a.mu.Lock()
		a.state.Store(int32(StateShutdown))
		close(a.closing)
		a.mu.Unlock()
		err = a.listener.Close()
		a.cancelHandlers()
		Logger.Infof("%s acceptor on %s shut down", a.config.Name, a.listener.Addr())
	})
	return err
}

func (a *LocalAcceptor) isClosing() bool {
	select {
	case <-a.closing:
		return true
	default:
		return false
	}
}

// State returns the current state of the acceptor
func (a *LocalAcceptor) State() AcceptorState {
	return AcceptorState(a.state.Load())
}

// Addr returns the listening address
func (a *LocalAcceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// ActiveHandlers returns the number of running handlers
func (a *LocalAcceptor) ActiveHandlers() int {
	return a.handlers.Size()
}

// Handler returns the running handler with the given identity
func (a *LocalAcceptor) Handler(id uuid.UUID) (transport.ConnectionHandler, bool) {
	return a.handlers.Load(id)
}
