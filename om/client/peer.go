package client

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dObj/lib/util"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/metrics"
	"github.com/ValentinKolb/dObj/om/transport/base"
	"github.com/pkg/errors"
)

// pushCmd is a single push submitted to a peer writer
type pushCmd struct {
	request base.SendRequest
	result  chan error // buffered, receives exactly one value
}

func newPushCmd(request base.SendRequest) *pushCmd {
	return &pushCmd{request: request, result: make(chan error, 1)}
}

// writerConfig holds the settings every peer writer is started with
type writerConfig struct {
	self            common.ClientID
	maxQueueDepth   int
	idleTimeout     time.Duration
	transferTimeout time.Duration
}

// peerWriter is the single owner of the SenderConnection to one peer. Pushes reach it through
// a lock-free mailbox, it moves them into the FIFO send queue and streams one object at a time.
type peerWriter struct {
	sender  *base.SenderConnection
	config  writerConfig
	mailbox *util.Mailbox[*pushCmd]

	// waiters of every queued object, duplicates of a queued object join the existing entry
	waiters map[common.ObjectID][]chan error

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// onExit is called by the writer goroutine before it tears down its connection
	onExit func(w *peerWriter)
}

func newPeerWriter(sender *base.SenderConnection, config writerConfig, onExit func(w *peerWriter)) *peerWriter {
	return &peerWriter{
		sender:  sender,
		config:  config,
		mailbox: util.NewMailbox[*pushCmd](),
		waiters: make(map[common.ObjectID][]chan error),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		onExit:  onExit,
	}
}

// submit hands a push to the writer. It returns false if the writer already shut down.
func (w *peerWriter) submit(cmd *pushCmd) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	return w.mailbox.Push(cmd)
}

// stop asks the writer to exit and aborts a transfer in flight
func (w *peerWriter) stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.sender.Conn().Close()
	})
}

// --------------------------------------------------------------------------
// Writer goroutine
// --------------------------------------------------------------------------

func (w *peerWriter) run() {
	reason := w.loop()
	w.exit(reason)
}

// loop returns the error every pending and future push of this writer fails with
func (w *peerWriter) loop() error {
	var idleTimer *time.Timer
	if w.config.idleTimeout > 0 {
		idleTimer = time.NewTimer(w.config.idleTimeout)
		defer idleTimer.Stop()
	}

	for {
		if w.sender.IsObjectIDQueueEmpty() {
			var idle <-chan time.Time
			if idleTimer != nil {
				idleTimer.Reset(w.config.idleTimeout)
				idle = idleTimer.C
			}

			select {
			case cmd, ok := <-w.mailbox.Recv():
				if !ok {
					return errors.Wrapf(common.ErrConnectionClosed, "peer %s", w.sender.Peer())
				}
				w.accept(cmd)
			case <-idle:
				Logger.Infof("Closing idle connection to peer %s at %s", w.sender.Peer(), w.sender.Endpoint())
				return errors.Wrapf(common.ErrConnectionClosed, "peer %s idle", w.sender.Peer())
			case <-w.stopCh:
				return errors.Wrapf(common.ErrConnectionClosed, "peer %s", w.sender.Peer())
			}
			continue
		}

		// pick up everything that arrived during the last transfer before sending the next one
		if !w.absorb() {
			return errors.Wrapf(common.ErrConnectionClosed, "peer %s", w.sender.Peer())
		}

		if err := w.transferNext(); err != nil {
			return err
		}
	}
}

// absorb moves all pending mailbox commands into the send queue without blocking.
// It returns false if the writer was asked to stop.
func (w *peerWriter) absorb() bool {
	for {
		select {
		case <-w.stopCh:
			return false
		case cmd, ok := <-w.mailbox.Recv():
			if !ok {
				return false
			}
			w.accept(cmd)
		default:
			return true
		}
	}
}

// accept schedules a push or joins it to the already queued push of the same object
func (w *peerWriter) accept(cmd *pushCmd) {
	objectID := cmd.request.ObjectID

	if waiting, ok := w.waiters[objectID]; ok {
		Logger.Debugf("Object %s already queued for peer %s", objectID, w.sender.Peer())
		w.waiters[objectID] = append(waiting, cmd.result)
		return
	}

	if w.config.maxQueueDepth > 0 && w.sender.QueueDepth() >= w.config.maxQueueDepth {
		metrics.ObjectFailed()
		cmd.result <- errors.Wrapf(common.ErrQueueFull, "peer %s has %d pending sends", w.sender.Peer(), w.sender.QueueDepth())
		return
	}

	w.sender.Schedule(cmd.request)
	w.waiters[objectID] = []chan error{cmd.result}
}

// transferNext sends the head of the queue. A failed transfer is returned and ends the writer.
func (w *peerWriter) transferNext() error {
	request := w.sender.Next()
	start := time.Now()

	err := w.sender.WriteObject(request, w.config.self, w.config.transferTimeout)
	w.sender.Finish(request.ObjectID)

	waiting := w.waiters[request.ObjectID]
	delete(w.waiters, request.ObjectID)

	if err != nil {
		metrics.ObjectFailed()
		Logger.Warningf("Transfer of object %s to peer %s failed: %v", request.ObjectID, w.sender.Peer(), err)
		notify(waiting, err)
		return err
	}

	metrics.ObjectSent(request.ObjectSize, start)
	Logger.Debugf("Sent object %s (%d bytes) to peer %s in %s", request.ObjectID, request.ObjectSize, w.sender.Peer(), time.Since(start))
	notify(waiting, nil)
	return nil
}

// exit tears the writer down: it leaves the manager, closes the connection and fails
// everything that is still pending with reason
func (w *peerWriter) exit(reason error) {
	if w.onExit != nil {
		w.onExit(w)
	}

	_ = w.sender.Close()
	metrics.PeerClosed()

	w.mailbox.Close()
	for cmd := range w.mailbox.Recv() {
		metrics.ObjectFailed()
		cmd.result <- reason
	}

	dropped := w.sender.Reset()
	for _, request := range dropped {
		metrics.ObjectFailed()
		notify(w.waiters[request.ObjectID], reason)
		delete(w.waiters, request.ObjectID)
	}
	if len(dropped) > 0 {
		Logger.Warningf("Dropped %d pending sends to peer %s: %v", len(dropped), w.sender.Peer(), reason)
	}

	close(w.done)
}

func notify(waiting []chan error, err error) {
	for _, ch := range waiting {
		ch <- err
	}
}
