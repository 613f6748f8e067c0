package common

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrQueueFull is returned when a peer connection already holds MaxQueueDepth pending sends
	ErrQueueFull = errors.New("send queue is full")
	// ErrConnectionClosed is returned for operations on a torn down connection
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrTooManyAcceptErrors is returned by Serve when the acceptor gave up on a broken listener
	ErrTooManyAcceptErrors = errors.New("too many consecutive accept errors")
	// ErrUnknownPeer is returned when no address is known for a client id
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrObjectNotFound is returned when an object is not present in the local store
	ErrObjectNotFound = errors.New("object not found")
	// ErrProtocol marks malformed frames and unexpected message types
	ErrProtocol = errors.New("protocol error")
)

// ConnectionError is returned when a connection to a peer could not be established.
// It is fatal for the connect attempt only, the caller decides whether to retry.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Cause implements the causer interface of github.com/pkg/errors
func (e *ConnectionError) Cause() error {
	return e.Err
}
