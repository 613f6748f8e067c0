package base

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("om/transport")

// SendRequest describes one object transfer to a peer.
// Data is borrowed from the object store: the connection only reads it while streaming
// and never modifies or retains it after the transfer.
type SendRequest struct {
	ObjectID   common.ObjectID
	ClientID   common.ClientID
	ObjectSize int64
	Data       []byte
}

// SenderConnection owns one outbound connection to a peer node together with the ordered
// queue of object ids waiting to be sent and the table of their send requests.
//
// Thread safety:
//
//	SenderConnection is NOT synchronized. It must be owned by exactly one goroutine
//	(see client.PeerManager, which runs one writer goroutine per peer).
//
// Invariants:
//   - an object id is queued at most once at a time
//   - every queued object id has an entry in the request table
type SenderConnection struct {
	conn      net.Conn
	peer      common.ClientID
	endpoint  string
	sendQueue []common.ObjectID
	requests  map[common.ObjectID]SendRequest
}

// --------------------------------------------------------------------------
// Construction
// --------------------------------------------------------------------------

// ConnectSender opens the connection to the peer listening on address:port.
// This is the only connect attempt, retry policy belongs to the caller.
// Malformed addresses and unreachable peers return a *common.ConnectionError.
func ConnectSender(
	connector transport.IClientConnector,
	peer common.ClientID,
	address string,
	port uint16,
	config common.TransportConf,
	timeout time.Duration,
) (*SenderConnection, error) {
	endpoint := net.JoinHostPort(address, strconv.Itoa(int(port)))

	if address == "" || port == 0 {
		return nil, &common.ConnectionError{Address: endpoint, Err: errors.New("malformed peer address")}
	}

	conn, err := connector.Connect(endpoint, timeout)
	if err != nil {
		return nil, &common.ConnectionError{Address: endpoint, Err: err}
	}

	if err := connector.UpgradeConnection(conn, config); err != nil {
		_ = conn.Close()
		return nil, &common.ConnectionError{Address: endpoint, Err: errors.Wrap(err, "failed to upgrade connection")}
	}

	Logger.Debugf("Connected to peer %s at %s using %s", peer, endpoint, connector.GetName())

	return NewSenderConnection(conn, peer, endpoint), nil
}

// ConnectSenderEndpoint is ConnectSender for a "host:port" endpoint string
func ConnectSenderEndpoint(
	connector transport.IClientConnector,
	peer common.ClientID,
	endpoint string,
	config common.TransportConf,
	timeout time.Duration,
) (*SenderConnection, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, &common.ConnectionError{Address: endpoint, Err: err}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, &common.ConnectionError{Address: endpoint, Err: errors.Wrapf(err, "invalid port %q", portStr)}
	}
	return ConnectSender(connector, peer, host, uint16(port), config, timeout)
}

// NewSenderConnection wraps an already established connection
func NewSenderConnection(conn net.Conn, peer common.ClientID, endpoint string) *SenderConnection {
	return &SenderConnection{
		conn:     conn,
		peer:     peer,
		endpoint: endpoint,
		requests: make(map[common.ObjectID]SendRequest),
	}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Conn returns the underlying connection
func (s *SenderConnection) Conn() net.Conn { return s.conn }

// Peer returns the client id of the remote node
func (s *SenderConnection) Peer() common.ClientID { return s.peer }

// Endpoint returns the remote address the connection was opened to
func (s *SenderConnection) Endpoint() string { return s.endpoint }

// Close closes the underlying connection. Queue and request table are left untouched.
func (s *SenderConnection) Close() error {
	return s.conn.Close()
}

// --------------------------------------------------------------------------
// Send queue
// --------------------------------------------------------------------------

// IsObjectIDQueueEmpty returns whether no object sends are pending
func (s *SenderConnection) IsObjectIDQueueEmpty() bool {
	return len(s.sendQueue) == 0
}

// QueueDepth returns the number of pending object sends
func (s *SenderConnection) QueueDepth() int {
	return len(s.sendQueue)
}

// ObjectIDQueued reports whether the object is waiting in the send queue (O(n))
func (s *SenderConnection) ObjectIDQueued(objectID common.ObjectID) bool {
	for _, id := range s.sendQueue {
		if id == objectID {
			return true
		}
	}
	return false
}

// QueueObjectID appends the object id to the tail of the send queue.
// The matching request must be registered with AddSendRequest.
// Queuing an id that is already queued violates the queue invariant and panics.
func (s *SenderConnection) QueueObjectID(objectID common.ObjectID) {
	if s.ObjectIDQueued(objectID) {
		panic(fmt.Sprintf("object %s is already queued for peer %s", objectID.Hex(), s.peer.Hex()))
	}
	s.sendQueue = append(s.sendQueue, objectID)
}

// DequeueObjectID removes and returns the head of the send queue.
// Calling it on an empty queue is a programming error and panics.
func (s *SenderConnection) DequeueObjectID() common.ObjectID {
	if len(s.sendQueue) == 0 {
		panic(fmt.Sprintf("DequeueObjectID on empty send queue of peer %s", s.peer.Hex()))
	}
	objectID := s.sendQueue[0]
	s.sendQueue[0] = common.NilObjectID
	s.sendQueue = s.sendQueue[1:]
	if len(s.sendQueue) == 0 {
		s.sendQueue = nil // release the backing array
	}
	return objectID
}

// --------------------------------------------------------------------------
// Request table
// --------------------------------------------------------------------------

// AddSendRequest inserts or overwrites the request of the object
func (s *SenderConnection) AddSendRequest(objectID common.ObjectID, request SendRequest) {
	s.requests[objectID] = request
}

// RemoveSendRequest deletes the request of the object, no-op if absent
func (s *SenderConnection) RemoveSendRequest(objectID common.ObjectID) {
	delete(s.requests, objectID)
}

// GetSendRequest returns the request of the object. Absent entries are reported
// with ok == false and are never created.
func (s *SenderConnection) GetSendRequest(objectID common.ObjectID) (request SendRequest, ok bool) {
	request, ok = s.requests[objectID]
	return request, ok
}

// MustGetSendRequest is GetSendRequest for callers that rely on the queue invariant:
// looking up an untracked object panics.
func (s *SenderConnection) MustGetSendRequest(objectID common.ObjectID) SendRequest {
	request, ok := s.requests[objectID]
	if !ok {
		panic(fmt.Sprintf("no send request for object %s on peer %s", objectID.Hex(), s.peer.Hex()))
	}
	return request
}

// PendingRequests returns the number of entries in the request table
func (s *SenderConnection) PendingRequests() int {
	return len(s.requests)
}

// --------------------------------------------------------------------------
// Combined operations used by the peer writer
// --------------------------------------------------------------------------

// Schedule registers the request and queues its object id, keeping queue and table consistent
func (s *SenderConnection) Schedule(request SendRequest) {
	s.AddSendRequest(request.ObjectID, request)
	s.QueueObjectID(request.ObjectID)
}

// Next dequeues the head of the queue and returns its request.
// The request stays in the table until the transfer finished (see Finish).
func (s *SenderConnection) Next() SendRequest {
	return s.MustGetSendRequest(s.DequeueObjectID())
}

// Finish removes a dequeued request from the table
func (s *SenderConnection) Finish(objectID common.ObjectID) {
	s.RemoveSendRequest(objectID)
}

// Reset empties queue and table and returns the dropped requests in queue order,
// followed by requests that were already dequeued but not finished.
func (s *SenderConnection) Reset() []SendRequest {
	dropped := make([]SendRequest, 0, len(s.requests))
	for _, id := range s.sendQueue {
		if req, ok := s.requests[id]; ok {
			dropped = append(dropped, req)
			delete(s.requests, id)
		}
	}
	for _, req := range s.requests {
		dropped = append(dropped, req)
	}
	s.sendQueue = nil
	s.requests = make(map[common.ObjectID]SendRequest)
	return dropped
}

// --------------------------------------------------------------------------
// Transfer
// --------------------------------------------------------------------------

// WriteObject streams one object to the peer as a MsgTPush frame.
// A timeout > 0 bounds the whole transfer through the write deadline.
func (s *SenderConnection) WriteObject(request SendRequest, sender common.ClientID, timeout time.Duration) error {
	if int64(len(request.Data)) != request.ObjectSize {
		return errors.Errorf("object %s: size %d does not match payload of %d bytes", request.ObjectID, request.ObjectSize, len(request.Data))
	}

	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return errors.Wrap(err, "failed to set write deadline")
		}
	}

	header := common.PushHeader{
		ObjectID: request.ObjectID,
		Sender:   sender,
		Size:     request.ObjectSize,
	}
	if err := common.WriteFrame(s.conn, common.MsgTPush, header.Encode(), request.Data); err != nil {
		return errors.Wrapf(err, "failed to send object %s to %s", request.ObjectID, s.endpoint)
	}
	return nil
}
