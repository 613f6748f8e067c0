package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Message types
// --------------------------------------------------------------------------

// MessageType identifies the body layout of a frame
type MessageType int64

const (
	// MsgTRegister is sent by a worker right after connecting, body: ClientID
	MsgTRegister MessageType = iota + 1
	// MsgTPut stores an object in the local store, body: ObjectID | payload
	MsgTPut
	// MsgTTransfer asks the node to push a local object to a peer, body: ObjectID | destination ClientID
	MsgTTransfer
	// MsgTPush carries an object between nodes, body: PushHeader | payload
	MsgTPush
	// MsgTStatus answers Put and Transfer requests, body: ObjectID | code (u32) | message
	MsgTStatus
	// MsgTDisconnect announces a clean disconnect, empty body
	MsgTDisconnect
)

func (t MessageType) String() string {
	switch t {
	case MsgTRegister:
		return "Register"
	case MsgTPut:
		return "Put"
	case MsgTTransfer:
		return "Transfer"
	case MsgTPush:
		return "Push"
	case MsgTStatus:
		return "Status"
	case MsgTDisconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("MessageType(%d)", int64(t))
	}
}

const (
	// HeaderSize is the size of the frame header: type (int64) + body length (uint64)
	HeaderSize = 16
	// PushHeaderSize is the size of the fixed part of a push body
	PushHeaderSize = 2*IDSize + 8
	// MaxMessageSize bounds the body length accepted by readers (1 GiB)
	MaxMessageSize = 1 << 30

	bodyChunkSize = 64 << 10
)

// Header is the decoded frame header
type Header struct {
	Type   MessageType
	Length uint64
}

// --------------------------------------------------------------------------
// Frame codec
// --------------------------------------------------------------------------

// WriteFrame writes a frame with the format:
// - 8 bytes: message type (int64, big endian)
// - 8 bytes: body length (uint64, big endian)
// - N bytes: the concatenation of all body parts
//
// The body parts are written with net.Buffers so large payloads are never copied.
func WriteFrame(w io.Writer, msgType MessageType, parts ...[]byte) error {
	var length uint64
	for _, p := range parts {
		length += uint64(len(p))
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(header[:8], uint64(msgType))
	binary.BigEndian.PutUint64(header[8:16], length)

	b := make(net.Buffers, 0, len(parts)+1)
	b = append(b, header)
	for _, p := range parts {
		if len(p) > 0 {
			b = append(b, p)
		}
	}
	_, err := b.WriteTo(w)
	return err
}

// ReadHeader reads and validates a frame header
func ReadHeader(r io.Reader, buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		buf = make([]byte, HeaderSize)
	}
	if _, err := io.ReadFull(r, buf[:HeaderSize]); err != nil {
		return Header{}, err
	}

	h := Header{
		Type:   MessageType(binary.BigEndian.Uint64(buf[:8])),
		Length: binary.BigEndian.Uint64(buf[8:16]),
	}
	if h.Length > MaxMessageSize {
		return h, errors.Wrapf(ErrProtocol, "message of %d bytes exceeds limit", h.Length)
	}
	return h, nil
}

// ReadBody reads the body announced by h, reusing buf if it is large enough.
// Bodies larger than bodyChunkSize are read in chunks, memory grows with the bytes that
// actually arrive rather than with the announced length.
func ReadBody(r io.Reader, h Header, buf []byte) ([]byte, error) {
	if h.Length == 0 {
		return []byte{}, nil
	}
	if uint64(len(buf)) < h.Length {
		if h.Length > bodyChunkSize {
			return readChunked(r, int64(h.Length))
		}
		buf = make([]byte, h.Length)
	}
	if _, err := io.ReadFull(r, buf[:h.Length]); err != nil {
		return nil, err
	}
	return buf[:h.Length], nil
}

func readChunked(r io.Reader, length int64) ([]byte, error) {
	var body bytes.Buffer
	body.Grow(bodyChunkSize)
	if _, err := io.CopyN(&body, r, length); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body.Bytes(), nil
}

// --------------------------------------------------------------------------
// Message bodies
// --------------------------------------------------------------------------

// PushHeader precedes the payload of a MsgTPush body
type PushHeader struct {
	ObjectID ObjectID
	Sender   ClientID
	Size     int64
}

// Encode returns the wire form of the push header
func (h PushHeader) Encode() []byte {
	buf := make([]byte, PushHeaderSize)
	copy(buf[:IDSize], h.ObjectID[:])
	copy(buf[IDSize:2*IDSize], h.Sender[:])
	binary.BigEndian.PutUint64(buf[2*IDSize:], uint64(h.Size))
	return buf
}

// DecodePushBody splits a push body into its header and payload.
// The payload aliases body.
func DecodePushBody(body []byte) (PushHeader, []byte, error) {
	var h PushHeader
	if len(body) < PushHeaderSize {
		return h, nil, errors.Wrapf(ErrProtocol, "push body of %d bytes is shorter than its header", len(body))
	}
	copy(h.ObjectID[:], body[:IDSize])
	copy(h.Sender[:], body[IDSize:2*IDSize])
	h.Size = int64(binary.BigEndian.Uint64(body[2*IDSize : PushHeaderSize]))

	payload := body[PushHeaderSize:]
	if int64(len(payload)) != h.Size {
		return h, nil, errors.Wrapf(ErrProtocol, "push of %s announces %d bytes, got %d", h.ObjectID, h.Size, len(payload))
	}
	return h, payload, nil
}

// StatusCode is the result code carried by MsgTStatus
type StatusCode uint32

const (
	StatusOK StatusCode = iota
	StatusNotFound
	StatusUnknownPeer
	StatusQueueFull
	StatusFailed
)

// Status answers a Put or Transfer request
type Status struct {
	ObjectID ObjectID
	Code     StatusCode
	Message  string
}

// Encode returns the wire form of the status body
func (s Status) Encode() []byte {
	buf := make([]byte, IDSize+4+len(s.Message))
	copy(buf[:IDSize], s.ObjectID[:])
	binary.BigEndian.PutUint32(buf[IDSize:IDSize+4], uint32(s.Code))
	copy(buf[IDSize+4:], s.Message)
	return buf
}

// Err converts a non OK status into an error
func (s Status) Err() error {
	switch s.Code {
	case StatusOK:
		return nil
	case StatusNotFound:
		return errors.Wrap(ErrObjectNotFound, s.Message)
	case StatusUnknownPeer:
		return errors.Wrap(ErrUnknownPeer, s.Message)
	case StatusQueueFull:
		return errors.Wrap(ErrQueueFull, s.Message)
	default:
		return errors.New(s.Message)
	}
}

// DecodeStatus parses a MsgTStatus body
func DecodeStatus(body []byte) (Status, error) {
	var s Status
	if len(body) < IDSize+4 {
		return s, errors.Wrapf(ErrProtocol, "status body of %d bytes is too short", len(body))
	}
	copy(s.ObjectID[:], body[:IDSize])
	s.Code = StatusCode(binary.BigEndian.Uint32(body[IDSize : IDSize+4]))
	s.Message = string(body[IDSize+4:])
	return s, nil
}

// StatusFromError maps an error to the status code sent back to workers
func StatusFromError(objectID ObjectID, err error) Status {
	s := Status{ObjectID: objectID, Code: StatusOK}
	if err == nil {
		return s
	}
	s.Message = err.Error()
	switch {
	case errors.Is(err, ErrObjectNotFound):
		s.Code = StatusNotFound
	case errors.Is(err, ErrUnknownPeer):
		s.Code = StatusUnknownPeer
	case errors.Is(err, ErrQueueFull):
		s.Code = StatusQueueFull
	default:
		s.Code = StatusFailed
	}
	return s
}
