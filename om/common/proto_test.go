package common

import (
	"bytes"
	"encoding/binary"
	"io"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDs(t *testing.T) {
	a := NewObjectID()
	b := NewObjectID()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsNil())
	assert.True(t, NilObjectID.IsNil())

	parsed, err := ObjectIDFromHex(a.Hex())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
	assert.Len(t, a.String(), 12)

	_, err = ObjectIDFromHex("abc")
	assert.Error(t, err)
	_, err = ClientIDFromHex(string(bytes.Repeat([]byte("zz"), IDSize)))
	assert.Error(t, err)

	// value semantics: usable as map keys
	m := map[ObjectID]int{a: 1}
	copied := a
	assert.Equal(t, 1, m[copied])

	assert.Equal(t, ClientIDFromName("node-1"), ClientIDFromName("node-1"))
	assert.NotEqual(t, ClientIDFromName("node-1"), ClientIDFromName("node-2"))
	assert.Equal(t, ObjectIDFromData([]byte("x")), ObjectIDFromData([]byte("x")))

	_, err = ClientIDFromBytes([]byte{1, 2})
	assert.Error(t, err)
}

func TestFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, MsgTPut, []byte("abc"), nil, []byte("def")))
	assert.Equal(t, HeaderSize+6, buf.Len())

	h, err := ReadHeader(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, MsgTPut, h.Type)
	assert.Equal(t, uint64(6), h.Length)

	body, err := ReadBody(&buf, h, make([]byte, 2))
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), body)

	// empty body
	buf.Reset()
	require.NoError(t, WriteFrame(&buf, MsgTDisconnect))
	h, err = ReadHeader(&buf, nil)
	require.NoError(t, err)
	body, err = ReadBody(&buf, h, nil)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestFrameErrors(t *testing.T) {
	// truncated header
	_, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}), nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// oversize message
	hdr := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(hdr[:8], uint64(MsgTPut))
	binary.BigEndian.PutUint64(hdr[8:], MaxMessageSize+1)
	_, err = ReadHeader(bytes.NewReader(hdr), nil)
	assert.True(t, errors.Is(err, ErrProtocol))

	// truncated body
	_, err = ReadBody(bytes.NewReader([]byte{1}), Header{Type: MsgTPut, Length: 4}, nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadBodyChunked(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 3*bodyChunkSize/16+1)
	body, err := ReadBody(bytes.NewReader(payload), Header{Type: MsgTPut, Length: uint64(len(payload))}, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, body)

	// a header announcing the maximum size followed by a few bytes must not allocate the announced size
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err = ReadBody(bytes.NewReader([]byte("short")), Header{Type: MsgTPut, Length: MaxMessageSize}, nil)
	runtime.ReadMemStats(&after)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestPushBody(t *testing.T) {
	payload := []byte("object payload")
	h := PushHeader{ObjectID: ObjectIDFromData(payload), Sender: ClientIDFromName("a"), Size: int64(len(payload))}

	body := append(h.Encode(), payload...)
	decoded, data, err := DecodePushBody(body)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
	assert.Equal(t, payload, data)

	_, _, err = DecodePushBody(body[:PushHeaderSize-1])
	assert.True(t, errors.Is(err, ErrProtocol))

	_, _, err = DecodePushBody(body[:len(body)-1])
	assert.True(t, errors.Is(err, ErrProtocol), "size mismatch")
}

func TestStatus(t *testing.T) {
	id := NewObjectID()

	ok := StatusFromError(id, nil)
	assert.Equal(t, StatusOK, ok.Code)
	assert.NoError(t, ok.Err())

	cases := []struct {
		err  error
		code StatusCode
		is   error
	}{
		{errors.Wrap(ErrObjectNotFound, "x"), StatusNotFound, ErrObjectNotFound},
		{errors.Wrap(ErrUnknownPeer, "x"), StatusUnknownPeer, ErrUnknownPeer},
		{ErrQueueFull, StatusQueueFull, ErrQueueFull},
		{errors.New("boom"), StatusFailed, nil},
	}
	for _, c := range cases {
		s := StatusFromError(id, c.err)
		assert.Equal(t, c.code, s.Code)

		decoded, err := DecodeStatus(s.Encode())
		require.NoError(t, err)
		assert.Equal(t, s, decoded)

		require.Error(t, decoded.Err())
		if c.is != nil {
			assert.True(t, errors.Is(decoded.Err(), c.is))
		}
	}

	_, err := DecodeStatus([]byte{1})
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("refused")
	var err error = &ConnectionError{Address: "10.0.0.1:7000", Err: cause}
	assert.Contains(t, err.Error(), "10.0.0.1:7000")
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Cause(err))
}

func TestParseLogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "warning", "error", "INFO"} {
		_, err := ParseLogLevel(lvl)
		assert.NoError(t, err, lvl)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestServerConfigString(t *testing.T) {
	c := DefaultServerConfig("/tmp/om.sock")
	c.Peers = map[string]string{"node-2": "10.0.0.2:7000", "node-1": "10.0.0.1:7000"}
	s := c.String()
	assert.Contains(t, s, "/tmp/om.sock")
	assert.Contains(t, s, "node-1")
	assert.Less(t, bytes.Index([]byte(s), []byte("node-1 ")), bytes.Index([]byte(s), []byte("node-2 ")))

	dir := c.PeerDirectory()
	assert.Equal(t, "10.0.0.2:7000", dir[ClientIDFromName("node-2")])
}
