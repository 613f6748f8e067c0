package common

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"

	"github.com/pkg/errors"
)

// IDSize is the length in bytes of every identifier used by the object manager
const IDSize = 20

// --------------------------------------------------------------------------
// Object and client identifiers
// --------------------------------------------------------------------------

// ObjectID identifies a stored object. It is a comparable value type and can be used as map key.
type ObjectID [IDSize]byte

// ClientID identifies a node (or a worker attached to a node) in the cluster.
type ClientID [IDSize]byte

// NilObjectID is the zero object id
var NilObjectID ObjectID

// NilClientID is the zero client id
var NilClientID ClientID

// NewObjectID returns a random object id
func NewObjectID() ObjectID {
	var id ObjectID
	fillRandom(id[:])
	return id
}

// ObjectIDFromData returns the content address (SHA-1) of the given payload
func ObjectIDFromData(data []byte) ObjectID {
	return sha1.Sum(data)
}

// ObjectIDFromHex parses a 40 character hex string
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	err := decodeHex(id[:], s)
	return id, err
}

// ObjectIDFromBytes copies the first IDSize bytes of b into an object id
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	var id ObjectID
	if len(b) < IDSize {
		return id, errors.Errorf("object id needs %d bytes, got %d", IDSize, len(b))
	}
	copy(id[:], b[:IDSize])
	return id, nil
}

func (id ObjectID) Hex() string    { return hex.EncodeToString(id[:]) }
func (id ObjectID) String() string { return id.Hex()[:12] }
func (id ObjectID) IsNil() bool    { return id == NilObjectID }

// NewClientID returns a random client id
func NewClientID() ClientID {
	var id ClientID
	fillRandom(id[:])
	return id
}

// ClientIDFromName derives a stable client id from a human readable node name (e.g. 'node-1')
func ClientIDFromName(name string) ClientID {
	return sha1.Sum([]byte(name))
}

// ClientIDFromHex parses a 40 character hex string
func ClientIDFromHex(s string) (ClientID, error) {
	var id ClientID
	err := decodeHex(id[:], s)
	return id, err
}

// ClientIDFromBytes copies the first IDSize bytes of b into a client id
func ClientIDFromBytes(b []byte) (ClientID, error) {
	var id ClientID
	if len(b) < IDSize {
		return id, errors.Errorf("client id needs %d bytes, got %d", IDSize, len(b))
	}
	copy(id[:], b[:IDSize])
	return id, nil
}

func (id ClientID) Hex() string    { return hex.EncodeToString(id[:]) }
func (id ClientID) String() string { return id.Hex()[:12] }
func (id ClientID) IsNil() bool    { return id == NilClientID }

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func fillRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic(errors.Wrap(err, "failed to read random bytes"))
	}
}

func decodeHex(dst []byte, s string) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return errors.Errorf("invalid id %q: expected %d hex characters", s, hex.EncodedLen(len(dst)))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return errors.Wrapf(err, "invalid id %q", s)
	}
	return nil
}
