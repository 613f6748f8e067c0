package store

import (
	"github.com/ValentinKolb/dObj/om/common"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IObjectStore is the node local object store the connection layer reads payloads from and
// writes received objects to. The connection layer borrows returned slices for the duration
// of a transfer: implementations must not modify a stored payload in place.
type IObjectStore interface {
	// Put stores the payload of an object. Storing an existing id replaces the payload.
	Put(id common.ObjectID, data []byte) (err error)
	// Get returns the payload of an object. The boolean reports whether the object exists.
	Get(id common.ObjectID) (data []byte, ok bool)
	// Has returns whether the object exists
	Has(id common.ObjectID) bool
	// Delete removes an object, no-op if absent
	Delete(id common.ObjectID)
	// Len returns the number of stored objects
	Len() int
	// Size returns the total payload size in bytes
	Size() int64
}
