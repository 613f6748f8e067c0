// Package store defines the object store as seen by the object manager's connection layer.
//
// Memory allocation and eviction of the real object store are outside of the connection
// layer: it only needs to look up payloads of objects to send and to hand over payloads of
// received objects. IObjectStore captures exactly that.
//
// Implementations:
//
//   - memstore: an in-memory store on top of a concurrent hash map, used by the node server
//     and in tests.
package store
