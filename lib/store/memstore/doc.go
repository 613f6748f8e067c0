// Package memstore implements store.IObjectStore in memory.
//
// Objects live in an xsync.MapOf keyed by object id; Put and Delete go through Compute so the
// tracked total size stays consistent with the map under concurrent writers. Payloads are
// stored as handed in, the caller must not modify them afterwards.
package memstore
