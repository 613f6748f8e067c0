// Package server implements the inbound side of the object manager.
//
// A NodeServer owns the object store, the worker pool and the peer manager of a node and runs two
// base.LocalAcceptor instances: one on the unix socket workers attach to and, if configured, one on
// the tcp listener other nodes push objects to. Every accepted connection is served by its own
// ClientConnection.
//
// Local connections understand:
//
//	Register   ClientID                      no reply
//	Put        ObjectID | payload            Status
//	Transfer   ObjectID | destination        Status, sent once the object was written to the peer
//	Disconnect                               closes the connection
//
// Peer connections understand Push (PushHeader | payload, not acknowledged) and Disconnect.
// Any other message, a malformed body or an oversize frame is a protocol error and closes the
// connection.
package server
