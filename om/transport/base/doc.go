// Package base implements the two core components of the object manager's connection layer,
// independent of the transport medium (TCP, Unix sockets) which is plugged in through connectors.
//
// Key Components:
//
//   - SenderConnection: one outbound connection to a peer node. It holds the FIFO queue of
//     object ids waiting to be sent and the table of their send requests. It carries no
//     internal synchronization and must be owned by a single goroutine; lookups of untracked
//     objects report "not found" instead of creating blank entries.
//
//   - LocalAcceptor: the accept loop of a listening endpoint. Every accepted connection is
//     turned into a ConnectionHandler by the ConnectionFactory, bound to the shared worker pool
//     and started on its own goroutine before the next accept is armed. Failed accepts are
//     logged and retried with exponential backoff; after MaxConsecutiveErrors failures in a row
//     the acceptor enters its terminal Shutdown state instead of spinning on a broken listener.
//
// Wire Format:
//
//	Objects are streamed as MsgTPush frames (see common.WriteFrame): the 16 byte frame header
//	is followed by the push header (object id, sender id, size) and the payload, written with
//	net.Buffers so the payload borrowed from the object store is never copied.
//
// Thread Safety:
//
//	LocalAcceptor is safe for concurrent use. SenderConnection is not: see client.PeerManager
//	for the writer goroutine that owns each connection.
package base
