// Package unix implements the connectors for Unix domain sockets, the local endpoint
// worker processes attach to.
//
// Key Components:
//
//   - serverConnector: Creates the listener of the node's local socket, removing a stale
//     socket file first
//
//   - clientConnector: Dials the local socket from a worker
package unix
