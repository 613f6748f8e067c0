// Package transport defines the contracts of the object manager's connection layer.
//
// Key Components:
//
//   - ConnectionHandler / ConnectionFactory: the per-connection unit created by an acceptor
//     for every accepted connection, bound to the shared worker pool.
//
//   - IServerConnector / IClientConnector: medium specific listen and dial operations
//     (unix domain sockets for workers, tcp for peer nodes).
//
// The implementations live in the subpackages base (acceptor and outbound peer connection),
// unix and tcp (connectors).
package transport
