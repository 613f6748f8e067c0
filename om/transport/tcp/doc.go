// Package tcp implements the connectors for TCP, used between nodes: outbound peer
// connections dial through clientConnector (with TCP_NODELAY, keep-alive, linger and
// buffer sizes applied by UpgradeConnection) and the optional peer listener of a node
// is created by serverConnector.
package tcp
