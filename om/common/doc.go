// Package common provides the data structures shared by all parts of the object manager.
//
// Key Components:
//
//   - ObjectID / ClientID: fixed-size (20 byte) comparable identifiers of objects and nodes.
//     Content addresses (ObjectIDFromData) and node names (ClientIDFromName) map to ids via SHA-1.
//
//   - Frame protocol: a 16 byte header (message type, body length) followed by the body.
//     Message types cover worker requests (Register, Put, Transfer, Disconnect), node to node
//     pushes (Push) and replies (Status).
//
//   - ServerConfig / ClientConfig: configuration of a node and of the worker side client.
//
//   - Errors: ConnectionError and the sentinel errors returned across packages.
//
//   - Logger: custom logging implementation plugged into dragonboat's logger facade.
package common
