// Package client implements the outbound side of the object manager.
//
// PeerManager keeps one connection per peer node. The connection is owned by a writer goroutine
// that receives pushes through a lock-free mailbox and moves them into the FIFO send queue of its
// base.SenderConnection. Objects are streamed one at a time in push order, each under a write
// deadline. A failed transfer closes the connection and fails every pending push of that peer;
// the next push opens a new connection. Connections with an empty queue are closed after the idle
// timeout.
//
// LocalClient is used by workers on the same machine: it registers over the node's unix socket
// and issues Put and Transfer requests.
//
// Example:
//
//	manager := client.NewPeerManager(client.ConfigFromServer(&config), tcp.NewClientConnector(),
//		client.StaticDirectory(config.PeerDirectory()))
//	defer manager.Close()
//
//	err := manager.Push(ctx, common.ClientIDFromName("node-2"), objectID, data)
package client
