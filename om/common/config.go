package common

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport settings shared by server and client
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes in bytes (0 keeps the OS default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds options applied to peer connections
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// TransportConf groups socket and tcp settings
type TransportConf struct {
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Node server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a node.
type ServerConfig struct {
	// NodeName is the human readable name of this node, NodeID is derived from it
	NodeName string
	NodeID   ClientID

	// SocketPath is the local endpoint workers attach to
	SocketPath string
	// PeerListen is the tcp address for inbound pushes from other nodes ("" disables it)
	PeerListen string
	// Peers maps node names to host:port of their peer listener
	Peers map[string]string

	// Workers is the capacity of the shared worker pool
	Workers int

	// Timeouts in seconds (0 disables the timeout)
	IdleTimeoutSecond     int64
	TransferTimeoutSecond int64
	ConnectTimeoutSecond  int64

	// MaxQueueDepth bounds the pending sends per peer connection (0 = unbounded)
	MaxQueueDepth int
	// MaxConsecutiveAcceptErrors moves an acceptor to its Shutdown state (0 = never)
	MaxConsecutiveAcceptErrors int

	Transport TransportConf

	// Metrics settings
	MetricsEndpoint          string
	MetricsLogIntervalSecond int64

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a config with the default values of the serve command
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		NodeName:                   "node",
		NodeID:                     ClientIDFromName("node"),
		SocketPath:                 socketPath,
		Peers:                      map[string]string{},
		Workers:                    runtime.NumCPU(),
		IdleTimeoutSecond:          300,
		TransferTimeoutSecond:      30,
		ConnectTimeoutSecond:       5,
		MaxQueueDepth:              1024,
		MaxConsecutiveAcceptErrors: 16,
		Transport: TransportConf{
			TCPConf: TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
		LogLevel: "info",
	}
}

// IdleTimeout returns the idle timeout as duration
func (c *ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecond) * time.Second
}

// TransferTimeout returns the per transfer timeout as duration
func (c *ServerConfig) TransferTimeout() time.Duration {
	return time.Duration(c.TransferTimeoutSecond) * time.Second
}

// ConnectTimeout returns the connect timeout as duration
func (c *ServerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecond) * time.Second
}

// PeerDirectory returns the peer table keyed by client id
func (c *ServerConfig) PeerDirectory() map[ClientID]string {
	peers := make(map[ClientID]string, len(c.Peers))
	for name, addr := range c.Peers {
		peers[ClientIDFromName(name)] = addr
	}
	return peers
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Node Identity")
	addField("Node Name", c.NodeName)
	addField("Node ID", c.NodeID.Hex())

	addSection("Endpoints")
	addField("Local Socket", c.SocketPath)
	peerListen := c.PeerListen
	if peerListen == "" {
		peerListen = "disabled"
	}
	addField("Peer Listener", peerListen)

	addSection("Limits")
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Max Queue Depth", strconv.Itoa(c.MaxQueueDepth))
	addField("Max Accept Errors", strconv.Itoa(c.MaxConsecutiveAcceptErrors))

	addSection("Timeouts")
	addField("Idle", fmt.Sprintf("%d sec", c.IdleTimeoutSecond))
	addField("Transfer", fmt.Sprintf("%d sec", c.TransferTimeoutSecond))
	addField("Connect", fmt.Sprintf("%d sec", c.ConnectTimeoutSecond))

	addSection("Transport")
	addField("TCP NoDelay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))

	addSection("Logging & Metrics")
	addField("Log Level", c.LogLevel)
	metricsEndpoint := c.MetricsEndpoint
	if metricsEndpoint == "" {
		metricsEndpoint = "disabled"
	}
	addField("Metrics Endpoint", metricsEndpoint)
	addField("Metrics Log Interval", fmt.Sprintf("%d sec", c.MetricsLogIntervalSecond))

	if len(c.Peers) > 0 {
		addSection("Peers")

		// Sort keys for consistent output
		names := make([]string, 0, len(c.Peers))
		for name := range c.Peers {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			addField(name, c.Peers[name])
		}
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Worker client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures the worker side client of the local socket
type ClientConfig struct {
	SocketPath    string
	WorkerName    string
	TimeoutSecond int
}

// Timeout returns the request timeout as duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nCLIENT CONFIGURATION\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Socket", c.SocketPath))
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Worker", c.WorkerName))
	sb.WriteString(fmt.Sprintf("  %-22s: %d sec\n", "Timeout", c.TimeoutSecond))
	return sb.String()
}
