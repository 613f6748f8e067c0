// Package metrics collects the counters of the object manager's connection layer.
//
// Two sinks are fed:
//
//   - github.com/VictoriaMetrics/metrics: Prometheus text format counters, gauges and a transfer
//     duration histogram, served by the node on /metrics (see WritePrometheus).
//
//   - github.com/rcrowley/go-metrics: an EWMA meter of transferred bytes and a timer of transfer
//     durations, logged periodically by StartReporter.
package metrics

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("om/metrics")

var (
	activeHandlers  atomic.Int64
	openPeerConns   atomic.Int64
	registry        = gometrics.NewRegistry()
	transferMeter   = gometrics.GetOrRegisterMeter("transfer.bytes", registry)
	transferTimer   = gometrics.GetOrRegisterTimer("transfer.duration", registry)
	receivedMeter   = gometrics.GetOrRegisterMeter("receive.bytes", registry)
	acceptedCounter = vm.GetOrCreateCounter("om_acceptor_accepted_total")
	acceptErrors    = vm.GetOrCreateCounter("om_acceptor_accept_errors_total")
	acceptShutdowns = vm.GetOrCreateCounter("om_acceptor_shutdowns_total")
	objectsSent     = vm.GetOrCreateCounter("om_peer_objects_sent_total")
	objectsFailed   = vm.GetOrCreateCounter("om_peer_objects_failed_total")
	bytesSent       = vm.GetOrCreateCounter("om_peer_bytes_sent_total")
	peerConnects    = vm.GetOrCreateCounter("om_peer_connects_total")
	peerConnectErrs = vm.GetOrCreateCounter("om_peer_connect_errors_total")
	objectsReceived = vm.GetOrCreateCounter("om_objects_received_total")
	bytesReceived   = vm.GetOrCreateCounter("om_bytes_received_total")
	protocolErrors  = vm.GetOrCreateCounter("om_protocol_errors_total")
	transferSeconds = vm.GetOrCreateHistogram("om_peer_transfer_duration_seconds")
)

func init() {
	vm.GetOrCreateGauge("om_active_handlers", func() float64 {
		return float64(activeHandlers.Load())
	})
	vm.GetOrCreateGauge("om_open_peer_connections", func() float64 {
		return float64(openPeerConns.Load())
	})
}

// --------------------------------------------------------------------------
// Acceptor
// --------------------------------------------------------------------------

func ConnectionAccepted() {
	acceptedCounter.Inc()
	activeHandlers.Add(1)
}

func HandlerClosed() {
	activeHandlers.Add(-1)
}

func AcceptError() {
	acceptErrors.Inc()
}

func AcceptorShutdown() {
	acceptShutdowns.Inc()
}

// ActiveHandlers returns the number of running connection handlers
func ActiveHandlers() int64 {
	return activeHandlers.Load()
}

// --------------------------------------------------------------------------
// Peer connections
// --------------------------------------------------------------------------

func PeerConnected() {
	peerConnects.Inc()
	openPeerConns.Add(1)
}

func PeerConnectFailed() {
	peerConnectErrs.Inc()
}

func PeerClosed() {
	openPeerConns.Add(-1)
}

// ObjectSent records a completed transfer of size bytes that started at start
func ObjectSent(size int64, start time.Time) {
	objectsSent.Inc()
	bytesSent.Add(int(size))
	transferSeconds.UpdateDuration(start)
	transferMeter.Mark(size)
	transferTimer.UpdateSince(start)
}

func ObjectFailed() {
	objectsFailed.Inc()
}

// ObjectReceived records an object stored from a put or a peer push
func ObjectReceived(size int64) {
	objectsReceived.Inc()
	bytesReceived.Add(int(size))
	receivedMeter.Mark(size)
}

func ProtocolError() {
	protocolErrors.Inc()
}

// --------------------------------------------------------------------------
// Export
// --------------------------------------------------------------------------

// WritePrometheus writes all counters in Prometheus text format (including process metrics)
func WritePrometheus(w io.Writer) {
	vm.WritePrometheus(w, true)
}

// StartReporter logs transfer rates every interval until ctx is done
func StartReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				Report()
			}
		}
	}()
}

// Report logs one line with the current transfer statistics
func Report() {
	sent := transferMeter.Snapshot()
	recv := receivedMeter.Snapshot()
	timer := transferTimer.Snapshot()
	Logger.Infof("handlers=%d peers=%d sent=%d objs (%.0f B/s 1m) recv=%.0f B/s 1m transfer p50=%s p99=%s",
		activeHandlers.Load(),
		openPeerConns.Load(),
		timer.Count(),
		sent.Rate1(),
		recv.Rate1(),
		time.Duration(timer.Percentile(0.5)),
		time.Duration(timer.Percentile(0.99)),
	)
}
