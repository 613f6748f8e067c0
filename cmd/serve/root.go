package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dObj/cmd/util"
	"github.com/ValentinKolb/dObj/lib/store/memstore"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/ValentinKolb/dObj/om/metrics"
	"github.com/ValentinKolb/dObj/om/server"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve <socket-path>",
		Short:   "Start the object manager of a node",
		Long:    `Start the object manager of a node. Workers attach to the unix socket given as the only argument, other nodes push objects to the peer listener. The configuration can be set via command line flags or environment variables. The format of the environment variables is DOBJ_<flag> (e.g. DOBJ_IDLE_TIMEOUT=60)`,
		Args:    cobra.ExactArgs(1),
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultServerConfig("")

	// add flags
	key := "node-name"
	ServeCmd.PersistentFlags().String(key, defaults.NodeName, cmdUtil.WrapString("Name of this node, the client id other nodes address it with is derived from it"))

	key = "peer-listen"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("TCP address for objects pushed by other nodes (e.g. 0.0.0.0:7000). Empty disables the peer listener"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of peer nodes in the format 'node-2=10.0.0.2:7000,node-3=10.0.0.3:7000'"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, defaults.Workers, cmdUtil.WrapString("Capacity of the worker pool shared by all connections"))

	key = "idle-timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.IdleTimeoutSecond, cmdUtil.WrapString("Seconds after which idle connections are closed (0 disables it)"))

	key = "transfer-timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TransferTimeoutSecond, cmdUtil.WrapString("Seconds a single object transfer to a peer may take (0 disables it)"))

	key = "connect-timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.ConnectTimeoutSecond, cmdUtil.WrapString("Seconds to wait for a connection to a peer"))

	key = "max-queue-depth"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxQueueDepth, cmdUtil.WrapString("Maximum number of pending sends per peer (0 = unbounded)"))

	key = "max-accept-errors"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxConsecutiveAcceptErrors, cmdUtil.WrapString("Consecutive accept errors after which a listener is given up (0 = never)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on /metrics (e.g. localhost:9100). Empty disables it"))

	key = "metrics-log-interval"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Seconds between transfer statistics log lines (0 disables it)"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The size of the socket write buffer (in KB, 0 keeps the OS default)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The size of the socket read buffer (in KB, 0 keeps the OS default)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, defaults.Transport.TCPNoDelay, cmdUtil.WrapString("Disable Nagle's algorithm on peer connections"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval of peer connections (in seconds, 0 keeps the OS default)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, defaults.Transport.TCPLingerSec, cmdUtil.WrapString("The linger time of peer connections (in seconds, -1 keeps the OS default)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, args []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	*serveCmdConfig = common.DefaultServerConfig(args[0])

	if _, err := common.ParseLogLevel(viper.GetString("log-level")); err != nil {
		return err
	}

	peers, err := cmdUtil.ParsePeers(viper.GetString("peers"))
	if err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.NodeName = viper.GetString("node-name")
	serveCmdConfig.NodeID = common.ClientIDFromName(serveCmdConfig.NodeName)
	serveCmdConfig.PeerListen = viper.GetString("peer-listen")
	serveCmdConfig.Peers = peers
	serveCmdConfig.Workers = viper.GetInt("workers")
	serveCmdConfig.IdleTimeoutSecond = viper.GetInt64("idle-timeout")
	serveCmdConfig.TransferTimeoutSecond = viper.GetInt64("transfer-timeout")
	serveCmdConfig.ConnectTimeoutSecond = viper.GetInt64("connect-timeout")
	serveCmdConfig.MaxQueueDepth = viper.GetInt("max-queue-depth")
	serveCmdConfig.MaxConsecutiveAcceptErrors = viper.GetInt("max-accept-errors")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.MetricsLogIntervalSecond = viper.GetInt64("metrics-log-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.TransportConf{
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	if serveCmdConfig.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", serveCmdConfig.Workers)
	}
	if _, ok := peers[serveCmdConfig.NodeName]; ok {
		return fmt.Errorf("node %s must not be listed in its own peers", serveCmdConfig.NodeName)
	}

	return nil
}

// run starts the node server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdConfig.LogLevel)

	fmt.Println(serveCmdConfig.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := server.NewNodeServer(*serveCmdConfig, memstore.NewMemStore(), server.DefaultConnectors())
	if err != nil {
		return err
	}

	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer := startMetricsServer(serveCmdConfig.MetricsEndpoint)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}
	metrics.StartReporter(ctx, time.Duration(serveCmdConfig.MetricsLogIntervalSecond)*time.Second)

	return node.Serve(ctx)
}

// startMetricsServer serves the Prometheus metrics on /metrics
func startMetricsServer(endpoint string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w)
	})

	srv := &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		Logger.Infof("Serving metrics on http://%s/metrics", endpoint)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	return srv
}
