package serve

import (
	"context"
	"errors"
	cmdUtil "github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/lib/numservice"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net/http"
	"time"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dRPC server",
		Long:    `Start the dRPC server hosting the NumService. The configuration can be set via command line flags or environment variables. The format of the environment variables is DRPC_<flag> (e.g. DRPC_IO_WORKERS=4)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultServerConfig()

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Endpoint, cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:8080, /tmp/drpc.sock, ...)"))

	key = "io-workers"
	ServeCmd.PersistentFlags().Int(key, defaults.IOWorkers, cmdUtil.WrapString("Number of IO workers. Each one owns a share of the client connections"))

	key = "accept-queue"
	ServeCmd.PersistentFlags().Int(key, defaults.AcceptQueueCapacity, cmdUtil.WrapString("How many accepted sockets can wait for a single IO worker"))

	key = "write-queue"
	ServeCmd.PersistentFlags().Int(key, defaults.WriteQueueCapacity, cmdUtil.WrapString("How many responses can wait to be written by a single IO worker"))

	key = "business-workers"
	ServeCmd.PersistentFlags().Int(key, defaults.BusinessWorkers, cmdUtil.WrapString("Number of business workers running the service handlers"))

	key = "business-queue"
	ServeCmd.PersistentFlags().Int(key, defaults.BusinessQueueCapacity, cmdUtil.WrapString("How many requests can wait for a single business worker. Requests arriving at a full queue are dropped without a response"))

	key = "idle-timeout"
	ServeCmd.PersistentFlags().Duration(key, defaults.IdleTimeout, cmdUtil.WrapString("Close connections that sent nothing for this long (0 keeps them open)"))

	key = "shutdown-timeout"
	ServeCmd.PersistentFlags().Duration(key, defaults.ShutdownTimeout, cmdUtil.WrapString("How long the server waits for outstanding responses when stopping"))

	key = "report-errors"
	ServeCmd.PersistentFlags().Bool(key, defaults.ReportErrors, cmdUtil.WrapString("Answer failed requests with an error text instead of dropping them. Only enable this if every client reads the error field of responses"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Serve Prometheus metrics on this address under /metrics (e.g. 0.0.0.0:9100, empty disables metrics)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupSocketFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.IOWorkers = viper.GetInt("io-workers")
	serveCmdConfig.AcceptQueueCapacity = viper.GetInt("accept-queue")
	serveCmdConfig.WriteQueueCapacity = viper.GetInt("write-queue")
	serveCmdConfig.BusinessWorkers = viper.GetInt("business-workers")
	serveCmdConfig.BusinessQueueCapacity = viper.GetInt("business-queue")
	serveCmdConfig.IdleTimeout = viper.GetDuration("idle-timeout")
	serveCmdConfig.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	serveCmdConfig.ReportErrors = viper.GetBool("report-errors")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.ReadChunkSize = viper.GetInt("read-chunk-size") * 1024
	serveCmdConfig.MaxBodySize = viper.GetUint32("max-body-size")
	serveCmdConfig.NetworkByteOrder = viper.GetBool("network-byte-order")
	serveCmdConfig.SocketConf = cmdUtil.GetSocketConf()
	serveCmdConfig.TCPConf = cmdUtil.GetTCPConf()

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the dRPC server and blocks until it receives SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerConnector()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		serveCmdConfig,
		t,
		s,
	)

	if err := serv.RegisterService(numservice.NewService()); err != nil {
		return err
	}

	if err := serv.Start(); err != nil {
		return err
	}

	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer := startMetricsServer(serveCmdConfig.MetricsEndpoint)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	serv.WaitForSignal()
	return nil
}

// startMetricsServer serves the runtime metrics in Prometheus text format
func startMetricsServer(endpoint string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		common.WriteMetrics(w)
	})

	srv := &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		server.Logger.Infof("Metrics available on http://%s/metrics", endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	return srv
}
