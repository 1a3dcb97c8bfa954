package serve

import (
	"context"
	"fmt"
	cmdUtil "github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/locktable"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dLock server",
		Long:    `Start the dLock server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DLOCK_<flag> (e.g. DLOCK_IDLE_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "bind"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Comma-separated list of addresses to listen on (e.g. 0.0.0.0:7000,unix:/run/dlock.sock)"))

	key = "idle-timeout"
	ServeCmd.Flags().Float64(key, 60, cmdUtil.WrapString("Maximum time in seconds to wait for the beginning of the next request before closing the connection"))

	key = "read-timeout"
	ServeCmd.Flags().Float64(key, 10, cmdUtil.WrapString("Maximum time in seconds to receive a single message"))

	key = "send-timeout"
	ServeCmd.Flags().Float64(key, 10, cmdUtil.WrapString("Maximum time in seconds to send a single message"))

	key = "max-message"
	ServeCmd.Flags().Int(key, common.DefaultMaxMessage, cmdUtil.WrapString("Maximum message length accepted by the server. Clients sending more are disconnected"))

	key = "read-buffer"
	ServeCmd.Flags().Int(key, -1, cmdUtil.WrapString("Read buffer size for sockets in bytes (-1 for the default)"))

	key = "tcp-keepalive"
	ServeCmd.Flags().Float64(key, common.DefaultTCPKeepAlive.Seconds(), cmdUtil.WrapString("Idle time in seconds before TCP keep-alive probes are sent (0 disables keep-alive)"))

	key = "tcp-linger"
	ServeCmd.Flags().Int(key, -1, cmdUtil.WrapString("SO_LINGER time in seconds for TCP connections (-1 for the OS default)"))

	key = "metrics-endpoint"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("Address of the Prometheus metrics endpoint (e.g. localhost:9100), empty disables it"))

	key = "stats-interval"
	ServeCmd.Flags().Float64(key, 0, cmdUtil.WrapString("Interval in seconds at which a stats line is logged (0 disables it)"))

	key = "log-level"
	ServeCmd.Flags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// parse endpoints
	serveCmdConfig.Endpoints = nil
	for _, endpoint := range strings.Split(viper.GetString("bind"), ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			serveCmdConfig.Endpoints = append(serveCmdConfig.Endpoints, endpoint)
		}
	}
	if len(serveCmdConfig.Endpoints) == 0 {
		return fmt.Errorf("--bind is required")
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.IdleTimeout = cmdUtil.Seconds(viper.GetFloat64("idle-timeout"))
	serveCmdConfig.ReadTimeout = cmdUtil.Seconds(viper.GetFloat64("read-timeout"))
	serveCmdConfig.SendTimeout = cmdUtil.Seconds(viper.GetFloat64("send-timeout"))
	serveCmdConfig.MaxMessage = viper.GetInt("max-message")
	if size := viper.GetInt("read-buffer"); size > 0 {
		serveCmdConfig.Transport.ReadBufferSize = size
	}
	serveCmdConfig.Transport.TCPKeepAlive = cmdUtil.Seconds(viper.GetFloat64("tcp-keepalive"))
	serveCmdConfig.Transport.TCPLingerSec = viper.GetInt("tcp-linger")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.StatsInterval = cmdUtil.Seconds(viper.GetFloat64("stats-interval"))
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	return serveCmdConfig.Validate()
}

// run starts the dLock server and blocks until SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serv := server.NewRPCServer(serveCmdConfig, locktable.NewLockTable())
	return serv.Serve(ctx)
}
