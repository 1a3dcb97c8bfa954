package lock

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
)

var (
	Logger = logger.GetLogger("cmd")

	// LockCmd locks keys on the server and runs a command while holding them
	LockCmd = &cobra.Command{
		Use:   "lock [flags] -- [command [args...]]",
		Short: "Lock keys on the server and execute a command",
		Long: `Lock keys on the server and execute a command.

All keys are locked at once. Keys locked without --lock-release stay locked
as long as the connection to the server is open, which is until the command
exits. With --lock-release the server releases the keys after that many
seconds, regardless of the connection.

Exit codes: 0 success (or the exit code of the command), 1 connection failure
or interrupt, 2 send failure, 3 no response, 4 error reading the response,
5 server declined the request (e.g. acquire timeout).`,
		Args:    cobra.ArbitraryArgs,
		PreRunE: setupLockCmd,
		RunE:    runLock,
	}

	// PingCmd checks that a server is alive
	PingCmd = &cobra.Command{
		Use:     "ping",
		Short:   "Check that the server is alive",
		Args:    cobra.NoArgs,
		PreRunE: setupLockCmd,
		RunE:    runPing,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Stop flag parsing at the command to execute
	LockCmd.Flags().SetInterspersed(false)

	util.SetupRPCClientFlags(LockCmd)
	util.SetupRPCClientFlags(PingCmd)

	key := "keys"
	LockCmd.Flags().StringSlice(key, nil, util.WrapString("Comma-separated list of keys to lock"))

	key = "auto-key"
	LockCmd.Flags().String(key, "", util.WrapString("Prepend this string to the full command including all arguments and use it as key. Appends to --keys"))

	key = "lock-wait"
	LockCmd.Flags().Float64(key, 0, util.WrapString("Maximum time in seconds to wait for keys held by others"))

	key = "lock-release"
	LockCmd.Flags().Float64(key, 0, util.WrapString("Tell the server to hold the keys for exactly this many seconds. No implicit unlocking at disconnect is performed (0 disables it)"))

	key = "fork-sleep"
	LockCmd.Flags().Float64(key, 0, util.WrapString("Run the command as a child process and hold the keys for at least this many seconds"))

	for _, cmd := range []*cobra.Command{LockCmd, PingCmd} {
		cmd.Flags().String("log-level", "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	}
}

// setupLockCmd binds the flags and initializes logging
func setupLockCmd(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// buildKeys returns the keys to lock. The auto key is the prefix followed by
// the command joined by spaces.
func buildKeys(keys []string, autoKey string, command []string) ([]string, error) {
	result := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			result = append(result, key)
		}
	}
	if autoKey != "" {
		if len(command) == 0 {
			return nil, errors.New("--auto-key requires a command")
		}
		result = append(result, autoKey+strings.Join(command, " "))
	}
	if len(result) == 0 {
		return nil, errors.New("no keys to lock, use --keys or --auto-key")
	}
	return result, nil
}

// exitOnInterrupt makes SIGINT and SIGTERM exit the process with ExitConnect
func exitOnInterrupt() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			Logger.Errorf("Interrupted by %s", sig)
			os.Exit(util.ExitConnect)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}
}

// runLock handles the lock command
func runLock(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	keys, err := buildKeys(viper.GetStringSlice("keys"), viper.GetString("auto-key"), args)
	if err != nil {
		return err
	}
	if viper.GetFloat64("lock-release") < 0 {
		return fmt.Errorf("--lock-release must be >= 0")
	}
	wait := util.Seconds(viper.GetFloat64("lock-wait"))
	release := util.Seconds(viper.GetFloat64("lock-release"))
	hold := util.Seconds(viper.GetFloat64("fork-sleep"))

	stop := exitOnInterrupt()
	defer stop()

	config := util.GetClientConfig()
	Logger.Debugf("%s", config.String())

	c, err := client.Dial(context.Background(), config)
	if err != nil {
		Logger.Errorf("Could not connect to server: %v", err)
		return &util.ExitError{Code: util.ExitConnect, Err: err}
	}
	defer c.Close()

	if err := c.Lock(keys, wait, release); err != nil {
		var declined *client.DeclinedError
		if errors.As(err, &declined) {
			Logger.Errorf("Did not acquire locks. Response: %s", declined.Response)
		} else {
			Logger.Errorf("Lock request failed: %v", err)
		}
		return &util.ExitError{Code: util.ClientExitCode(err), Err: err}
	}
	Logger.Debugf("Locked %v", keys)

	// Hold the keys while the child runs (or for hold without a command)
	if hold > 0 || len(args) == 0 {
		code, err := runAndHold(args, hold)
		if err != nil {
			Logger.Errorf("Failed to run command: %v", err)
			return &util.ExitError{Code: util.ExitConnect, Err: err}
		}
		if code != 0 {
			return &util.ExitError{Code: code}
		}
		return nil
	}

	// Replace the process with the command, the connection stays open in the new image
	stop()
	conn, err := c.File()
	if err != nil {
		Logger.Warningf("Cannot pass the connection to the command, running it as a child: %v", err)
	}
	Logger.Debugf("Exec command %v", args)
	code, err := execCommand(conn, args)
	if err != nil {
		Logger.Errorf("Failed to execute command: %v", err)
		return &util.ExitError{Code: util.ExitConnect, Err: err}
	}
	if code != 0 {
		return &util.ExitError{Code: code}
	}
	return nil
}

// runPing handles the ping command
func runPing(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	stop := exitOnInterrupt()
	defer stop()

	c, err := client.Dial(context.Background(), util.GetClientConfig())
	if err != nil {
		Logger.Errorf("Could not connect to server: %v", err)
		return &util.ExitError{Code: util.ExitConnect, Err: err}
	}
	defer c.Close()

	if err := c.Ping(); err != nil {
		Logger.Errorf("Ping failed: %v", err)
		return &util.ExitError{Code: util.ClientExitCode(err), Err: err}
	}
	fmt.Println("ok")
	return nil
}
