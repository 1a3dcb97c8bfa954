package util

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"math"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// Exit codes of the client commands
const (
	ExitOk             = 0
	ExitConnect        = 1 // also used for interrupts and usage errors
	ExitSend           = 2
	ExitNoResponse     = 3
	ExitReadResponse   = 4
	ExitServerDeclined = 5
)

// ExitError makes the process exit with Code. Err has already been reported
// when the error is returned and may be nil.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ClientExitCode maps a client error to the exit code of the client commands
func ClientExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOk
	case errors.Is(err, client.ErrDeclined):
		return ExitServerDeclined
	case errors.Is(err, transport.ErrReadResponse):
		return ExitReadResponse
	case errors.Is(err, transport.ErrNoResponse):
		return ExitNoResponse
	case errors.Is(err, transport.ErrSend):
		return ExitSend
	default:
		return ExitConnect
	}
}

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// Seconds converts a number of seconds as given on the command line to a duration
func Seconds(seconds float64) time.Duration {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	if seconds >= math.MaxInt64/float64(time.Second) {
		return math.MaxInt64
	}
	return time.Duration(seconds * float64(time.Second))
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "connect"
	cmd.Flags().String(key, "localhost:7000", WrapString("Address of the lock server (host:port, unix:/path or /path)"))

	key = "connect-timeout"
	cmd.Flags().Float64(key, 10, WrapString("Maximum time in seconds to establish the connection with the server"))

	key = "idle-timeout"
	cmd.Flags().Float64(key, 10, WrapString("Maximum time in seconds to wait for the beginning of the server response"))

	key = "read-timeout"
	cmd.Flags().Float64(key, 10, WrapString("Maximum time in seconds to receive a single message"))

	key = "send-timeout"
	cmd.Flags().Float64(key, 10, WrapString("Maximum time in seconds to send a single message"))

	key = "max-message"
	cmd.Flags().Int(key, common.DefaultMaxMessage, WrapString("Maximum message length accepted by the client. If the server sends more, the client disconnects"))

	key = "read-buffer"
	cmd.Flags().Int(key, -1, WrapString("Read buffer size for sockets in bytes (-1 for the default)"))
}

// InitConfig loads .env files and sets up environment variable lookup
// (DLOCK_<FLAG>, e.g. DLOCK_IDLE_TIMEOUT=15)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dlock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig(viper.GetString("connect"))
	conf.ConnectTimeout = Seconds(viper.GetFloat64("connect-timeout"))
	conf.IdleTimeout = Seconds(viper.GetFloat64("idle-timeout"))
	conf.ReadTimeout = Seconds(viper.GetFloat64("read-timeout"))
	conf.SendTimeout = Seconds(viper.GetFloat64("send-timeout"))
	conf.MaxMessage = viper.GetInt("max-message")
	if size := viper.GetInt("read-buffer"); size > 0 {
		conf.Transport.ReadBufferSize = size
	}
	return conf
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
