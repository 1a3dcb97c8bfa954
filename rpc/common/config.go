package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultServerIdleTimeout = 60 * time.Second
	DefaultClientIdleTimeout = 10 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultSendTimeout       = 10 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultMaxMessage        = 128 * 1024
	DefaultTCPKeepAlive      = 8 * time.Second
)

// --------------------------------------------------------------------------
// Socket configuration structs (shared by server and client)
// --------------------------------------------------------------------------

// SocketConf holds options that apply to all stream sockets
type SocketConf struct {
	// ReadBufferSize is the size of the user space read buffer and the
	// kernel receive buffer. 0 keeps the defaults.
	ReadBufferSize int
}

// TCPConf holds TCP specific socket options
type TCPConf struct {
	// TCPKeepAlive is the keep-alive period, 0 disables keep-alive
	TCPKeepAlive time.Duration
	// TCPLingerSec is passed to SetLinger when >= 0, negative keeps the OS default
	TCPLingerSec int
	// TCPNoDelay disables Nagle's algorithm
	TCPNoDelay bool
}

// TransportConf bundles the socket options of a connection
type TransportConf struct {
	SocketConf
	TCPConf
}

// DefaultTransportConf returns the socket options used when nothing is configured
func DefaultTransportConf() TransportConf {
	return TransportConf{
		TCPConf: TCPConf{
			TCPKeepAlive: DefaultTCPKeepAlive,
			TCPLingerSec: -1,
			TCPNoDelay:   true,
		},
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a lock server.
type ServerConfig struct {
	// Endpoints the server listens on, e.g. "0.0.0.0:7000" or "unix:/tmp/dlock.sock"
	Endpoints []string

	// Per connection limits
	IdleTimeout time.Duration // time to wait for the first byte of a request
	ReadTimeout time.Duration // time to receive the rest of a request
	SendTimeout time.Duration // time to send one response
	MaxMessage  int           // largest accepted request in bytes (payload length)

	// Socket options
	Transport TransportConf

	// Observability
	MetricsEndpoint string        // address of the Prometheus endpoint, empty disables it
	StatsInterval   time.Duration // interval of the stats log line, 0 disables it

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a server configuration with default limits and no endpoints
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		IdleTimeout: DefaultServerIdleTimeout,
		ReadTimeout: DefaultReadTimeout,
		SendTimeout: DefaultSendTimeout,
		MaxMessage:  DefaultMaxMessage,
		Transport:   DefaultTransportConf(),
		LogLevel:    "info",
	}
}

// Validate checks the configuration for values the server cannot work with
func (c *ServerConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one bind endpoint is required")
	}
	for _, endpoint := range c.Endpoints {
		if strings.TrimSpace(endpoint) == "" {
			return fmt.Errorf("empty bind endpoint in %q", strings.Join(c.Endpoints, ","))
		}
	}
	if c.MaxMessage <= 0 {
		return fmt.Errorf("max message size must be > 0, got %d", c.MaxMessage)
	}
	if c.IdleTimeout < 0 || c.ReadTimeout < 0 || c.SendTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Listener settings
	addSection("Lock Server")
	for i, endpoint := range c.Endpoints {
		addField("Endpoint "+strconv.Itoa(i), endpoint)
	}
	addField("Idle Timeout", formatTimeout(c.IdleTimeout))
	addField("Read Timeout", formatTimeout(c.ReadTimeout))
	addField("Send Timeout", formatTimeout(c.SendTimeout))
	addField("Max Message", fmt.Sprintf("%d bytes", c.MaxMessage))

	// Socket options
	addSection("Sockets")
	addField("Read Buffer", formatBuffer(c.Transport.ReadBufferSize))
	addField("TCP Keep-Alive", formatTimeout(c.Transport.TCPKeepAlive))
	addField("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))

	// Observability
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "disabled")
	}
	addField("Stats Interval", formatTimeout(c.StatsInterval))

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the connection parameters of a lock client
type ClientConfig struct {
	Endpoint       string
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration // time to wait for the first byte of a response
	ReadTimeout    time.Duration // time to receive the rest of a response
	SendTimeout    time.Duration
	MaxMessage     int
	Transport      TransportConf
}

// DefaultClientConfig returns a client configuration for the given endpoint
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:       endpoint,
		ConnectTimeout: DefaultConnectTimeout,
		IdleTimeout:    DefaultClientIdleTimeout,
		ReadTimeout:    DefaultReadTimeout,
		SendTimeout:    DefaultSendTimeout,
		MaxMessage:     DefaultMaxMessage,
		Transport:      DefaultTransportConf(),
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Connect Timeout", formatTimeout(c.ConnectTimeout))
	addField("Idle Timeout", formatTimeout(c.IdleTimeout))
	addField("Read Timeout", formatTimeout(c.ReadTimeout))
	addField("Send Timeout", formatTimeout(c.SendTimeout))
	addField("Max Message", fmt.Sprintf("%d bytes", c.MaxMessage))
	addField("Read Buffer", formatBuffer(c.Transport.ReadBufferSize))

	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return "disabled"
	}
	return d.String()
}

func formatBuffer(size int) string {
	if size <= 0 {
		return "default"
	}
	return fmt.Sprintf("%d bytes", size)
}
