package base

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net"
	"os"
	"sync"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	defaultReadBufferSize = 4 * 1024 // 4 KB
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the address, bounded by the context
	Connect(ctx context.Context, address string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector IClientConnector
	address   string
	config    common.ClientConfig
	conn      net.Conn
	reader    *bufio.Reader
	mu        sync.Mutex // Serializes requests, the protocol has no request ids
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector.
// The address is passed to the connector unchanged.
func NewBaseClientTransport(connector IClientConnector, address string) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
		address:   address,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(ctx context.Context, config common.ClientConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("already connected to %s", t.address)
	}
	t.config = config

	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	conn, err := t.connector.Connect(ctx, t.address)
	if err != nil {
		return fmt.Errorf("%w %s: %v", transport.ErrConnect, t.address, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, config); err != nil {
		Logger.Warningf("Failed to apply socket options to connection to %s: %v", t.address, err)
	}

	bufSize := config.Transport.ReadBufferSize
	if bufSize <= 0 {
		bufSize = defaultReadBufferSize
	}
	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, bufSize)

	Logger.Debugf("Connected to %s using %s transport", t.address, t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(req serializer.Value) (serializer.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return serializer.Value{}, fmt.Errorf("%w: not connected", transport.ErrSend)
	}

	sent, err := SendMessage(t.conn, req, t.config.SendTimeout)
	if err != nil {
		return serializer.Value{}, fmt.Errorf("%w: %v", transport.ErrSend, err)
	}
	if !sent {
		return serializer.Value{}, fmt.Errorf("%w within timeout", transport.ErrSend)
	}

	resp, err := ReadMessage(t.conn, t.reader, t.config.IdleTimeout, t.config.ReadTimeout, t.config.MaxMessage)
	if errors.Is(err, io.EOF) {
		return serializer.Value{}, transport.ErrNoResponse
	}
	if err != nil {
		return serializer.Value{}, fmt.Errorf("%w: %v", transport.ErrReadResponse, err)
	}
	return resp, nil
}

func (t *clientTransport) File() (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, fmt.Errorf("not connected to %s", t.address)
	}
	fc, ok := t.conn.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, fmt.Errorf("%s connection has no file descriptor", t.connector.GetName())
	}
	return fc.File()
}

func (t *clientTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	return err
}
