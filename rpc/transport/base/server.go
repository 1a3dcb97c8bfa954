package base

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"io"
	"net"
	"runtime/debug"
	"sync"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener for the address and returns it
	Listen(address string, config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector IServerConnector
	handler   transport.ServerHandleFunc
	config    common.ServerConfig
	listener  net.Listener
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport using the given connector
func NewBaseServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(address string, config common.ServerConfig) (net.Addr, error) {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(address, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s listener on %s: %w", t.connector.GetName(), address, err)
	}
	t.listener = listener

	return listener.Addr(), nil
}

func (t *serverTransport) Serve(ctx context.Context) error {
	if t.listener == nil {
		return fmt.Errorf("serve called before listen")
	}
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	Logger.Infof("Accepting %s connections on %s", t.connector.GetName(), t.listener.Addr())

	// Close the listener on shutdown, this unblocks Accept
	stop := context.AfterFunc(ctx, func() {
		t.listener.Close()
	})
	defer stop()
	defer t.listener.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	// Accept connections
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				Logger.Infof("Stopped accepting %s connections on %s", t.connector.GetName(), t.listener.Addr())
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				Logger.Warningf("Accept error on %s: %v", t.listener.Addr(), err)
				continue
			}
			return fmt.Errorf("accept failed on %s: %w", t.listener.Addr(), err)
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to apply socket options to %s: %v", conn.RemoteAddr(), err)
		}

		// Handle the connection in a goroutine
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.handleConnection(conn)
		}()
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection runs the request loop of one connection until it is closed.
// Requests are handled one after another.
func (t *serverTransport) handleConnection(conn net.Conn) {
	peer := peerName(conn)
	var handler transport.IConnHandler

	// cleanup runs on every exit path, including panics while creating the handler
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("[%s] panic while handling connection: %v\n%s", peer, r, debug.Stack())
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			Logger.Debugf("[%s] error closing connection: %v", peer, err)
		}
		if handler != nil {
			handler.Close()
		}
	}()

	handler = t.handler(conn)

	bufSize := t.config.Transport.ReadBufferSize
	if bufSize <= 0 {
		bufSize = defaultReadBufferSize
	}
	reader := bufio.NewReaderSize(conn, bufSize)

	for {
		req, err := ReadMessage(conn, reader, t.config.IdleTimeout, t.config.ReadTimeout, t.config.MaxMessage)

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Debugf("[%s] connection closed by client", peer)
			return
		}

		if errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrReadTimeout) {
			Logger.Infof("[%s] %v, closing connection", peer, err)
			return
		}

		// Case decode error: report to client and close connection
		if IsDecodeError(err) {
			Logger.Warningf("[%s] invalid message: %v", peer, err)
			if _, sendErr := SendMessage(conn, common.NewErrorResponse(common.ErrCDecode, err.Error()), t.config.SendTimeout); sendErr != nil {
				Logger.Debugf("[%s] failed to send error response: %v", peer, sendErr)
			}
			return
		}

		// Case error: log and close connection
		if err != nil {
			Logger.Warningf("[%s] error reading request: %v", peer, err)
			return
		}

		resp, keepOpen := handler.Handle(req)

		sent, err := SendMessage(conn, resp, t.config.SendTimeout)
		if err != nil {
			Logger.Errorf("[%s] failed to send response: %v", peer, err)
			return
		}
		if !sent {
			Logger.Infof("[%s] client went away before the response was sent", peer)
			return
		}
		if !keepOpen {
			return
		}
	}
}

// peerName returns a printable name of the remote end of a connection
func peerName(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return conn.LocalAddr().Network()
}
