package transport

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"net"
	"os"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IConnHandler handles the requests of a single connection.
// The transport calls Handle for every decoded request, one at a time, and
// Close exactly once after the connection was closed, on every exit path.
type IConnHandler interface {
	// Handle processes one request and returns the response.
	// If keepOpen is false the connection is closed after the response was sent.
	Handle(req serializer.Value) (resp serializer.Value, keepOpen bool)

	// Close releases everything the connection still holds
	Close()
}

// ServerHandleFunc creates the handler of a newly accepted connection
type ServerHandleFunc func(conn net.Conn) IConnHandler

// IRPCServerTransport is the interface for the server side of a transport.
// One transport serves exactly one endpoint.
type IRPCServerTransport interface {
	// RegisterHandler registers the factory for connection handlers.
	// It must be called before Serve.
	RegisterHandler(handler ServerHandleFunc)

	// Listen binds the address and returns the bound address
	Listen(address string, config common.ServerConfig) (net.Addr, error)

	// Serve accepts connections until the context is cancelled or the listener fails.
	// After Serve returned the listener is closed. Open connections are not touched.
	Serve(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// Errors returned by client transports. Each one corresponds to one step of a request.
var (
	ErrConnect      = errors.New("could not connect to server")
	ErrSend         = errors.New("failed to send message")
	ErrNoResponse   = errors.New("no response")
	ErrReadResponse = errors.New("error while reading response")
)

// IRPCClientTransport is the interface for the client side of a transport
type IRPCClientTransport interface {
	// Connect establishes the connection, bounded by config.ConnectTimeout
	Connect(ctx context.Context, config common.ClientConfig) error

	// Send sends one request and waits for exactly one response
	Send(req serializer.Value) (resp serializer.Value, err error)

	// File returns a duplicate of the connection's file descriptor. Closing the
	// file does not close the connection, keeping it open does keep the
	// connection alive on the server side.
	File() (*os.File, error)

	// Close closes the connection
	Close() error
}
