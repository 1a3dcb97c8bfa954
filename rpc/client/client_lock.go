package client

import (
	"context"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"os"
	"time"
)

// ILockClient is a connection to a lock server. Locks granted without release
// timeout are held until the client is closed.
type ILockClient interface {
	// Lock requests all keys at once. wait bounds how long the server waits for
	// held keys, release > 0 makes the server release the keys after that time
	// instead of on disconnect.
	// If the server declines, the error is a *DeclinedError; for an acquire
	// timeout its Response lists the keys that were held.
	Lock(keys []string, wait, release time.Duration) error

	// Ping checks that the server is alive
	Ping() error

	// File returns a duplicate of the connection's file descriptor. The keys
	// stay locked as long as either the client or the file is open, which lets
	// a process hand its locks to a command it executes.
	File() (*os.File, error)

	// Close closes the connection, which releases all keys locked without release timeout
	Close() error
}

// NewRPCLockClient connects the transport and returns a lock client using it
func NewRPCLockClient(
	ctx context.Context,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
) (ILockClient, error) {

	// Connect the transport
	if err := transport.Connect(ctx, config); err != nil {
		return nil, err
	}

	return &rpcLockClient{
		config:    config,
		transport: transport,
	}, nil
}

type rpcLockClient struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ILockClient)
// --------------------------------------------------------------------------

func (c *rpcLockClient) Lock(keys []string, wait, release time.Duration) error {
	req := common.NewLockRequest(wait, release, keys)
	Logger.Debugf("Sending lock request %s", req)
	_, err := invokeRPCRequest(req, c.transport)
	return err
}

func (c *rpcLockClient) Ping() error {
	_, err := invokeRPCRequest(common.NewPingRequest(), c.transport)
	return err
}

func (c *rpcLockClient) File() (*os.File, error) {
	return c.transport.File()
}

func (c *rpcLockClient) Close() error {
	return c.transport.Close()
}
