package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/tcp"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// ErrDeclined is matched by errors.Is for every DeclinedError
var ErrDeclined = errors.New("server declined request")

// DeclinedError is returned when the server answered with an error response
type DeclinedError struct {
	Response *common.Response
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDeclined, e.Response)
}

func (e *DeclinedError) Unwrap() error {
	return ErrDeclined
}

// NewClientTransport creates an unconnected transport for the endpoint of the configuration
func NewClientTransport(config common.ClientConfig) (transport.IRPCClientTransport, error) {
	ep, err := transport.ParseEndpoint(config.Endpoint)
	if err != nil {
		return nil, err
	}
	if ep.Network == transport.NetworkUnix {
		return unix.NewUnixClientTransport(ep.Address), nil
	}
	return tcp.NewTCPClientTransport(ep.Address), nil
}

// Dial connects to the endpoint of the configuration and returns a lock client
func Dial(ctx context.Context, config common.ClientConfig) (ILockClient, error) {
	t, err := NewClientTransport(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrConnect, err)
	}
	return NewRPCLockClient(ctx, config, t)
}

// invokeRPCRequest is a helper function used by the client to send requests.
// It returns the parsed response if it is an ok response. Error responses are
// returned as *DeclinedError, transport failures wrap the transport errors.
func invokeRPCRequest(req serializer.Value, t transport.IRPCClientTransport) (*common.Response, error) {
	// Send the request and wait for the response
	respValue, err := t.Send(req)
	if err != nil {
		return nil, err
	}

	// Parse the response
	resp, err := common.ParseResponse(respValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrReadResponse, err)
	}

	// Check if the response is an error response
	if !resp.IsOk() {
		return resp, &DeclinedError{Response: resp}
	}

	return resp, nil
}
