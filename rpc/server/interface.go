package server

import (
	"github.com/ValentinKolb/dLock/rpc/serializer"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// Each adapter handles one message type.
type IRPCServerAdapter interface {
	// Handle handles a request of a connection and returns the response.
	// The request has already passed the API version check.
	// If keepOpen is false the connection is closed after the response was sent.
	Handle(req serializer.Value, conn *Conn) (resp serializer.Value, keepOpen bool)
}
