// Package transport defines the interfaces and abstractions for moving dLock
// messages between client and server. It provides a common contract that all
// transport implementations fulfill, so the server and client do not depend on
// the network type.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - One handler per connection on the server side, driven by the transport
//   - Endpoint parsing (tcp host:port or unix socket path)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transports. One request,
//     one response. Errors wrap ErrConnect, ErrSend, ErrNoResponse or
//     ErrReadResponse so callers can tell the failing step apart.
//
//   - IRPCServerTransport: Interface for server-side transports that accept
//     connections on one endpoint and pass decoded requests to an IConnHandler.
//
//   - ServerHandleFunc: Factory for per connection handlers.
//
//   - Endpoint / ParseEndpoint: "unix:/path" or "/path" select the unix
//     transport, "host:port" or "tcp:host:port" the tcp transport.
package transport
