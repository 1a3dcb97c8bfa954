// Package unix implements the dLock protocol over Unix domain sockets, for
// clients running on the same machine as the server.
//
// This package extends the base transport layer with Unix socket-specific connectors
// while inheriting framing, timeouts and the per connection request loop from the
// base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners. A stale socket file left
//     by a previous server is removed before binding; any other existing file
//     makes Listen fail.
package unix
