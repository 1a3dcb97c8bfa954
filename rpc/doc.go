// Package rpc provides the network layer of dLock. It carries lock and ping
// requests between clients and the lock server over tcp and unix sockets.
//
// The package is organized into several subpackages:
//
//   - common: Protocol constants, message builders, error codes, configuration
//     structures and logging.
//
//   - serializer: The wire value model and its tnetstring encoding.
//
//   - transport: Framing of messages on stream sockets with idle, read and send
//     timeouts, and the tcp and unix implementations for server and client.
//
//   - client: The lock client used by the command line.
//
//   - server: The lock server, which dispatches requests to adapters and
//     releases the keys of closed connections.
package rpc
