// Package common provides core data structures and utilities shared across
// the dLock server, client and command line tool. It defines the protocol
// messages, configuration structures and logging used by other packages.
//
// The package focuses on:
//   - Message protocol definition (request layout, response layout, error codes)
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Requests: every request is a list starting with the API version and the
//     message type. NewLockRequest and NewPingRequest build them.
//
//	[1, "lock", wait_timeout, release_timeout, [key, ...]]
//	[1, "ping"]
//
//   - Responses: ["ok"] or ["error", code, message, extra...]. ParseResponse
//     turns a decoded value into a typed Response.
//
//   - ErrorCode: numeric error codes. 1-99 are protocol errors, 100-119 lock
//     request validation errors and 120-139 lock errors for valid input.
//
//   - ServerConfig: configuration of a lock server (endpoints, per connection
//     timeouts, message size limit, socket options, observability).
//
//   - ClientConfig: configuration of a lock client connection.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger factory while providing consistent formatting across the application.
package common
