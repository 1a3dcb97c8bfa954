// Package base provides the foundation of the dLock transports, implementing
// message framing and the connection handling independent of the specific
// network protocol (TCP, Unix sockets). Protocol-specific packages only supply
// connectors.
//
// The package focuses on:
//   - Length prefixed framing of tnetstring messages with size limits
//   - Three independent timeouts per message: idle (first byte), read (rest of
//     the message) and send (one response)
//   - A per connection request loop with guaranteed cleanup
//
// Key Components:
//
//   - ReadMessage: Reads one message. The length prefix is at most 10 digits
//     followed by ':'; a prefix larger than the size limit is rejected before
//     the payload is read. A clean disconnect before the first byte is reported
//     as io.EOF, decode failures as one of the Err* sentinels.
//
//   - SendMessage: Writes one message. A peer that went away is reported as
//     false without error, everything else as error.
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific
//     operations (dial, listen, socket options).
//
//   - serverTransport: Accepts connections and runs one goroutine per
//     connection. Requests of a connection are handled strictly in order.
//     Decode errors are answered with an error response (code 1) and close the
//     connection; timeouts and transport errors close it silently.
//
//   - clientTransport: A single connection that sends one request and reads
//     exactly one response at a time.
//
// Thread Safety:
//
//	The client transport serializes requests with a mutex. The server creates a
//	dedicated goroutine for each connection; the handler of a connection is never
//	called concurrently.
package base
