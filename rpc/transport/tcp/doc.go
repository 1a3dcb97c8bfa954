// Package tcp implements the TCP socket transport of the dLock protocol. It
// provides concrete implementations of the base package's connector interfaces.
//
// This package builds on the base package's transport functionality (framing,
// timeouts, per connection request loop). See the base package documentation
// for details.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Socket Options:
//
//	Accepted and dialed connections are tuned from common.TransportConf:
//	keep-alive (idle time from TCPKeepAlive, 5s probe interval, 2 probes),
//	Nagle's algorithm (TCPNoDelay), kernel read buffer (ReadBufferSize) and
//	linger (TCPLingerSec, negative keeps the OS default).
package tcp
