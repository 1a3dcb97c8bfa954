// Package server implements the dLock lock server on top of the RPC transports.
// It binds one or more endpoints, registers every accepted connection and
// dispatches decoded requests to adapters by message type.
//
// The package focuses on:
//   - Per connection state (Conn) with the keys the connection owns
//   - Adapter pattern to decouple request validation from the lock table
//   - Releasing connection owned keys when a connection closes
//   - Graceful shutdown that aborts waiting lock requests
//
// Key Components:
//
//   - IRPCServerAdapter: Interface for message type handlers. Handle returns the
//     response and whether the connection stays open.
//
//   - NewLockServerAdapter: Validates lock requests and acquires the keys in the
//     shared locktable.ILockTable. Keys locked with a release timeout are released
//     by a timer, all other keys when the connection closes.
//
//   - NewPingServerAdapter: Answers ping requests.
//
//   - NewRPCServer: Creates a server for a common.ServerConfig. Each endpoint is
//     served by the tcp or unix transport, all of them share one lock table.
//
// Request handling:
//
//	[1, "ping"]                          -> ["ok"]
//	[1, "lock", wait, release, keys]     -> ["ok"] | ["error", 120, "Acquire timeout", held]
//	anything invalid                     -> ["error", code, message], connection closed
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	config.Endpoints = []string{"0.0.0.0:7000", "unix:/run/dlock.sock"}
//
//	s := server.NewRPCServer(config, locktable.NewLockTable())
//	if err := s.Serve(ctx); err != nil {
//		log.Fatal(err)
//	}
package server
