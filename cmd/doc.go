// Package cmd implements the command-line interface of dLock. It provides a
// hierarchical command structure for running the lock server and for locking
// keys as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Command for starting and configuring the dLock server
//   - lock: Commands for locking keys while running a command (lock) and for
//     checking that a server is alive (ping)
//   - util: Shared utilities for command-line processing, configuration and exit codes (internal use)
//
// See dlock -help for a list of all commands.
package cmd
