// Package client implements the client side of the dLock protocol.
//
// The package focuses on:
//   - One connection per client, one request and one response at a time
//   - Errors that tell apart the failing step, so command line tools can map
//     them to distinct exit codes
//
// Key Components:
//
//   - ILockClient: Lock, Ping, File and Close on a connected client. Locks
//     acquired without release timeout live as long as the connection, or a
//     duplicate of its file descriptor obtained with File.
//
//   - Dial: Creates the transport for the configured endpoint (tcp or unix
//     socket) and connects it within the connect timeout.
//
//   - DeclinedError: The server answered with an error response. errors.Is(err,
//     ErrDeclined) matches it; the typed Response carries code, message and,
//     for acquire timeouts, the held keys.
//
// Errors of the transport (see the transport package) are passed through:
// transport.ErrConnect, transport.ErrSend, transport.ErrNoResponse and
// transport.ErrReadResponse.
//
// Usage Example:
//
//	cfg := common.DefaultClientConfig("localhost:7000")
//	c, err := client.Dial(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if err := c.Lock([]string{"backup:db1"}, 5*time.Second, 0); err != nil {
//	    var declined *client.DeclinedError
//	    if errors.As(err, &declined) {
//	        fmt.Println("held:", declined.Response.HeldKeys())
//	    }
//	    return err
//	}
//	// ... keys are held until c.Close()
package client
