package server

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/locktable"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"net"
	"time"
)

// Conn is the server side state of one client connection
type Conn struct {
	ID        locktable.ConnID
	Peer      string    // remote address, used as the lock entry handle
	Connected time.Time // when the connection was accepted

	ctx     context.Context // cancelled when the connection closes or the server shuts down
	cancel  context.CancelFunc
	netConn net.Conn

	// keys granted without release timeout, released when the connection closes
	owned []string
}

// Context returns the context of the connection. It is cancelled when the
// connection is closed or the server shuts down.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// addOwned records connection owned keys. Only the handler goroutine of the
// connection touches this list.
func (c *Conn) addOwned(keys []string) {
	c.owned = append(c.owned, keys...)
}

// forceClose closes the network connection and cancels pending requests
func (c *Conn) forceClose() {
	c.cancel()
	c.netConn.Close()
}

// --------------------------------------------------------------------------
// Connection Handler (implements transport.IConnHandler)
// --------------------------------------------------------------------------

type connHandler struct {
	server *rpcServer
	conn   *Conn
}

func (h *connHandler) Handle(req serializer.Value) (serializer.Value, bool) {
	conn := h.conn
	Logger.Debugf("[conn %d] received %s", conn.ID, req)

	// Check API version, 1 and 1.0 are the same version
	if version, ok := req.Index(0).AsNumber(); !ok || version != common.APIVersion {
		Logger.Warningf("[conn %d] unsupported API version %s", conn.ID, req.Index(0))
		h.server.stats.ProtocolError()
		return common.NewErrorResponse(common.ErrCAPIVersion,
			fmt.Sprintf("Unsupported API version: %s", plainText(req.Index(0)))), false
	}

	// Dispatch to the adapter of the message type
	msgType, _ := req.Index(1).AsString()
	adapter, ok := h.server.adapters[common.MessageType(msgType)]
	if !ok {
		Logger.Warningf("[conn %d] unknown message type %s", conn.ID, req.Index(1))
		h.server.stats.ProtocolError()
		return common.NewErrorResponse(common.ErrCUnknownType,
			fmt.Sprintf("Unknown message type: '%s'", plainText(req.Index(1)))), false
	}

	return adapter.Handle(req, conn)
}

// plainText renders a request element for error messages, strings without quotes
func plainText(v serializer.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return v.String()
}

func (h *connHandler) Close() {
	conn := h.conn
	conn.cancel()
	h.server.conns.Delete(conn.ID)

	if len(conn.owned) > 0 {
		Logger.Debugf("[conn %d] releasing %d key(s) on disconnect", conn.ID, len(conn.owned))
		h.server.table.Release(conn.ID, conn.owned)
		conn.owned = nil
	}

	h.server.stats.ConnClosed()
	Logger.Debugf("[conn %d] closed after %s", conn.ID, time.Since(conn.Connected).Round(time.Millisecond))
}
