package server

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/locktable"
	"github.com/ValentinKolb/dLock/lib/stats"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/tcp"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new lock server.
// All endpoints of the configuration share the given lock table.
//
// Usage:
//
//	s := server.NewRPCServer(config, locktable.NewLockTable())
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(config common.ServerConfig, table locktable.ILockTable) *rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &rpcServer{
		config: config,
		table:  table,
		conns:  xsync.NewMapOf[locktable.ConnID, *Conn](),
		ready:  make(chan struct{}),
	}
	s.stats = stats.NewCollector(table, s.conns.Size)
	s.adapters = map[common.MessageType]IRPCServerAdapter{
		common.MsgTLock: NewLockServerAdapter(table, s.stats),
		common.MsgTPing: NewPingServerAdapter(s.stats),
	}

	return s
}

type rpcServer struct {
	config   common.ServerConfig
	table    locktable.ILockTable
	stats    *stats.Collector
	adapters map[common.MessageType]IRPCServerAdapter

	// open connections, used for shutdown and the active connection gauge
	conns   *xsync.MapOf[locktable.ConnID, *Conn]
	connSeq atomic.Uint64

	// lifetime of the server, set by Serve
	ctx context.Context

	ready chan struct{} // closed once all endpoints are bound
	addrs []net.Addr
}

// Ready is closed once Serve has bound its endpoints
func (s *rpcServer) Ready() <-chan struct{} {
	return s.ready
}

// Addrs returns the bound addresses. It must only be called after Ready was closed.
func (s *rpcServer) Addrs() []net.Addr {
	return s.addrs
}

// Stats returns the metrics collector of the server
func (s *rpcServer) Stats() *stats.Collector {
	return s.stats
}

// Serve binds all endpoints and serves connections until the context is cancelled.
// Endpoints that fail to bind are logged and skipped; if none can be bound Serve
// returns an error. On cancellation all listeners and connections are closed,
// waiting lock requests are aborted, and Serve returns nil once every
// connection handler has finished.
func (s *rpcServer) Serve(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	Logger.Infof("Starting dLock server")
	Logger.Infof(s.config.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	// Bind all endpoints
	var transports []transport.IRPCServerTransport
	for _, endpoint := range s.config.Endpoints {
		t, addr, err := s.listen(endpoint)
		if err != nil {
			Logger.Errorf("Failed to bind %s: %v", endpoint, err)
			continue
		}
		transports = append(transports, t)
		s.addrs = append(s.addrs, addr)
	}
	if len(transports) == 0 {
		return fmt.Errorf("failed to bind any of the endpoints %v", s.config.Endpoints)
	}

	// Observability
	if s.config.MetricsEndpoint != "" {
		if _, _, err := s.stats.ServeMetrics(ctx, s.config.MetricsEndpoint); err != nil {
			Logger.Errorf("Metrics disabled: %v", err)
		}
	}
	go s.stats.RunReporter(ctx, s.config.StatsInterval)

	close(s.ready)

	// Serve all endpoints
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.IRPCServerTransport) {
			defer wg.Done()
			if err := t.Serve(ctx); err != nil {
				Logger.Errorf("Listener stopped: %v", err)
			}
		}(t)
	}

	<-ctx.Done()
	Logger.Infof("Shutting down, closing %d connection(s)", s.conns.Size())
	s.closeConnections()
	wg.Wait()

	Logger.Infof("Server stopped")
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// listen creates the transport for an endpoint and binds it
func (s *rpcServer) listen(endpoint string) (transport.IRPCServerTransport, net.Addr, error) {
	ep, err := transport.ParseEndpoint(endpoint)
	if err != nil {
		return nil, nil, err
	}

	var t transport.IRPCServerTransport
	switch ep.Network {
	case transport.NetworkUnix:
		t = unix.NewUnixServerTransport()
	default:
		t = tcp.NewTCPServerTransport()
	}
	t.RegisterHandler(s.newConnHandler)

	addr, err := t.Listen(ep.Address, s.config)
	if err != nil {
		return nil, nil, err
	}
	return t, addr, nil
}

// newConnHandler registers a new connection and creates its handler
func (s *rpcServer) newConnHandler(netConn net.Conn) transport.IConnHandler {
	ctx, cancel := context.WithCancel(s.ctx)
	conn := &Conn{
		ID:        locktable.ConnID(s.connSeq.Add(1)),
		Peer:      peerAddr(netConn),
		Connected: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		netConn:   netConn,
	}
	s.conns.Store(conn.ID, conn)
	s.stats.ConnOpened()

	// shutdown may have started between Accept and Store
	if s.ctx.Err() != nil {
		conn.forceClose()
	}

	Logger.Debugf("[conn %d] connected from %s", conn.ID, conn.Peer)
	return &connHandler{server: s, conn: conn}
}

// closeConnections force closes all open connections
func (s *rpcServer) closeConnections() {
	s.conns.Range(func(id locktable.ConnID, conn *Conn) bool {
		conn.forceClose()
		return true
	})
}

// peerAddr returns the remote address of a connection, unix socket peers are usually unnamed
func peerAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return "local:" + conn.LocalAddr().String()
}
