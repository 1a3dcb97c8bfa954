package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dLock/lib/locktable"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/base"
	"math"
	"net"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

type testServer struct {
	*rpcServer
	table  locktable.ILockTable
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// startTestServer starts a server on the given endpoints (default one loopback tcp port)
func startTestServer(t *testing.T, endpoints ...string) *testServer {
	t.Helper()
	if len(endpoints) == 0 {
		endpoints = []string{"127.0.0.1:0"}
	}

	cfg := common.DefaultServerConfig()
	cfg.Endpoints = endpoints
	cfg.IdleTimeout = 5 * time.Second
	cfg.ReadTimeout = 2 * time.Second
	cfg.SendTimeout = 2 * time.Second

	table := locktable.NewLockTable()
	s := NewRPCServer(cfg, table)

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{rpcServer: s, table: table, cancel: cancel, done: make(chan error, 1)}
	go func() { ts.done <- s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case err := <-ts.done:
		t.Fatalf("Server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not become ready")
	}

	t.Cleanup(func() { ts.stop(t) })
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	ts.once.Do(func() {
		ts.cancel()
		select {
		case err := <-ts.done:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Server did not stop")
		}
	})
}

func (ts *testServer) endpoint(i int) string {
	return ts.Addrs()[i].String()
}

func dialClient(t *testing.T, endpoint string) client.ILockClient {
	t.Helper()
	c, err := client.Dial(context.Background(), common.DefaultClientConfig(endpoint))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// declined returns the response of a declined request or fails the test
func declined(t *testing.T, err error) *common.Response {
	t.Helper()
	var d *client.DeclinedError
	if !errors.As(err, &d) {
		t.Fatalf("Expected declined request, got %v", err)
	}
	return d.Response
}

// rawConn speaks the wire protocol directly
type rawConn struct {
	net.Conn
	reader *bufio.Reader
}

func dialRaw(t *testing.T, endpoint string) *rawConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", endpoint, time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &rawConn{Conn: conn, reader: bufio.NewReader(conn)}
}

func (c *rawConn) read(t *testing.T) *common.Response {
	t.Helper()
	v, err := base.ReadMessage(c, c.reader, 2*time.Second, 2*time.Second, common.DefaultMaxMessage)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	resp, err := common.ParseResponse(v)
	if err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	return resp
}

func (c *rawConn) roundTrip(t *testing.T, req serializer.Value) *common.Response {
	t.Helper()
	if sent, err := base.SendMessage(c, req, time.Second); !sent || err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	return c.read(t)
}

func (c *rawConn) expectClosed(t *testing.T) {
	t.Helper()
	_, err := base.ReadMessage(c, c.reader, 2*time.Second, 2*time.Second, common.DefaultMaxMessage)
	if err == nil {
		t.Fatal("Expected the server to close the connection")
	}
	if errors.Is(err, base.ErrIdleTimeout) {
		t.Fatal("Connection is still open")
	}
}

func lockRequest(wait, release, keys serializer.Value) serializer.Value {
	return serializer.List(serializer.Int(common.APIVersion), serializer.String("lock"), wait, release, keys)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestPing(t *testing.T) {
	ts := startTestServer(t)
	c := dialClient(t, ts.endpoint(0))

	for i := 0; i < 3; i++ {
		if err := c.Ping(); err != nil {
			t.Fatalf("Ping %d failed: %v", i, err)
		}
	}
}

// connection 1 holds x, connection 2 waits 0.5s for it and gets an acquire timeout
func TestAcquireTimeoutScenario(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialClient(t, ts.endpoint(0))
	c2 := dialClient(t, ts.endpoint(0))

	if err := c1.Lock([]string{"x"}, 0, 0); err != nil {
		t.Fatalf("Failed to lock x: %v", err)
	}

	start := time.Now()
	err := c2.Lock([]string{"x"}, 500*time.Millisecond, 0)
	elapsed := time.Since(start)

	resp := declined(t, err)
	if resp.Code != common.ErrCAcquireTimeout || resp.Msg != "Acquire timeout" {
		t.Errorf("Unexpected response %s", resp)
	}
	if held := resp.HeldKeys(); !reflect.DeepEqual(held, []string{"x"}) {
		t.Errorf("Expected held keys [x], got %v", held)
	}
	if elapsed < 500*time.Millisecond || elapsed > 900*time.Millisecond {
		t.Errorf("Expected response after ~0.5s, got %s", elapsed)
	}

	// the connection stays open after an acquire timeout
	if err := c2.Ping(); err != nil {
		t.Errorf("Connection closed after acquire timeout: %v", err)
	}
}

// a key locked with release timeout is free again after the timeout, while the owner stays connected
func TestReleaseTimeoutScenario(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialClient(t, ts.endpoint(0))
	c2 := dialClient(t, ts.endpoint(0))

	start := time.Now()
	if err := c1.Lock([]string{"y"}, 0, time.Second); err != nil {
		t.Fatalf("Failed to lock y: %v", err)
	}

	if resp := declined(t, c2.Lock([]string{"y"}, 0, 0)); resp.Code != common.ErrCAcquireTimeout {
		t.Fatalf("Expected acquire timeout, got %s", resp)
	}

	if err := c2.Lock([]string{"y"}, 3*time.Second, 0); err != nil {
		t.Fatalf("Expected y to be released by its timer: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("y was granted after %s, before its release timeout", elapsed)
	}

	// c1 is still connected
	if err := c1.Ping(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

// keys without release timeout are released as soon as the owner disconnects
func TestDisconnectScenario(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialClient(t, ts.endpoint(0))
	c2 := dialClient(t, ts.endpoint(0))

	if err := c1.Lock([]string{"a", "b"}, 0, 0); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	c1.Close()

	start := time.Now()
	if err := c2.Lock([]string{"a", "b"}, 2*time.Second, 0); err != nil {
		t.Fatalf("Expected keys to be released on disconnect: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Keys were released %s after disconnect", elapsed)
	}
}

// only connection owned keys are released on disconnect, timer owned keys stay
func TestDisconnectKeepsTimerOwnedKeys(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialClient(t, ts.endpoint(0))

	if err := c1.Lock([]string{"conn-owned"}, 0, 0); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	if err := c1.Lock([]string{"timer-owned"}, 0, 10*time.Second); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	c1.Close()

	c2 := dialClient(t, ts.endpoint(0))
	if err := c2.Lock([]string{"conn-owned"}, time.Second, 0); err != nil {
		t.Errorf("Expected conn-owned to be released: %v", err)
	}
	resp := declined(t, c2.Lock([]string{"timer-owned"}, 0, 0))
	if !reflect.DeepEqual(resp.HeldKeys(), []string{"timer-owned"}) {
		t.Errorf("Expected timer-owned to stay held, got %s", resp)
	}
}

// a request naming 101 keys is rejected and leaves the table unchanged
func TestTooManyKeysScenario(t *testing.T) {
	ts := startTestServer(t)
	conn := dialRaw(t, ts.endpoint(0))

	keys := make([]string, common.MaxKeys+1)
	for i := range keys {
		keys[i] = fmt.Sprintf("key%d", i)
	}

	resp := conn.roundTrip(t, lockRequest(serializer.Int(0), serializer.Bool(false), serializer.Strings(keys...)))
	if resp.Code != common.ErrCTooManyKeys || resp.Msg != "Attempt to lock too many keys" {
		t.Errorf("Unexpected response %s", resp)
	}
	conn.expectClosed(t)

	if stats := ts.table.Stats(); stats.Keys != 0 {
		t.Errorf("Expected empty table, got %+v", stats)
	}

	// exactly MaxKeys keys are accepted
	c := dialClient(t, ts.endpoint(0))
	if err := c.Lock(keys[:common.MaxKeys], 0, 0); err != nil {
		t.Errorf("Expected %d keys to be accepted: %v", common.MaxKeys, err)
	}
}

// a message exceeding the maximum size closes the connection with a decode error
func TestMessageTooLongScenario(t *testing.T) {
	ts := startTestServer(t)
	c := dialClient(t, ts.endpoint(0))
	if err := c.Lock([]string{"k"}, 0, 0); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}

	conn := dialRaw(t, ts.endpoint(0))
	if _, err := fmt.Fprintf(conn, "%d:", common.DefaultMaxMessage+1); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	resp := conn.read(t)
	if resp.Code != common.ErrCDecode || resp.Msg == "" {
		t.Errorf("Unexpected response %s", resp)
	}
	conn.expectClosed(t)

	if entry, ok := ts.table.Lookup("k"); !ok || entry.Owner == 0 {
		t.Error("Lock table was affected by the oversized message")
	}
}

func TestLockValidation(t *testing.T) {
	ts := startTestServer(t)

	keys := serializer.Strings("k")
	testCases := []struct {
		name string
		req  serializer.Value
		code common.ErrorCode
	}{
		{"missing arguments", serializer.List(serializer.Int(1), serializer.String("lock"), serializer.Int(0)), common.ErrCMalformedRequest},
		{"keys not a list", lockRequest(serializer.Int(0), serializer.Bool(false), serializer.String("k")), common.ErrCMalformedRequest},
		{"no keys", lockRequest(serializer.Int(0), serializer.Bool(false), serializer.List()), common.ErrCMalformedRequest},
		{"negative wait", lockRequest(serializer.Int(-1), serializer.Bool(false), keys), common.ErrCWaitTimeout},
		{"string wait", lockRequest(serializer.String("1"), serializer.Bool(false), keys), common.ErrCWaitTimeout},
		{"bool wait", lockRequest(serializer.Bool(true), serializer.Bool(false), keys), common.ErrCWaitTimeout},
		{"zero release", lockRequest(serializer.Int(0), serializer.Int(0), keys), common.ErrCReleaseTimeout},
		{"negative release", lockRequest(serializer.Int(0), serializer.Float(-0.5), keys), common.ErrCReleaseTimeout},
		{"tiny negative wait", lockRequest(serializer.Float(-1e-10), serializer.Bool(false), keys), common.ErrCWaitTimeout},
		{"infinite negative release", lockRequest(serializer.Int(0), serializer.Float(math.Inf(-1)), keys), common.ErrCReleaseTimeout},
		{"true release", lockRequest(serializer.Int(0), serializer.Bool(true), keys), common.ErrCReleaseTimeout},
		{"string release", lockRequest(serializer.Int(0), serializer.String("5"), keys), common.ErrCReleaseTimeout},
		{"integer key", lockRequest(serializer.Int(0), serializer.Bool(false), serializer.List(serializer.Int(1))), common.ErrCInvalidKey},
		{"empty key", lockRequest(serializer.Int(0), serializer.Bool(false), serializer.Strings("a", "")), common.ErrCInvalidKey},
		{"nested key", lockRequest(serializer.Int(0), serializer.Bool(false), serializer.List(serializer.Strings("a"))), common.ErrCInvalidKey},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialRaw(t, ts.endpoint(0))
			resp := conn.roundTrip(t, tc.req)
			if resp.IsOk() || resp.Code != tc.code {
				t.Errorf("Expected error code %d, got %s", tc.code, resp)
			}
			conn.expectClosed(t)
		})
	}

	if stats := ts.table.Stats(); stats.Keys != 0 {
		t.Errorf("Rejected requests changed the table: %+v", stats)
	}
}

func TestLockAcceptedArguments(t *testing.T) {
	ts := startTestServer(t)

	testCases := []struct {
		name    string
		wait    serializer.Value
		release serializer.Value
	}{
		{"false release", serializer.Int(0), serializer.Bool(false)},
		{"null release", serializer.Float(0.1), serializer.Null()},
		{"float release", serializer.Int(1), serializer.Float(30.5)},
		{"integer release", serializer.Int(0), serializer.Int(60)},
		{"huge wait", serializer.Float(1e10), serializer.Bool(false)},
		{"infinite wait", serializer.Float(math.Inf(1)), serializer.Bool(false)},
		{"huge release", serializer.Int(0), serializer.Float(1e12)},
		{"sub-nanosecond release", serializer.Int(0), serializer.Float(1e-10)},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialRaw(t, ts.endpoint(0))
			resp := conn.roundTrip(t, lockRequest(tc.wait, tc.release, serializer.Strings(fmt.Sprintf("key%d", i))))
			if !resp.IsOk() {
				t.Errorf("Expected ok, got %s", resp)
			}
		})
	}
}

func TestProtocolErrors(t *testing.T) {
	ts := startTestServer(t)

	testCases := []struct {
		name string
		req  serializer.Value
		code common.ErrorCode
		msg  string
	}{
		{"wrong version", serializer.List(serializer.Int(2), serializer.String("ping")), common.ErrCAPIVersion, "Unsupported API version: 2"},
		{"wrong float version", serializer.List(serializer.Float(1.5), serializer.String("ping")), common.ErrCAPIVersion, "Unsupported API version: 1.5"},
		{"string version", serializer.List(serializer.String("1"), serializer.String("ping")), common.ErrCAPIVersion, "Unsupported API version: 1"},
		{"bool version", serializer.List(serializer.Bool(true), serializer.String("ping")), common.ErrCAPIVersion, "Unsupported API version: true"},
		{"unknown type", serializer.List(serializer.Int(1), serializer.String("unlock")), common.ErrCUnknownType, "Unknown message type: 'unlock'"},
		{"numeric type", serializer.List(serializer.Int(1), serializer.Int(7)), common.ErrCUnknownType, "Unknown message type: '7'"},
		{"missing type", serializer.List(serializer.Int(1)), common.ErrCUnknownType, "Unknown message type: 'null'"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialRaw(t, ts.endpoint(0))
			resp := conn.roundTrip(t, tc.req)
			if resp.IsOk() || resp.Code != tc.code {
				t.Errorf("Expected error code %d, got %s", tc.code, resp)
			}
			if resp.Msg != tc.msg {
				t.Errorf("Expected message %q, got %q", tc.msg, resp.Msg)
			}
			conn.expectClosed(t)
		})
	}

	t.Run("float version", func(t *testing.T) {
		conn := dialRaw(t, ts.endpoint(0))
		resp := conn.roundTrip(t, serializer.List(serializer.Float(1.0), serializer.String("ping")))
		if !resp.IsOk() {
			t.Errorf("Expected ok for version 1.0, got %s", resp)
		}
	})

	t.Run("decode error", func(t *testing.T) {
		conn := dialRaw(t, ts.endpoint(0))
		if _, err := conn.Write([]byte("5:hello,")); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		if resp := conn.read(t); resp.Code != common.ErrCDecode {
			t.Errorf("Expected error code 1, got %s", resp)
		}
		conn.expectClosed(t)
	})
}

func TestMultipleRequestsPerConnection(t *testing.T) {
	ts := startTestServer(t)
	c := dialClient(t, ts.endpoint(0))

	for i := 0; i < 10; i++ {
		if err := c.Lock([]string{fmt.Sprintf("k%d", i)}, 0, 0); err != nil {
			t.Fatalf("Lock %d failed: %v", i, err)
		}
	}
	if stats := ts.table.Stats(); stats.Keys != 10 || stats.Owners != 1 {
		t.Errorf("Unexpected table stats %+v", stats)
	}

	c.Close()
	deadline := time.Now().Add(2 * time.Second)
	for ts.table.Stats().Keys != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Keys were not released on disconnect: %+v", ts.table.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMultipleEndpoints(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "dlock.sock")
	ts := startTestServer(t, "127.0.0.1:0", "127.0.0.1:0", "unix:"+socket)

	if len(ts.Addrs()) != 3 {
		t.Fatalf("Expected 3 bound endpoints, got %v", ts.Addrs())
	}

	c1 := dialClient(t, ts.endpoint(0))
	c2 := dialClient(t, ts.endpoint(1))
	c3 := dialClient(t, "unix:"+socket)

	if err := c1.Lock([]string{"shared"}, 0, 0); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	if resp := declined(t, c2.Lock([]string{"shared"}, 0, 0)); resp.Code != common.ErrCAcquireTimeout {
		t.Errorf("Expected acquire timeout on second endpoint, got %s", resp)
	}
	if resp := declined(t, c3.Lock([]string{"shared"}, 0, 0)); resp.Code != common.ErrCAcquireTimeout {
		t.Errorf("Expected acquire timeout on unix endpoint, got %s", resp)
	}
	if err := c3.Ping(); err != nil {
		t.Errorf("Ping over unix socket failed: %v", err)
	}
}

func TestBindFailure(t *testing.T) {
	cfg := common.DefaultServerConfig()
	cfg.Endpoints = []string{"localhost", "unix:"}

	s := NewRPCServer(cfg, locktable.NewLockTable())
	if err := s.Serve(context.Background()); err == nil {
		t.Error("Expected Serve to fail without any bound endpoint")
	}
}

func TestShutdown(t *testing.T) {
	ts := startTestServer(t)
	c1 := dialClient(t, ts.endpoint(0))
	c2 := dialClient(t, ts.endpoint(0))

	if err := c1.Lock([]string{"x"}, 0, 0); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- c2.Lock([]string{"x"}, 30*time.Second, 0)
	}()

	// wait until the request is blocked in the table
	deadline := time.Now().Add(2 * time.Second)
	for ts.table.Stats().Waiters != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Request did not start waiting")
		}
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	ts.stop(t)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown took %s", elapsed)
	}

	select {
	case err := <-result:
		// depending on timing the shutdown response is sent before the connection closes
		var d *client.DeclinedError
		if errors.As(err, &d) {
			if d.Response.Code != common.ErrCDecode {
				t.Errorf("Unexpected response %s", d.Response)
			}
		} else if !errors.Is(err, transport.ErrNoResponse) && !errors.Is(err, transport.ErrReadResponse) {
			t.Errorf("Expected the waiting request to fail, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Waiting request was not aborted by shutdown")
	}

	if stats := ts.table.Stats(); stats.Keys != 0 || stats.Waiters != 0 {
		t.Errorf("Expected all keys released after shutdown, got %+v", stats)
	}
	if n := ts.conns.Size(); n != 0 {
		t.Errorf("Expected no registered connections, got %d", n)
	}
}
