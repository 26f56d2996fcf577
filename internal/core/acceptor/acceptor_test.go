package acceptor

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"hello_gateway/internal/firewall"
	"hello_gateway/internal/shared"
	"hello_gateway/internal/shared/settings"
	"hello_gateway/internal/shared/types"
)

type testServer struct {
	acceptor *Acceptor
	output   *shared.ThreadSafeBuffer
	addr     string
	done     chan error
}

// newTestServer listens on a loopback port but does not start serving yet, so
// tests can queue client data before the first Accept.
func newTestServer(t *testing.T, opts Options, fw firewall.Firewall) *testServer {
	t.Helper()
	out := shared.NewThreadSafeBuffer()
	opts.Output = out
	a, err := New(opts, fw)
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	port, err := a.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() returned an error: %v", err)
	}
	if port == 0 {
		t.Fatal("Listen() returned port 0")
	}
	ts := &testServer{
		acceptor: a,
		output:   out,
		addr:     net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		done:     make(chan error, 1),
	}
	t.Cleanup(func() { a.Close() })
	return ts
}

func (ts *testServer) start() {
	go func() { ts.done <- ts.acceptor.Serve() }()
}

func (ts *testServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-ts.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return in time")
		return nil
	}
}

// dumped is what the diagnostic output holds after serving requests from loopback.
func dumped(requests ...string) string {
	var sb strings.Builder
	for _, r := range requests {
		sb.WriteString("client_address: 127.0.0.1\n")
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	return sb.String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp4", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResponse(t *testing.T, conn net.Conn, want string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make([]byte, len(want))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if string(got) != want {
		t.Fatalf("Expected response %q, got %q", want, got)
	}
}

func expectClosedWithoutData(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(make([]byte, 64))
	if n != 0 {
		t.Fatalf("Expected no data, got %d bytes", n)
	}
	if err == nil {
		t.Fatal("Expected the connection to be closed")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatal("Expected the connection to be closed, but the read timed out")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// loopbackDenied only admits 192.168/16, so the test client on 127.0.0.1 is refused.
func loopbackDenied(t *testing.T) *firewall.Engine {
	t.Helper()
	engine := firewall.NewEngine()
	err := engine.OnSettingsUpdate("firewall", &settings.FirewallSettings{
		Enabled: true,
		Rules: []*settings.FirewallRule{
			{Priority: 1, SourceCIDR: []string{"192.168.0.0/16"}, Action: settings.ActionAllow},
		},
	})
	if err != nil {
		t.Fatalf("OnSettingsUpdate() returned an error: %v", err)
	}
	return engine
}

func TestServe_AllowedClientGetsFixedResponse(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	request := "GET / HTTP/1.1\r\nHost: localhost:8888\r\n\r\n"

	conn := dial(t, ts.addr)
	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	ts.start()

	readResponse(t, conn, Response)
	expectClosedWithoutData(t, conn)

	waitFor(t, func() bool { return ts.acceptor.Metrics().Served == 1 })
	if got := ts.output.String(); got != dumped(request) {
		t.Errorf("Expected request to be printed verbatim, got %q", got)
	}

	ts.acceptor.Close()
	if err := ts.wait(t); !errors.Is(err, ErrListenerClosed) {
		t.Errorf("Expected ErrListenerClosed, got %v", err)
	}
}

func TestServe_ResponseBytesExact(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)

	conn := dial(t, ts.addr)
	conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	ts.start()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	raw, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	// 整个连接上只有这一段字节，之后就是 EOF
	if want := []byte("HTTP/1.1 200 OK\r\n\r\nHello, World!\r\n"); !bytes.Equal(raw, want) {
		t.Errorf("Expected wire bytes %q, got %q", want, raw)
	}
}

func TestServe_ReadBudgetTruncates(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	payload := bytes.Repeat([]byte("abcdefgh"), 1024) // 8192 bytes

	conn := dial(t, ts.addr)
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	ts.start()

	readResponse(t, conn, Response)
	waitFor(t, func() bool { return ts.acceptor.Metrics().Served == 1 })

	printed := strings.TrimSuffix(strings.TrimPrefix(ts.output.String(), "client_address: 127.0.0.1\n"), "\n")
	if len(printed) != DefaultReadBudget {
		t.Fatalf("Expected %d bytes printed, got %d", DefaultReadBudget, len(printed))
	}
	if printed != string(payload[:DefaultReadBudget]) {
		t.Error("Printed bytes are not the first read budget of the payload")
	}
	if up := ts.acceptor.Metrics().Traffic.Uplink; up != DefaultReadBudget {
		t.Errorf("Expected uplink %d, got %d", DefaultReadBudget, up)
	}
}

func TestServe_CustomReadBudget(t *testing.T) {
	ts := newTestServer(t, Options{ReadBudget: 5}, nil)

	conn := dial(t, ts.addr)
	conn.Write([]byte("hello world"))
	ts.start()

	readResponse(t, conn, Response)
	waitFor(t, func() bool { return ts.acceptor.Metrics().Served == 1 })
	if got := ts.output.String(); got != dumped("hello") {
		t.Errorf("Expected 'hello', got %q", got)
	}
}

func TestServe_EmptyRequestStillAnswered(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)

	conn := dial(t, ts.addr)
	conn.(*net.TCPConn).CloseWrite()
	ts.start()

	readResponse(t, conn, Response)
	waitFor(t, func() bool { return ts.acceptor.Metrics().Served == 1 })
	if got := ts.output.String(); got != dumped("") {
		t.Errorf("Expected an empty line, got %q", got)
	}
}

func TestServe_InvalidUTF8IsReplaced(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)

	conn := dial(t, ts.addr)
	conn.Write([]byte{'o', 'k', 0xff, 0xfe})
	ts.start()

	readResponse(t, conn, Response)
	waitFor(t, func() bool { return ts.acceptor.Metrics().Served == 1 })
	if got := ts.output.String(); got != dumped("ok\uFFFD") {
		t.Errorf("Unexpected printed text %q", got)
	}
}

func TestServe_StopPolicyEndsLoop(t *testing.T) {
	ts := newTestServer(t, Options{Policy: types.PolicyStop}, loopbackDenied(t))
	ts.start()

	conn := dial(t, ts.addr)
	conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))

	if err := ts.wait(t); !errors.Is(err, ErrRejected) {
		t.Fatalf("Expected ErrRejected, got %v", err)
	}
	expectClosedWithoutData(t, conn)

	if _, err := net.DialTimeout("tcp4", ts.addr, time.Second); err == nil {
		t.Error("Expected further connections to be refused after the loop stopped")
	}
	m := ts.acceptor.Metrics()
	if m.Rejected != 1 || m.Served != 0 {
		t.Errorf("Unexpected metrics: %+v", m)
	}
	if got := ts.output.String(); got != "client_address: 127.0.0.1\n" {
		t.Errorf("Rejected request must not be printed, got %q", got)
	}
}

func TestServe_DropPolicyKeepsServing(t *testing.T) {
	engine := loopbackDenied(t)
	ts := newTestServer(t, Options{Policy: types.PolicyDrop}, engine)
	ts.start()

	rejected := dial(t, ts.addr)
	expectClosedWithoutData(t, rejected)
	waitFor(t, func() bool { return ts.acceptor.Metrics().Rejected == 1 })

	// 热重载允许列表后，同一个客户端地址可以被服务
	if err := engine.OnSettingsUpdate("firewall", settings.DefaultAllowList()); err != nil {
		t.Fatalf("OnSettingsUpdate() returned an error: %v", err)
	}
	allowed := dial(t, ts.addr)
	allowed.Write([]byte("ping"))
	readResponse(t, allowed, Response)

	ts.acceptor.Close()
	if err := ts.wait(t); !errors.Is(err, ErrListenerClosed) {
		t.Errorf("Expected ErrListenerClosed, got %v", err)
	}
}

func TestServe_ReplyPolicySendsDenial(t *testing.T) {
	ts := newTestServer(t, Options{Policy: types.PolicyReply}, loopbackDenied(t))
	ts.start()

	for i := 0; i < 2; i++ {
		conn := dial(t, ts.addr)
		readResponse(t, conn, DenialResponse)
	}
	waitFor(t, func() bool { return ts.acceptor.Metrics().Rejected == 2 })
}

func TestServe_ReadTimeoutDropsSilentClient(t *testing.T) {
	ts := newTestServer(t, Options{ReadTimeout: 100 * time.Millisecond}, nil)
	ts.start()

	silent := dial(t, ts.addr)
	expectClosedWithoutData(t, silent)
	waitFor(t, func() bool { return ts.acceptor.Metrics().Failed == 1 })

	next := dial(t, ts.addr)
	next.Write([]byte("hi"))
	readResponse(t, next, Response)
}

func TestServe_OneConnectionAtATime(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	ts.start()

	first := dial(t, ts.addr)
	waitFor(t, func() bool { return ts.acceptor.Metrics().Accepted == 1 })

	second := dial(t, ts.addr)
	second.Write([]byte("second"))

	// 第一个连接阻塞在读取上，第二个连接不会得到任何响应
	second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if n, err := second.Read(make([]byte, 1)); n != 0 || err == nil {
		t.Fatalf("Second client was serviced while the first was pending (n=%d, err=%v)", n, err)
	}

	first.Write([]byte("first"))
	readResponse(t, first, Response)
	readResponse(t, second, Response)

	waitFor(t, func() bool { return ts.acceptor.Metrics().Served == 2 })
	if got := ts.output.String(); got != dumped("first", "second") {
		t.Errorf("Expected requests in accept order, got %q", got)
	}
}

func TestServe_BeforeListen(t *testing.T) {
	a, err := New(Options{}, nil)
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	if err := a.Serve(); !errors.Is(err, ErrNotListening) {
		t.Errorf("Expected ErrNotListening, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() without a listener returned %v", err)
	}
}

func TestListen_Twice(t *testing.T) {
	ts := newTestServer(t, Options{}, nil)
	if _, err := ts.acceptor.Listen("tcp4", "127.0.0.1:0"); err == nil {
		t.Error("Expected an error when listening twice")
	}
	info := ts.acceptor.GetListenerInfo()
	if info == nil || info.Address != "127.0.0.1" || info.Port == 0 {
		t.Errorf("Unexpected listener info: %+v", info)
	}
}

func TestNew_RejectsBadOptions(t *testing.T) {
	if _, err := New(Options{Policy: "explode"}, nil); err == nil {
		t.Error("Expected an error for an unknown policy")
	}
	if _, err := New(Options{ReadTimeout: -time.Second}, nil); err == nil {
		t.Error("Expected an error for a negative timeout")
	}
}

func TestPeerHost(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.168.1.10"), Port: 12345}
	if got := peerHost(addr); got != "192.168.1.10" {
		t.Errorf("peerHost() = %q", got)
	}
	if got := peerHost(nil); got != "" {
		t.Errorf("peerHost(nil) = %q", got)
	}
}
