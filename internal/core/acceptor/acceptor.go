// Package acceptor implements the sequential accept → filter → read → print →
// respond → close loop.
package acceptor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"hello_gateway/internal/firewall"
	"hello_gateway/internal/shared"
	"hello_gateway/internal/shared/logger"
	"hello_gateway/internal/shared/settings"
	"hello_gateway/internal/shared/types"
	"hello_gateway/internal/sys/sockopt"
)

// Response is written verbatim to every permitted client.
const Response = "HTTP/1.1 200 OK\r\n\r\nHello, World!\r\n"

// DefaultReadBudget is the size of the single read performed per connection.
const DefaultReadBudget = 4096

var (
	// ErrRejected is returned by Serve when the stop policy ended the loop.
	ErrRejected = errors.New("acceptor: disallowed client, accept loop stopped")
	// ErrListenerClosed is returned by Serve after Close.
	ErrListenerClosed = errors.New("acceptor: listener closed")
	// ErrNotListening is returned by Serve when Listen was never called.
	ErrNotListening = errors.New("acceptor: Serve called before Listen")
)

// Options configures an Acceptor. Zero values fall back to the defaults.
type Options struct {
	ReadBudget  int
	ReadTimeout time.Duration
	Policy      types.RejectPolicy
	Backlog     int
	// Output receives the decoded request bytes. Defaults to os.Stdout.
	Output io.Writer
}

// Acceptor owns the listening socket and services one connection at a time.
type Acceptor struct {
	opts         Options
	listener     net.Listener
	listenerInfo *types.ListenerInfo
	firewall     firewall.Firewall
	reject       RejectStrategy
	log          zerolog.Logger

	accepted atomic.Uint64
	served   atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64
	uplink   atomic.Uint64
	downlink atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates an Acceptor. A nil firewall means the built-in allow-list.
func New(opts Options, fw firewall.Firewall) (*Acceptor, error) {
	if opts.ReadBudget <= 0 {
		opts.ReadBudget = DefaultReadBudget
	}
	if opts.ReadTimeout < 0 {
		return nil, fmt.Errorf("negative read timeout %s", opts.ReadTimeout)
	}
	if opts.Policy == "" {
		opts.Policy = types.PolicyStop
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if fw == nil {
		fw = firewall.NewDefaultEngine()
	}
	reject, err := NewRejectStrategy(opts.Policy)
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		opts:     opts,
		firewall: fw,
		reject:   reject,
		log:      logger.WithComponent("acceptor"),
	}, nil
}

// Listen 创建监听 socket (SO_REUSEADDR, 指定 backlog) 但不阻塞。
// 返回实际监听的端口号，address 端口为 0 时由系统分配。
func (a *Acceptor) Listen(network, address string) (int, error) {
	if a.listener != nil {
		return 0, fmt.Errorf("acceptor already listening on %s", a.listener.Addr())
	}
	l, err := sockopt.Listen(network, address, a.opts.Backlog)
	if err != nil {
		return 0, err
	}
	// 同一时刻最多只处理一个连接
	a.listener = netutil.LimitListener(l, 1)

	tcpAddr, _ := l.Addr().(*net.TCPAddr)
	info := &types.ListenerInfo{Address: l.Addr().String()}
	if tcpAddr != nil {
		info.Address = tcpAddr.IP.String()
		info.Port = tcpAddr.Port
	}
	a.listenerInfo = info
	a.log.Info().
		Str("listen_addr", l.Addr().String()).
		Str("reject_policy", string(a.reject.Policy())).
		Int("read_budget", a.opts.ReadBudget).
		Msg(">>> Acceptor is listening.")
	return info.Port, nil
}

// GetListenerInfo 返回监听信息，Listen 之前为 nil。
func (a *Acceptor) GetListenerInfo() *types.ListenerInfo {
	return a.listenerInfo
}

// Serve runs the accept loop on the calling goroutine until the stop policy
// fires (ErrRejected), Close is called (ErrListenerClosed) or Accept fails.
func (a *Acceptor) Serve() error {
	if a.listener == nil {
		return ErrNotListening
	}
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.closed.Load() || errors.Is(err, net.ErrClosed) {
				a.log.Info().Msg("Acceptor listener is closing.")
				return ErrListenerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				a.log.Warn().Err(err).Msg("Acceptor accept timed out, retrying")
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if stop := a.handleConnection(conn); stop {
			a.Close()
			return ErrRejected
		}
	}
}

// Close shuts the listening socket. It is safe to call more than once.
func (a *Acceptor) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		if a.listener != nil {
			a.closeErr = a.listener.Close()
		}
	})
	return a.closeErr
}

// Metrics returns a snapshot of the loop counters.
func (a *Acceptor) Metrics() types.Metrics {
	return types.Metrics{
		Accepted: a.accepted.Load(),
		Served:   a.served.Load(),
		Rejected: a.rejected.Load(),
		Failed:   a.failed.Load(),
		Traffic: types.TrafficStats{
			Uplink:   a.uplink.Load(),
			Downlink: a.downlink.Load(),
		},
	}
}

// handleConnection services one client and reports whether the loop must stop.
func (a *Acceptor) handleConnection(rawConn net.Conn) (stop bool) {
	conn := shared.NewCountedConn(rawConn)
	defer conn.Close()
	a.accepted.Add(1)

	peer := peerHost(rawConn.RemoteAddr())
	l := a.log.With().
		Str("trace_id", uuid.NewString()).
		Str("client_address", peer).
		Logger()
	l.Info().Msg("Client connected.")
	if _, err := fmt.Fprintf(a.opts.Output, "client_address: %s\n", peer); err != nil {
		l.Warn().Err(err).Msg("Failed to write client address to diagnostic output")
	}

	defer func() {
		stats := conn.Stats()
		a.uplink.Add(stats.Uplink)
		a.downlink.Add(stats.Downlink)
		l.Debug().Uint64("uplink", stats.Uplink).Uint64("downlink", stats.Downlink).Msg("Connection closed.")
	}()

	meta := &firewall.ConnectionMetadata{
		Protocol: "tcp",
		Source:   rawConn.RemoteAddr(),
		Local:    rawConn.LocalAddr(),
	}
	if a.firewall.Check(meta) != settings.ActionAllow {
		a.rejected.Add(1)
		stop, err := a.reject.Reject(conn)
		if err != nil {
			l.Warn().Err(err).Msg("Reject strategy failed")
		}
		l.Warn().Str("reject_policy", string(a.reject.Policy())).Bool("stop", stop).Msg("Client address is not allowed.")
		return stop
	}

	payload, err := a.readRequest(conn)
	if err != nil {
		a.failed.Add(1)
		l.Warn().Err(err).Msg("Failed to read client request")
		return false
	}

	a.printRequest(payload, l)

	if _, err := conn.Write([]byte(Response)); err != nil {
		a.failed.Add(1)
		l.Warn().Err(err).Msg("Failed to write response")
		return false
	}
	a.served.Add(1)
	return false
}

// readRequest performs exactly one read of at most ReadBudget bytes. Anything
// the client sent beyond that stays unread.
func (a *Acceptor) readRequest(conn net.Conn) ([]byte, error) {
	if a.opts.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(a.opts.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}
	buf := make([]byte, a.opts.ReadBudget)
	n, err := conn.Read(buf)
	if err != nil && n == 0 && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// peerHost returns the bare IP of addr, e.g. "192.168.1.10".
func peerHost(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok && tcpAddr != nil {
		return tcpAddr.IP.String()
	}
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (a *Acceptor) printRequest(payload []byte, l zerolog.Logger) {
	text := string(payload)
	if !utf8.ValidString(text) {
		l.Warn().Int("bytes", len(payload)).Msg("Request is not valid UTF-8, replacing invalid sequences.")
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	if _, err := fmt.Fprintln(a.opts.Output, text); err != nil {
		l.Warn().Err(err).Msg("Failed to write request to diagnostic output")
	}
	l.Debug().Int("bytes", len(payload)).Msg("Request received.")
}
