package npu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hallgate/edinbridge/internal/infrastructure/logging"
)

// ConnState describes the session's connection lifecycle.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAwaitingReady
	StateOnline
)

// String returns the state name for logging and health reporting.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateOnline:
		return "online"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config holds the per-gateway settings for a Session.
type Config struct {
	// Host is the NPU hostname or IP. The TCP session uses Host:TCPPort,
	// discovery uses http://Host/.
	Host    string
	TCPPort int

	// UseSceneProxy routes single-channel commands through matching
	// single-channel scenes when the discovery pass found one.
	UseSceneProxy bool

	// PulseTime is the default relay pulse duration.
	PulseTime time.Duration

	// Keep-alive watchdog tuning. A keep-alive is sent every Interval;
	// the acknowledgement must arrive within Timeout (+Grace for an ack
	// observed from a previous probe). MaxFailures consecutive misses
	// force the connection closed so the receive loop reconnects.
	KeepAliveInterval    time.Duration
	KeepAliveTimeout     time.Duration
	KeepAliveGrace       time.Duration
	KeepAliveMaxFailures int

	// Reconnect backoff bounds. The delay starts at ReconnectDelay,
	// doubles per failed attempt and is capped at MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// SystemInfoInterval is how often the poller re-reads the HTTP
	// configuration endpoints to detect configuration changes.
	SystemInfoInterval time.Duration

	// Dialer and HTTPClient are optional overrides for tests.
	Dialer     Dialer
	HTTPClient *http.Client
}

// tcpAddress returns the gateway TCP endpoint. A Host carrying an
// explicit HTTP port (host:port form) is reduced to its host part
// before the TCP port is appended.
func (c Config) tcpAddress() string {
	host := c.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.JoinHostPort(host, strconv.Itoa(c.TCPPort))
}

// Stats is a snapshot of session counters.
type Stats struct {
	FramesReceived uint64
	CommandsSent   uint64
	Reconnects     uint64
	Errors         uint64
}

// Session manages the TCP connection to one NPU gateway plus the
// discovered device entities.
//
// Thread safety: all exported methods are safe for concurrent use. The
// receive loop is the only reader of the TCP stream.
type Session struct {
	cfg    Config
	log    *logging.Logger
	dialer Dialer
	http   *http.Client

	mu             sync.RWMutex
	conn           net.Conn
	reader         *bufio.Reader
	state          ConnState
	reconnectDelay time.Duration
	started        bool

	// Discovery results, swapped atomically under mu on rediscovery.
	fingerprint systemID
	version     string
	areas       map[int]string
	dimmers     []*Dimmer
	relays      []*Relay
	pulses      []*RelayPulse
	sensors     []*BinarySensor
	keypads     []*Keypad
	scenes      []*Scene
	proxies     map[string]SceneProxy

	// Unix-nano timestamps written by the dispatcher, read by the watchdog.
	lastMessage      atomic.Int64
	lastKeepaliveAck atomic.Int64

	// kaFailures is owned by the watchdog goroutine.
	kaFailures int

	framesReceived atomic.Uint64
	commandsSent   atomic.Uint64
	reconnects     atomic.Uint64
	errorCount     atomic.Uint64

	events      eventDispatcher
	discoveryCb eventDispatcher

	stop   chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

// NewSession creates a session for the configured gateway. The session
// does not connect until Start is called.
func NewSession(cfg Config, log *logging.Logger) *Session {
	if log == nil {
		log = logging.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: handshakeTimeout}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Session{
		cfg:            cfg,
		log:            log.With("gateway", cfg.Host),
		dialer:         dialer,
		http:           httpClient,
		state:          StateDisconnected,
		reconnectDelay: cfg.ReconnectDelay,
		areas:          make(map[int]string),
		proxies:        make(map[string]SceneProxy),
	}
}

// Start connects to the gateway and launches the background loops.
// It is idempotent: calling Start on a running session is a no-op.
//
// The connection is established asynchronously by the receive loop, so
// Start returns immediately. Use TestConnection for a synchronous
// reachability check.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stop = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.reconnectDelay = s.cfg.ReconnectDelay
	s.mu.Unlock()

	s.log.Debug("starting session loops",
		"tcp_port", s.cfg.TCPPort,
		"use_scene_proxy", s.cfg.UseSceneProxy,
		"keepalive_interval", s.cfg.KeepAliveInterval,
		"systeminfo_interval", s.cfg.SystemInfoInterval)

	s.wg.Add(3)
	go s.receiveLoop()
	go s.watchdogLoop()
	go s.pollerLoop()

	return nil
}

// Stop shuts down the background loops and closes the TCP connection.
// It is idempotent and blocks until all loops have exited.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.cancel()
	conn := s.conn
	s.conn = nil
	s.reader = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		// A connection left open counts against the NPU's TCP session limit.
		if err := conn.Close(); err != nil {
			s.log.Warn("connection not closed cleanly on stop", "error", err)
		}
	}

	s.wg.Wait()
	s.log.Info("session stopped")
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Online reports whether the session has completed the gateway handshake.
func (s *Session) Online() bool {
	return s.State() == StateOnline
}

// Version returns the NPU firmware version, if one has been reported.
func (s *Session) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SerialNumber returns the NPU serial number from the last discovery pass.
func (s *Session) SerialNumber() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint.Serial
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesReceived: s.framesReceived.Load(),
		CommandsSent:   s.commandsSent.Load(),
		Reconnects:     s.reconnects.Load(),
		Errors:         s.errorCount.Load(),
	}
}

// LastMessageAt returns the arrival time of the most recent frame, or the
// zero time if nothing has been received yet.
func (s *Session) LastMessageAt() time.Time {
	ns := s.lastMessage.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Send transmits one command to the gateway. The command must already
// carry its ';' terminator. Returns ErrNotConnected when the session has
// not completed the handshake.
func (s *Session) Send(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	conn := s.conn
	state := s.state
	s.mu.RUnlock()

	if conn == nil || state != StateOnline {
		return ErrNotConnected
	}

	s.log.Debug("tcp tx", "command", command)
	if err := writeCommand(conn, command); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("send %q: %w", command, err)
	}
	s.commandsSent.Add(1)
	return nil
}

// send is the commandSender hook used by entities.
func (s *Session) send(ctx context.Context, command string) error {
	return s.Send(ctx, command)
}

// sceneProxyFor looks up the scene proxy for an output channel. Returns
// false when proxying is disabled or no single-channel scene matches.
func (s *Session) sceneProxyFor(address, channel int) (SceneProxy, bool) {
	if !s.cfg.UseSceneProxy {
		return SceneProxy{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	proxy, ok := s.proxies[proxyKey(address, channel)]
	return proxy, ok
}

// pulseTime returns the configured relay pulse duration.
func (s *Session) pulseTime() time.Duration {
	if s.cfg.PulseTime <= 0 {
		return time.Second
	}
	return s.cfg.PulseTime
}

func (s *Session) logger() *logging.Logger {
	return s.log
}

// stopped reports whether Stop has been requested.
func (s *Session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// receiveLoop is the sole reader of the TCP stream. It re-establishes
// the connection whenever the reader hits EOF or errors, and dispatches
// every complete frame.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	for {
		if s.stopped() {
			return
		}
		if !s.ensureConnected() {
			return
		}

		line, err := s.readFrame()
		if err != nil {
			if s.stopped() {
				return
			}
			s.log.Error("tcp read error, reconnecting", "error", err)
			s.errorCount.Add(1)
			s.teardown()
			continue
		}
		if line == "" {
			// EOF: remote closed the stream.
			if s.stopped() {
				return
			}
			s.log.Warn("tcp stream closed by gateway, reconnecting")
			s.teardown()
			continue
		}

		s.handleFrame(line)
	}
}

// readFrame reads one ';'-terminated, newline-delimited frame. Returns
// ("", nil) on a clean EOF.
func (s *Session) readFrame() (string, error) {
	s.mu.RLock()
	reader := s.reader
	s.mu.RUnlock()

	if reader == nil {
		return "", ErrNotConnected
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		if line == "" && errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ensureConnected blocks until the session is online or Stop is
// requested. Returns false when stopping.
//
// Each attempt dials, registers for events with $EVENTS,1; and waits for
// the !GATRDY; handshake. Failed attempts back off exponentially up to
// the configured maximum; a successful handshake resets the delay.
func (s *Session) ensureConnected() bool {
	s.mu.RLock()
	online := s.state == StateOnline && s.conn != nil
	s.mu.RUnlock()
	if online {
		return true
	}

	addr := s.cfg.tcpAddress()

	for {
		if s.stopped() {
			return false
		}

		s.setState(StateConnecting)
		s.log.Debug("establishing tcp connection", "address", addr)

		if s.connectOnce(addr) {
			return true
		}
		if s.stopped() {
			return false
		}

		s.mu.Lock()
		delay := s.reconnectDelay
		s.reconnectDelay = nextBackoff(s.reconnectDelay, s.cfg.MaxReconnectDelay)
		s.mu.Unlock()

		s.log.Info("retrying tcp connection", "delay", delay)
		select {
		case <-s.stop:
			return false
		case <-time.After(delay):
		}
	}
}

// connectOnce performs a single dial + handshake attempt.
func (s *Session) connectOnce(addr string) bool {
	conn, err := s.dialer.DialContext(s.ctx, "tcp", addr)
	if err != nil {
		s.log.Error("unable to establish tcp connection", "error", err)
		s.errorCount.Add(1)
		return false
	}

	reader := bufio.NewReader(conn)

	s.mu.Lock()
	s.conn = conn
	s.reader = reader
	s.state = StateAwaitingReady
	s.mu.Unlock()

	if err := writeCommand(conn, cmdRegisterEvents); err != nil {
		s.log.Error("event registration failed", "error", err)
		s.teardown()
		return false
	}

	// The handshake reply must arrive promptly; a silent NPU here usually
	// means its TCP session table is exhausted and it needs a reboot.
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	line, err := reader.ReadString('\n')
	_ = conn.SetReadDeadline(time.Time{})

	reply := strings.TrimSpace(line)
	switch {
	case err != nil || reply == "":
		s.log.Error("no response from gateway after event registration; " +
			"restart the NPU (Configuration -> Tools -> Reinitialise system -> Reboot system) if the problem persists")
		s.teardown()
		return false
	case reply == replyGatewayReady:
		s.mu.Lock()
		s.state = StateOnline
		s.reconnectDelay = s.cfg.ReconnectDelay
		s.mu.Unlock()
		s.reconnects.Add(1)
		s.lastMessage.Store(time.Now().UnixNano())
		s.log.Info("tcp connection established", "handshake", reply)
		return true
	default:
		s.log.Error("gateway not ready", "reply", reply)
		s.errorCount.Add(1)
		s.teardown()
		return false
	}
}

// teardown closes the current connection and marks the session
// disconnected. Safe to call from any goroutine.
func (s *Session) teardown() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.reader = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// setState updates the connection state under lock.
func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// nextBackoff doubles the reconnect delay up to the cap.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		return max
	}
	return next
}
