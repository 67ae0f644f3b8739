package mqttv3

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrAlreadyRunning is returned by Run when another Run is active on the client.
var ErrAlreadyRunning = errors.New("dispatch loop already running")

// Client is an MQTT 3.1.1 client.
//
// Publish, Subscribe, Unsubscribe, Ping and Disconnect may be called from any
// goroutine, including from Handler methods, while Run owns the read side.
type Client struct {
	options *clientOptions
	server  ServerConnection

	clientID     string
	cleanSession bool
	will         *Will

	connMu sync.RWMutex
	conn   net.Conn

	// writeMu serialises every write so packets never interleave on the wire.
	writeMu sync.Mutex

	// disconnecting records the intent to disconnect. It is set before
	// DISCONNECT is written and rolled back when the write fails.
	disconnecting atomic.Bool
	running       atomic.Bool

	packetIDs *PacketIDManager
	inflight  *FlowController
	limiter   *rate.Limiter
	metrics   *ClientMetrics
	logger    Logger
	handler   atomic.Pointer[Handler]

	// Log lines wait here until Run hands them to Handler.OnLog.
	logMu    sync.Mutex
	logLines []logLine
	logReady chan struct{}
}

// maxQueuedLogLines bounds the lines waiting for Run. Later lines are dropped.
const maxQueuedLogLines = 1024

type logLine struct {
	level LogLevel
	text  string
}

// Connect opens a TCP connection to host:port and sends CONNECT.
//
// It returns once CONNECT is written. The broker's CONNACK reaches
// Handler.OnConnect through Run.
func Connect(ctx context.Context, host string, port int, opts ...Option) (*Client, error) {
	server := ServerConnection{Scheme: "tcp", Host: host, Port: port}
	return connect(ctx, server, opts...)
}

// Dial is Connect for a broker URI: tcp://host:port, mqtt://, ws://host/path
// or unix:///path. Credentials in the URI are used unless WithCredentials is given.
func Dial(ctx context.Context, uri string, opts ...Option) (*Client, error) {
	server, err := ParseServerURI(uri)
	if err != nil {
		return nil, err
	}
	return connect(ctx, server, opts...)
}

func connect(ctx context.Context, server ServerConnection, opts ...Option) (*Client, error) {
	c, err := newClient(server, opts...)
	if err != nil {
		return nil, err
	}

	if err := c.open(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("connected", LogFields{LogFieldRemoteAddr: c.server.String()})
	return c, nil
}

func newClient(server ServerConnection, opts ...Option) (*Client, error) {
	options := applyOptions(opts...)

	if options.username != "" || options.password != nil {
		server.Username = options.username
		server.Password = options.password
	}

	if options.will != nil {
		if err := options.will.Validate(); err != nil {
			return nil, err
		}
	}

	clientID := options.clientID
	if clientID == "" {
		clientID = generateClientID()
	}

	c := &Client{
		options:      options,
		server:       server,
		clientID:     clientID,
		cleanSession: options.cleanSession,
		will:         options.will.Clone(),
		packetIDs:    NewPacketIDManager(),
		inflight:     NewFlowController(options.maxInflight),
		metrics:      NewClientMetrics(options.metrics),
		logReady:     make(chan struct{}, 1),
	}

	if options.publishLimit != rate.Inf {
		c.limiter = rate.NewLimiter(options.publishLimit, options.publishBurst)
	}

	c.logger = newSinkLogger(options.logger, c.emitLog).WithFields(LogFields{LogFieldClientID: clientID})

	return c, nil
}

// generateClientID returns a 22 character identifier, inside the 23
// characters every MQTT 3.1.1 broker must accept.
func generateClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "mqttv3" + id[:16]
}

// emitLog queues a line for Handler.OnLog while Run is active. Lines from
// any goroutine are delivered by Run, so OnLog never runs concurrently with
// the other Handler methods.
func (c *Client) emitLog(level LogLevel, text string) {
	if c.handler.Load() == nil {
		return
	}

	c.logMu.Lock()
	if len(c.logLines) < maxQueuedLogLines {
		c.logLines = append(c.logLines, logLine{level: level, text: text})
	}
	c.logMu.Unlock()

	select {
	case c.logReady <- struct{}{}:
	default:
	}
}

// flushLogs delivers queued lines in order. It must only be called from Run.
func (c *Client) flushLogs() {
	c.logMu.Lock()
	lines := c.logLines
	c.logLines = nil
	c.logMu.Unlock()

	h := c.handler.Load()
	if h == nil {
		return
	}
	for _, line := range lines {
		(*h).OnLog(line.level, line.text)
	}
}

// ClientID returns the client identifier sent in CONNECT.
func (c *Client) ClientID() string {
	return c.clientID
}

// Server returns the stored broker address and credentials.
func (c *Client) Server() ServerConnection {
	return c.server
}

// IsConnected reports whether a transport is open.
func (c *Client) IsConnected() bool {
	return c.currentConn() != nil
}

// connectPacket builds CONNECT from the stored identity. Keep-alive is 0:
// the client never pings on its own.
func (c *Client) connectPacket() *ConnectPacket {
	return &ConnectPacket{
		ClientID:     c.clientID,
		CleanSession: c.cleanSession,
		Username:     c.server.Username,
		Password:     c.server.Password,
		Will:         c.will,
	}
}

// open dials the stored server and writes CONNECT on the new transport
// before installing it, so no other packet can precede CONNECT.
func (c *Client) open(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return NewConnectionError(c.server.String(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.options.connectTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.options.connectTimeout))
	}
	n, err := WritePacket(conn, c.connectPacket(), c.options.maxPacketSize)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return NewRequestError(PacketCONNECT, 0, err)
	}
	c.metrics.PacketSent(PacketCONNECT, n)

	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()

	if old != nil {
		old.Close()
	}

	c.metrics.ConnectionOpened()
	return nil
}

// Reconnect opens a fresh transport to the stored server and sends a CONNECT
// built from the stored client id, credentials, will and clean session flag.
// With a clean session every outstanding packet identifier is released.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.open(ctx); err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		return NewConnectionError(c.server.String(), err)
	}

	c.disconnecting.Store(false)
	if c.cleanSession {
		c.packetIDs.Reset()
		c.inflight.Reset()
	}

	c.metrics.Reconnected()
	c.logger.Info("reconnected", LogFields{LogFieldRemoteAddr: c.server.String()})
	return nil
}

// Disconnect sends DISCONNECT and closes the transport. Run then reports
// OnDisconnect(DisconnectCodeNormal) and returns nil.
//
// If DISCONNECT cannot be written the intent is rolled back, so Run treats
// the eventual close as unexpected and reconnects.
func (c *Client) Disconnect() error {
	c.disconnecting.Store(true)

	conn, err := c.write(&DisconnectPacket{})
	if err != nil {
		c.disconnecting.Store(false)
		return NewRequestError(PacketDISCONNECT, 0, err)
	}

	c.closeConn(conn)
	c.logger.Info("disconnected", nil)
	return nil
}

func (c *Client) currentConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// closeConn closes conn if it is still the installed transport. A nil conn
// closes whatever is installed.
func (c *Client) closeConn(conn net.Conn) {
	c.connMu.Lock()
	if conn == nil {
		conn = c.conn
	}
	if conn != nil && c.conn == conn {
		c.conn = nil
		c.metrics.ConnectionClosed()
	}
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// write sends one packet under the writer lock and returns the transport it
// went out on.
func (c *Client) write(pkt Packet) (net.Conn, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn := c.currentConn()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if c.options.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.options.writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	n, err := WritePacket(conn, pkt, c.options.maxPacketSize)
	if err != nil {
		return conn, err
	}

	c.metrics.PacketSent(pkt.Type(), n)
	return conn, nil
}

func (c *Client) writePacket(pkt Packet) error {
	_, err := c.write(pkt)
	return err
}

// nextBackoff returns the delay before reconnect attempt+1.
func (c *Client) nextBackoff(attempt int, current time.Duration, err error) time.Duration {
	var next time.Duration
	if c.options.backoffStrategy != nil {
		next = c.options.backoffStrategy(attempt, current, err)
	} else {
		next = current * 2
	}
	if c.options.maxBackoff > 0 && next > c.options.maxBackoff {
		next = c.options.maxBackoff
	}
	return next
}

// reconnectLoop retries Reconnect with bounded exponential backoff. The first
// attempt is immediate.
func (c *Client) reconnectLoop(ctx context.Context) error {
	backoff := c.options.reconnectBackoff

	for attempt := 1; ; attempt++ {
		if c.options.maxReconnects >= 0 && attempt > c.options.maxReconnects {
			c.logger.Error("reconnect attempts exhausted", LogFields{LogFieldAttempt: attempt - 1})
			return ErrReconnectFailed
		}

		err := c.Reconnect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("reconnect failed", LogFields{
			LogFieldAttempt: attempt,
			LogFieldDelay:   backoff.String(),
			LogFieldError:   err,
		})
		c.flushLogs()

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = c.nextBackoff(attempt, backoff, err)
	}
}

