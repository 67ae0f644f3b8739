package mqttv3

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is negotiated during the handshake.
const WebSocketSubprotocol = "mqtt"

// WSConn is a net.Conn over a WebSocket. Outbound writes become one binary
// message each. Inbound messages are read as one continuous stream, so a
// packet may span several messages and a message may hold several packets.
type WSConn struct {
	*websocket.Conn
	msg io.Reader
}

var _ net.Conn = (*WSConn)(nil)

func (c *WSConn) Read(b []byte) (int, error) {
	for {
		if c.msg == nil {
			kind, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				return 0, ErrProtocolViolation
			}
			c.msg = r
		}

		n, err := c.msg.Read(b)
		if errors.Is(err, io.EOF) {
			c.msg = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *WSConn) Write(b []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *WSConn) SetDeadline(t time.Time) error {
	return errors.Join(c.SetReadDeadline(t), c.SetWriteDeadline(t))
}

// WSDialer opens ws:// and wss:// broker connections.
type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header // sent with the handshake request
}

// NewWSDialer offers the MQTT subprotocol. A non-nil proxy carries the
// handshake connection.
func NewWSDialer(proxy *ProxyDialer) *WSDialer {
	d := &websocket.Dialer{
		Subprotocols:     []string{WebSocketSubprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	if proxy != nil {
		d.NetDialContext = proxy.DialContext
	}
	return &WSDialer{Dialer: d}
}

func (d *WSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, address, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &WSConn{Conn: ws}, nil
}
