package mqttv3

import (
	"context"
	"net"
	"time"
)

// Dialer opens the byte stream a client speaks MQTT over.
//
// The address comes from ServerConnection.Address: host:port for tcp, the
// full URL for ws and the socket path for unix.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// Dial calls f(ctx, address).
func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// TCPDialer connects to brokers over TCP, optionally through a proxy.
type TCPDialer struct {
	// Timeout bounds the dial. Zero leaves it to the context.
	Timeout time.Duration

	// Proxy, when set, tunnels the connection.
	Proxy *ProxyDialer
}

// Dial connects to host:port.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	if d.Proxy != nil {
		return d.Proxy.DialContext(ctx, "tcp", address)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}
