package mqttv3

import (
	"context"
	"errors"
	"net"
)

// ErrEmptySocketPath is returned when a unix:// address carries no path.
var ErrEmptySocketPath = errors.New("unix socket path is empty")

// UnixDialer connects to brokers listening on a Unix domain socket, such as
// a broker sidecar sharing a volume with the client.
type UnixDialer struct{}

// NewUnixDialer returns a dialer for unix:// addresses.
func NewUnixDialer() *UnixDialer {
	return &UnixDialer{}
}

// Dial connects to the socket file at path.
func (d *UnixDialer) Dial(ctx context.Context, path string) (net.Conn, error) {
	if path == "" {
		return nil, ErrEmptySocketPath
	}

	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", path)
}
