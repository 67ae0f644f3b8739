package mqttv3

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

// ProxyConfig selects a proxy for the broker connection. URL takes the form
// http://host:port, socks5://host:port or socks5h://host:port. Username and
// Password override credentials embedded in the URL.
type ProxyConfig struct {
	URL      string
	Username string
	Password string
}

var defaultProxyPorts = map[string]string{
	"http":    "8080",
	"socks5":  "1080",
	"socks5h": "1080",
}

// ProxyDialer tunnels TCP connections through an HTTP CONNECT or SOCKS5 proxy.
type ProxyDialer struct {
	url  *url.URL
	next proxy.ContextDialer
}

func NewProxyDialer(config ProxyConfig) (*ProxyDialer, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	port, ok := defaultProxyPorts[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported proxy scheme: %q", u.Scheme)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	if config.Username != "" {
		u.User = url.UserPassword(config.Username, config.Password)
	}

	d := &ProxyDialer{url: u}
	forward := &net.Dialer{}
	if u.Scheme == "http" {
		d.next = &connectDialer{proxy: u, forward: forward}
		return d, nil
	}

	socks, err := proxy.FromURL(u, forward)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 proxy: %w", err)
	}
	d.next = socks.(proxy.ContextDialer)
	return d, nil
}

// DialContext connects to addr through the proxy.
func (d *ProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.next.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s via proxy %s: %w", addr, d.url.Redacted(), err)
	}
	return conn, nil
}

// connectDialer opens a tunnel with an HTTP CONNECT request.
type connectDialer struct {
	proxy   *url.URL
	forward *net.Dialer
}

func (c *connectDialer) DialContext(ctx context.Context, _, addr string) (net.Conn, error) {
	conn, err := c.forward.DialContext(ctx, "tcp", c.proxy.Host)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = c.handshake(conn, addr)
	if !stop() {
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *connectDialer) handshake(conn net.Conn, addr string) error {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if user := c.proxy.User; user != nil {
		password, _ := user.Password()
		token := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + password))
		req.Header.Set("Proxy-Authorization", "Basic "+token)
	}

	if err := req.Write(conn); err != nil {
		return err
	}

	// nothing follows the response headers until the broker speaks, so the
	// buffered reader cannot swallow MQTT bytes
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy CONNECT refused: %s", resp.Status)
	}
	return nil
}

// ProxyFromEnvironment picks the proxy for a broker address from HTTP_PROXY
// and NO_PROXY, treating every scheme like http. It returns nil when the
// address is not proxied.
func ProxyFromEnvironment(target *url.URL) (*url.URL, error) {
	return httpproxy.FromEnvironment().ProxyFunc()(&url.URL{Scheme: "http", Host: target.Host})
}
