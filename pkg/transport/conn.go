package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/registration"
	"github.com/m2mlink/m2m-go/pkg/security"
)

// Connection errors. They wrap the registration sentinels so that
// registration.KindOf classifies them.
var (
	ErrConnectionClosed  = fmt.Errorf("%w: connection closed", registration.ErrNetwork)
	ErrNotConnected      = fmt.Errorf("%w: not connected", registration.ErrNetwork)
	ErrUnsupportedScheme = fmt.Errorf("%w: unsupported server URI scheme", registration.ErrInvalidParameters)
)

// Local port range used for certificate mode when no port is configured.
const (
	RandomPortMin = 12345
	RandomPortMax = 65535
)

// Conn carries whole protocol messages in both directions.
type Conn interface {
	// ReadMessage blocks until a message arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one message. Safe for concurrent use.
	WriteMessage(data []byte) error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// StreamConn frames messages over a TCP or TLS connection.
type StreamConn struct {
	conn   net.Conn
	framer *Framer

	closeOnce sync.Once
}

// NewStreamConn wraps a stream connection.
func NewStreamConn(conn net.Conn, maxSize uint32) *StreamConn {
	return &StreamConn{conn: conn, framer: NewFramer(conn, maxSize)}
}

// SetLogger enables frame logging.
func (c *StreamConn) SetLogger(logger log.Logger, connID string) {
	c.framer.SetLogger(logger, connID)
}

func (c *StreamConn) ReadMessage() ([]byte, error)   { return c.framer.ReadFrame() }
func (c *StreamConn) WriteMessage(data []byte) error { return c.framer.WriteFrame(data) }
func (c *StreamConn) LocalAddr() net.Addr            { return c.conn.LocalAddr() }
func (c *StreamConn) RemoteAddr() net.Addr           { return c.conn.RemoteAddr() }

// Close closes the underlying connection. Later calls return nil.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

// PacketConn sends one message per datagram over a connected UDP socket.
type PacketConn struct {
	conn    net.Conn
	maxSize uint32
	buf     []byte
	log     frameLog

	closeOnce sync.Once
}

// NewPacketConn wraps a connected datagram socket.
func NewPacketConn(conn net.Conn, maxSize uint32) *PacketConn {
	maxSize = orDefaultSize(maxSize)
	return &PacketConn{conn: conn, maxSize: maxSize, buf: make([]byte, maxSize+1)}
}

// SetLogger enables datagram logging.
func (c *PacketConn) SetLogger(logger log.Logger, connID string) {
	c.log.set(logger, connID)
}

// ReadMessage reads one datagram. Oversized datagrams are reported as
// ErrMessageTooLarge and may be followed by further reads.
func (c *PacketConn) ReadMessage() ([]byte, error) {
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return nil, err
	}
	if err := checkSize(uint32(n), c.maxSize); err != nil {
		return nil, err
	}
	data := append([]byte(nil), c.buf[:n]...)
	c.log.record(log.DirectionIn, n, data)
	return data, nil
}

// WriteMessage sends data as a single datagram.
func (c *PacketConn) WriteMessage(data []byte) error {
	if err := checkSize(uint32(len(data)), c.maxSize); err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}
	c.log.record(log.DirectionOut, len(data), data)
	return nil
}

func (c *PacketConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *PacketConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the socket. Later calls return nil.
func (c *PacketConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

// ServerAddress is a parsed server URI.
type ServerAddress struct {
	// Network is "udp" or "tcp".
	Network string

	// Address is host:port.
	Address string

	// Host is the host part, used as TLS server name.
	Host string

	// TLS is set for secure stream connections.
	TLS bool
}

// ParseServerURI resolves a server URI against the binding mode.
//
// Schemes: udp and coap follow the binding (UDP unless the binding is TCP),
// tcp is plain TCP, tls and coaps are TLS over TCP. Ports default to 5683,
// or 5684 for TLS.
func ParseServerURI(uri string, binding registration.BindingMode) (ServerAddress, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return ServerAddress{}, fmt.Errorf("%w: %v", registration.ErrInvalidParameters, err)
	}
	if u.Hostname() == "" {
		return ServerAddress{}, fmt.Errorf("%w: no host in %q", registration.ErrInvalidParameters, uri)
	}

	addr := ServerAddress{Host: u.Hostname()}
	switch u.Scheme {
	case "udp", "coap":
		addr.Network = "udp"
		if binding.IsTCP() {
			addr.Network = "tcp"
		}
	case "tcp":
		addr.Network = "tcp"
	case "tls", "coaps":
		addr.Network = "tcp"
		addr.TLS = true
	default:
		return ServerAddress{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = strconv.Itoa(DefaultPort)
		if addr.TLS {
			port = strconv.Itoa(DefaultSecurePort)
		}
	}
	addr.Address = net.JoinHostPort(addr.Host, port)
	return addr, nil
}

// DialOptions tune Dial.
type DialOptions struct {
	// Endpoint is the client endpoint name of the request that opens the
	// connection.
	Endpoint string

	// Binding selects UDP or TCP for schemes that allow both.
	Binding registration.BindingMode

	// LocalPort binds the local side. Zero picks an ephemeral port, or a
	// random port in [RandomPortMin, RandomPortMax] in certificate mode.
	LocalPort int

	// MaxMessageSize limits messages in both directions.
	MaxMessageSize uint32
}

// DialFunc opens a connection to the server named by sec.ServerURI.
type DialFunc func(ctx context.Context, sec *security.Context, opts DialOptions) (Conn, error)

// Dial connects to the server named by sec.ServerURI. Certificate mode
// always uses TLS over TCP.
func Dial(ctx context.Context, sec *security.Context, opts DialOptions) (Conn, error) {
	addr, err := ParseServerURI(sec.ServerURI, opts.Binding)
	if err != nil {
		return nil, err
	}
	if sec.Mode == security.ModeCertificate {
		addr.Network = "tcp"
		addr.TLS = true
	}

	port := opts.LocalPort
	if port == 0 && sec.Mode == security.ModeCertificate {
		port = RandomPort()
	}

	dialer := &net.Dialer{}
	if port != 0 {
		if addr.Network == "udp" {
			dialer.LocalAddr = &net.UDPAddr{Port: port}
		} else {
			dialer.LocalAddr = &net.TCPAddr{Port: port}
		}
	}

	conn, err := dialer.DialContext(ctx, addr.Network, addr.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", addr.Network, addr.Address, err)
	}
	if addr.Network == "udp" {
		return NewPacketConn(conn, opts.MaxMessageSize), nil
	}
	if !addr.TLS {
		return NewStreamConn(conn, opts.MaxMessageSize), nil
	}

	tlsConf, err := ClientTLSConfig(sec, addr.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	tlsConn := tls.Client(conn, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
		tlsConn.Close()
		return nil, err
	}
	return NewStreamConn(tlsConn, opts.MaxMessageSize), nil
}

// RandomPort returns a port in [RandomPortMin, RandomPortMax].
func RandomPort() int {
	return RandomPortMin + rand.IntN(RandomPortMax-RandomPortMin+1)
}

var (
	_ Conn = (*StreamConn)(nil)
	_ Conn = (*PacketConn)(nil)
)
