package mqttlink

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/m2mlink/m2m-go/pkg/registration"
	"github.com/m2mlink/m2m-go/pkg/security"
	"github.com/m2mlink/m2m-go/pkg/transport"
)

// inboxSize bounds the messages buffered for a reader. Later messages are
// dropped, as a lossy datagram link would.
const inboxSize = 16

// Addr is the address of one side of an MQTT link.
type Addr struct {
	Topic string
}

// Network implements net.Addr.
func (a Addr) Network() string { return "mqtt" }

// String implements net.Addr.
func (a Addr) String() string { return a.Topic }

// Conn is a transport.Conn over a broker. Each message is one MQTT publish
// on the endpoint's up topic, and replies arrive on its down topic.
type Conn struct {
	broker   Broker
	endpoint string
	maxSize  uint32

	inbox chan []byte
	done  chan struct{}

	closeOnce sync.Once
}

// Dial subscribes to the down topic of endpoint.
func Dial(broker Broker, endpoint string, maxSize uint32) (*Conn, error) {
	if !ValidEndpoint(endpoint) {
		return nil, fmt.Errorf("%w: endpoint %q is not a valid topic level", registration.ErrInvalidParameters, endpoint)
	}
	if maxSize == 0 {
		maxSize = transport.DefaultMaxMessageSize
	}
	c := &Conn{
		broker:   broker,
		endpoint: endpoint,
		maxSize:  maxSize,
		inbox:    make(chan []byte, inboxSize),
		done:     make(chan struct{}),
	}
	if err := broker.Subscribe(DownTopic(endpoint), c.deliver); err != nil {
		return nil, fmt.Errorf("%w: subscribe: %w", registration.ErrNetwork, err)
	}
	return c, nil
}

// Dialer returns a transport.DialFunc that opens links over broker. The
// server URI of the security context is ignored; the broker routes by
// endpoint name.
func Dialer(broker Broker) transport.DialFunc {
	return func(_ context.Context, _ *security.Context, opts transport.DialOptions) (transport.Conn, error) {
		return Dial(broker, opts.Endpoint, opts.MaxMessageSize)
	}
}

func (c *Conn) deliver(_ string, payload []byte) {
	if len(payload) == 0 || uint32(len(payload)) > c.maxSize {
		return
	}
	select {
	case <-c.done:
	case c.inbox <- payload:
	default:
	}
}

// ReadMessage blocks until a message arrives or the link is closed.
func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.done:
		return nil, io.EOF
	}
}

// WriteMessage publishes data on the up topic.
func (c *Conn) WriteMessage(data []byte) error {
	if len(data) == 0 {
		return transport.ErrMessageEmpty
	}
	if uint32(len(data)) > c.maxSize {
		return fmt.Errorf("%w: %d > %d", transport.ErrMessageTooLarge, len(data), c.maxSize)
	}
	select {
	case <-c.done:
		return transport.ErrConnectionClosed
	default:
	}
	if err := c.broker.Publish(UpTopic(c.endpoint), data); err != nil {
		return fmt.Errorf("%w: %w", registration.ErrNetwork, err)
	}
	return nil
}

func (c *Conn) LocalAddr() net.Addr  { return Addr{Topic: DownTopic(c.endpoint)} }
func (c *Conn) RemoteAddr() net.Addr { return Addr{Topic: UpTopic(c.endpoint)} }

// Close unsubscribes. Later calls return nil.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.broker.Unsubscribe(DownTopic(c.endpoint))
	})
	return err
}

var _ transport.Conn = (*Conn)(nil)
