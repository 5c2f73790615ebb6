package mqttlink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/m2mlink/m2m-go/pkg/transport"
)

// ErrBridgeClosed is returned by Start after Close.
var ErrBridgeClosed = errors.New("bridge closed")

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Broker carries the endpoint topics.
	Broker Broker

	// ServerAddr is the UDP address of the management server.
	ServerAddr string

	// MaxMessageSize limits messages in both directions.
	MaxMessageSize uint32

	// Logger is the operational logger. Nil discards.
	Logger *slog.Logger
}

// Bridge relays endpoint topics to a UDP management server. Each endpoint
// gets its own UDP socket so the server sees one peer address per client.
type Bridge struct {
	cfg    BridgeConfig
	logger *slog.Logger

	mu     sync.Mutex
	links  map[string]*transport.PacketConn
	closed bool
	wg     sync.WaitGroup
}

// NewBridge creates a bridge. Call Start to begin relaying.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Broker == nil {
		return nil, fmt.Errorf("bridge requires a broker")
	}
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("bridge requires a server address")
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = transport.DefaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bridge{
		cfg:    cfg,
		logger: logger,
		links:  make(map[string]*transport.PacketConn),
	}, nil
}

// Start subscribes to the up topics of all endpoints.
func (b *Bridge) Start() error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBridgeClosed
	}
	if err := b.cfg.Broker.Subscribe(AllUpTopics, b.relayUp); err != nil {
		return fmt.Errorf("subscribe %s: %w", AllUpTopics, err)
	}
	b.logger.Info("mqtt bridge started", "server", b.cfg.ServerAddr)
	return nil
}

// Endpoints returns the number of endpoints with an open link.
func (b *Bridge) Endpoints() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.links)
}

func (b *Bridge) relayUp(topic string, payload []byte) {
	endpoint, ok := EndpointFromTopic(topic)
	if !ok {
		b.logger.Debug("ignoring topic", "topic", topic)
		return
	}
	link, err := b.link(endpoint)
	if err != nil {
		b.logger.Warn("open server link", "endpoint", endpoint, "error", err)
		return
	}
	if err := link.WriteMessage(payload); err != nil {
		b.logger.Warn("relay to server", "endpoint", endpoint, "error", err)
	}
}

func (b *Bridge) link(endpoint string) (*transport.PacketConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBridgeClosed
	}
	if link, ok := b.links[endpoint]; ok {
		return link, nil
	}

	raw, err := net.Dial("udp", b.cfg.ServerAddr)
	if err != nil {
		return nil, err
	}
	link := transport.NewPacketConn(raw, b.cfg.MaxMessageSize)
	b.links[endpoint] = link

	b.wg.Add(1)
	go b.relayDown(endpoint, link)
	b.logger.Debug("server link opened", "endpoint", endpoint, "local", raw.LocalAddr())
	return link, nil
}

func (b *Bridge) relayDown(endpoint string, link *transport.PacketConn) {
	defer b.wg.Done()
	topic := DownTopic(endpoint)
	for {
		data, err := link.ReadMessage()
		if err != nil {
			if errors.Is(err, transport.ErrMessageTooLarge) || errors.Is(err, transport.ErrMessageEmpty) {
				continue
			}
			return
		}
		if err := b.cfg.Broker.Publish(topic, data); err != nil {
			b.logger.Warn("relay to client", "endpoint", endpoint, "error", err)
		}
	}
}

// Close unsubscribes and closes every server link.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	links := b.links
	b.links = make(map[string]*transport.PacketConn)
	b.mu.Unlock()

	err := b.cfg.Broker.Unsubscribe(AllUpTopics)
	for _, link := range links {
		link.Close()
	}
	b.wg.Wait()
	return err
}
