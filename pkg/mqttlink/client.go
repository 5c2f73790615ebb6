package mqttlink

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

// Config configures a broker connection.
type Config struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	ClientID string
	Username string
	Password string

	// QoS is used for all publishes and subscriptions.
	QoS byte

	// ConnectTimeout bounds the initial connect. Zero uses 10s.
	ConnectTimeout time.Duration

	// Logger is the operational logger. Nil discards.
	Logger *slog.Logger
}

// Client is a Broker backed by a paho MQTT connection. Subscriptions are
// restored after a reconnect.
type Client struct {
	client pahomqtt.Client
	cfg    Config
	logger *slog.Logger

	subMu         sync.RWMutex
	subscriptions map[string]MessageHandler
}

// Connect connects to the broker and waits for the connection.
func Connect(cfg Config) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		cfg:           cfg,
		logger:        logger,
		subscriptions: make(map[string]MessageHandler),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.restoreSubscriptions()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrNotConnected, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	c.logger.Info("mqtt connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return c, nil
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetOrderMatters(true)
	return opts
}

// Publish implements Broker.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

// Subscribe implements Broker.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.cfg.QoS, wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: subscribe %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return err
	}
	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()
	return nil
}

// Unsubscribe implements Broker.
func (c *Client) Unsubscribe(topic string) error {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: unsubscribe %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, handler := range c.subscriptions {
		c.client.Subscribe(topic, c.cfg.QoS, wrapHandler(handler))
	}
}

func wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

var _ Broker = (*Client)(nil)
