package mqttlink

import (
	"errors"
	"sync"
)

// MessageHandler processes a received message. It runs on the broker
// client's goroutine.
type MessageHandler func(topic string, payload []byte)

// Broker is the part of an MQTT client the link needs.
type Broker interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// Errors.
var (
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrPublishTimeout = errors.New("mqtt publish timed out")
	ErrInvalidTopic   = errors.New("invalid topic")
)

// MemoryBroker is an in-process Broker. Messages are delivered
// synchronously to every matching subscription.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]MessageHandler
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]MessageHandler)}
}

// Publish implements Broker.
func (b *MemoryBroker) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	b.mu.Lock()
	var handlers []MessageHandler
	for filter, h := range b.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(topic, append([]byte(nil), payload...))
	}
	return nil
}

// Subscribe implements Broker. A second subscription to the same filter
// replaces the handler.
func (b *MemoryBroker) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = handler
	return nil
}

// Unsubscribe implements Broker.
func (b *MemoryBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
