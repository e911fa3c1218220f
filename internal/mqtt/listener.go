// Package mqtt mirrors the ESP Easy "Generic - MQTT Import" task on the
// controller side: it subscribes to broker topics and keeps the most recent
// messages per topic available for the API and MCP surfaces.
package mqtt

import (
	"fmt"
	"sort"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ElZetto/espisy/internal/log"
)

const (
	// connectTimeout is the maximum time to wait for the initial broker
	// connection.
	connectTimeout = 10 * time.Second

	// disconnectQuiesce is the time in milliseconds left for in-flight
	// operations on disconnect.
	disconnectQuiesce = 1000

	// DefaultBufferSize is the per-topic message retention.
	DefaultBufferSize = 16
)

// Message is one retained import message.
type Message struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Buffer retains the last messages seen per topic. Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	byTopic  map[string][]Message
}

// NewBuffer returns a buffer keeping capacity messages per topic.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultBufferSize
	}
	return &Buffer{
		capacity: capacity,
		byTopic:  make(map[string][]Message),
	}
}

// Record appends a message, evicting the oldest one on the topic when the
// buffer is full.
func (b *Buffer) Record(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := append(b.byTopic[msg.Topic], msg)
	if len(msgs) > b.capacity {
		msgs = msgs[len(msgs)-b.capacity:]
	}
	b.byTopic[msg.Topic] = msgs
}

// Messages returns the retained messages for a topic, oldest first.
func (b *Buffer) Messages(topic string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.byTopic[topic]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Topics returns all topics with retained messages, sorted.
func (b *Buffer) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.byTopic))
	for t := range b.byTopic {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Options configures a Listener.
type Options struct {
	BrokerURL  string // e.g. tcp://broker.local:1883
	ClientID   string
	Username   string
	Password   string
	Topics     []string
	BufferSize int
}

// Listener holds the broker connection and feeds received messages into its
// buffer. Subscriptions are re-established on every reconnect.
type Listener struct {
	client pahomqtt.Client
	buffer *Buffer
	topics []string
}

// Connect dials the broker and subscribes to the configured topics.
func Connect(opts Options) (*Listener, error) {
	if opts.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt: broker URL is empty")
	}
	if opts.ClientID == "" {
		opts.ClientID = "espisy"
	}

	l := &Listener{
		buffer: NewBuffer(opts.BufferSize),
		topics: append([]string(nil), opts.Topics...),
	}

	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectTimeout(connectTimeout)

	// The connect handler runs on initial connect and on every reconnect,
	// so subscriptions survive broker restarts.
	clientOpts.SetOnConnectHandler(func(c pahomqtt.Client) {
		l.subscribe(c)
	})
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", "broker", opts.BrokerURL, "error", err)
	})

	l.client = pahomqtt.NewClient(clientOpts)
	token := l.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out after %v", opts.BrokerURL, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", opts.BrokerURL, err)
	}

	log.Info("mqtt import listener connected", "broker", opts.BrokerURL, "topics", len(l.topics))
	return l, nil
}

func (l *Listener) subscribe(c pahomqtt.Client) {
	for _, topic := range l.topics {
		token := c.Subscribe(topic, 0, func(_ pahomqtt.Client, m pahomqtt.Message) {
			l.buffer.Record(Message{
				Topic:      m.Topic(),
				Payload:    string(m.Payload()),
				ReceivedAt: time.Now(),
			})
			log.Debug("mqtt import message", "topic", m.Topic(), "bytes", len(m.Payload()))
		})
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			log.Error("mqtt subscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

// Buffer exposes the retained messages.
func (l *Listener) Buffer() *Buffer {
	return l.buffer
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (l *Listener) Close() {
	l.client.Disconnect(disconnectQuiesce)
}
