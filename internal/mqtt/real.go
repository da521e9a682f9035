package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/valve"
)

const (
	// bufferCapacity bounds the messages held while the broker is unreachable.
	bufferCapacity = 256

	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// OnConnectionChange is called with the new state whenever the
	// connection comes up or drops.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are held in a ring buffer and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher for the given broker. The initial
// connection is attempted in the background; a broker that is down at
// startup is not an error.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}

	p := &RealPublisher{
		topics: NewTopics(opts.TopicPrefix),
		buffer: newRingBuffer(bufferCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	notify := opts.OnConnectionChange
	if notify == nil {
		notify = func(bool) {}
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.topics.System, will, 1, true).
		SetOnConnectHandler(func(paho.Client) {
			logger.InfoKV(context.Background(), "MQTT connected", "broker", opts.Broker)
			notify(true)
			p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.WarnKV(context.Background(), "MQTT connection lost", "error", err)
			notify(false)
		})

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if token.WaitTimeout(connectTimeout) {
		if err := token.Error(); err != nil {
			logger.WarnKV(context.Background(), "MQTT connect failed, will retry", "broker", opts.Broker, "error", err)
		}
	} else {
		logger.WarnKV(context.Background(), "MQTT connect timed out, will retry", "broker", opts.Broker)
	}

	return p, nil
}

// Topics returns the topic names in use.
func (p *RealPublisher) Topics() Topics {
	return p.topics
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish queues a valve event for the events topic and returns without
// waiting for the broker. Delivery failures are logged.
func (p *RealPublisher) Publish(event valve.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	msg := bufferedMsg{topic: p.topics.Events, payload: payload}
	if p.bufferIfOffline(msg) {
		return nil
	}
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	go watch(msg.topic, token, publishTimeout)
	return nil
}

// PublishSystem sends a system lifecycle event to the system topic and waits
// for the broker so a SHUTDOWN is on the wire before Close.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 so lifecycle messages survive a flaky link
	msg := bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained}
	if p.bufferIfOffline(msg) {
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) bufferIfOffline(msg bufferedMsg) bool {
	if p.client.IsConnectionOpen() {
		return false
	}
	p.mu.Lock()
	p.buffer.push(msg)
	p.mu.Unlock()
	return true
}

// watch logs the outcome of a publish nobody waits on.
func watch(topic string, token paho.Token, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			logger.WarnKV(context.Background(), "MQTT publish failed", "topic", topic, "error", err)
		}
	case <-timer.C:
		logger.WarnKV(context.Background(), "MQTT publish timed out", "topic", topic)
	}
}

// flush replays buffered messages after a reconnect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	pending := p.buffer.drainAll()
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	logger.InfoKV(context.Background(), "Replaying buffered MQTT messages", "count", len(pending))
	for _, msg := range pending {
		// Handlers run on paho's goroutine; do not wait on the token here.
		p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
