package mqtt

import (
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/valve-panel/internal/valve"
)

// pendingToken never completes until finish is called.
type pendingToken struct {
	done chan struct{}
	once sync.Once
}

func newPendingToken() *pendingToken {
	return &pendingToken{done: make(chan struct{})}
}

func (t *pendingToken) Wait() bool {
	<-t.done
	return true
}

func (t *pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *pendingToken) Done() <-chan struct{} { return t.done }
func (t *pendingToken) Error() error { return nil }
func (t *pendingToken) finish() { t.once.Do(func() { close(t.done) }) }

type sentMsg struct {
	topic    string
	qos      byte
	retained bool
}

// stalledClient accepts publishes but the broker never acknowledges them.
type stalledClient struct {
	paho.Client

	mu     sync.Mutex
	online bool
	sent   []sentMsg
	tokens []*pendingToken
}

func (c *stalledClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *stalledClient) Publish(topic string, qos byte, retained bool, _ interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := newPendingToken()
	c.sent = append(c.sent, sentMsg{topic: topic, qos: qos, retained: retained})
	c.tokens = append(c.tokens, tok)
	return tok
}

func (c *stalledClient) messages() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...)
}

func (c *stalledClient) finishAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tok := range c.tokens {
		tok.finish()
	}
}

func newTestPublisher(client paho.Client) *RealPublisher {
	return &RealPublisher{
		client: client,
		topics: NewTopics("gate-valves"),
		buffer: newRingBuffer(4),
	}
}

func TestPublishDoesNotWaitForBroker(t *testing.T) {
	client := &stalledClient{online: true}
	t.Cleanup(client.finishAll)
	p := newTestPublisher(client)

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := p.Publish(testEvent(valve.EventOpen, true, false)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Publish blocked for %v with an unresponsive broker", elapsed)
	}

	sent := client.messages()
	if len(sent) != 4 {
		t.Fatalf("sent: got %d, want 4", len(sent))
	}
	if sent[0].topic != "gate-valves/events" || sent[0].qos != 0 || sent[0].retained {
		t.Errorf("message: got %+v", sent[0])
	}
}

func TestPublishBuffersWhileOffline(t *testing.T) {
	client := &stalledClient{}
	t.Cleanup(client.finishAll)
	p := newTestPublisher(client)

	if err := p.Publish(testEvent(valve.EventClose, false, false)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}
	if n := len(client.messages()); n != 0 {
		t.Errorf("sent while offline: got %d, want 0", n)
	}
	if p.buffer.len() != 2 {
		t.Errorf("buffered: got %d, want 2", p.buffer.len())
	}

	client.mu.Lock()
	client.online = true
	client.mu.Unlock()
	p.flush()

	sent := client.messages()
	if len(sent) != 2 {
		t.Fatalf("replayed: got %d, want 2", len(sent))
	}
	if sent[1].topic != "gate-valves/system" || sent[1].qos != 1 || !sent[1].retained {
		t.Errorf("system message: got %+v", sent[1])
	}
	if p.buffer.len() != 0 {
		t.Errorf("buffer after flush: got %d, want 0", p.buffer.len())
	}
}

func TestPublishSystemWaitsForAck(t *testing.T) {
	client := &stalledClient{online: true}
	p := newTestPublisher(client)

	errc := make(chan error, 1)
	go func() {
		errc <- p.PublishSystem(SystemEvent{Event: "SHUTDOWN", Reason: "SIGTERM"})
	}()

	select {
	case err := <-errc:
		t.Fatalf("PublishSystem returned before ack: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(client.messages()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("PublishSystem never reached the client")
		}
		time.Sleep(time.Millisecond)
	}
	client.finishAll()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("PublishSystem: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PublishSystem did not return after ack")
	}
}
