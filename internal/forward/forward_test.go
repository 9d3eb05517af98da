package forward

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tracker-ng/internal/traffic"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type sent struct {
	topic   string
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the publisher uses.
type fakeClient struct {
	mqtt.Client

	connectErr error
	opts       *mqtt.ClientOptions

	mu           sync.Mutex
	sent         []sent
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return doneToken{err: c.connectErr} }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.sent = append(c.sent, sent{topic: topic, payload: payload.([]byte)})
	c.mu.Unlock()
	return doneToken{}
}

func withFake(t *testing.T, c *fakeClient) {
	t.Helper()
	old := newClient
	newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		c.opts = o
		return c
	}
	t.Cleanup(func() { newClient = old })
}

func TestPublisher_SendsJSONPerAddress(t *testing.T) {
	fc := &fakeClient{}
	withFake(t, fc)

	p, err := New(Config{Broker: "tcp://localhost:1883", Topic: "fleet/"}, "inst-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if fc.opts.ClientID == "" || fc.opts.ClientID[:11] != "tracker-ng_" {
		t.Fatalf("client id=%q", fc.opts.ClientID)
	}

	seen := time.Unix(1_700_000_000, 0).UTC()
	p.Publish(traffic.Target{Key: traffic.Key{Address: 0xABC, AddrType: traffic.AddrFLARM}, Name: "Jo", SeenAt: seen})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if pub, _, _ := p.Stats(); pub == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("nothing published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if !fc.disconnected {
		t.Fatalf("not disconnected on shutdown")
	}
	if len(fc.sent) != 1 || fc.sent[0].topic != "fleet/000ABC" {
		t.Fatalf("sent=%+v", fc.sent)
	}
	var msg Message
	if err := json.Unmarshal(fc.sent[0].payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.Instance != "inst-1" || msg.Time != seen.Unix() || msg.Target.Name != "Jo" {
		t.Fatalf("msg=%+v", msg)
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	withFake(t, &fakeClient{})
	p, err := New(Config{Broker: "tcp://b:1883"}, "x")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < queueLen+3; i++ {
		p.Publish(traffic.Target{})
	}
	if _, dropped, _ := p.Stats(); dropped != 3 {
		t.Fatalf("dropped=%d want 3", dropped)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(Config{}, "x"); err == nil {
		t.Fatalf("expected error for empty broker")
	}
	withFake(t, &fakeClient{connectErr: errors.New("refused")})
	if _, err := New(Config{Broker: "tcp://b:1883"}, "x"); err == nil {
		t.Fatalf("expected connect error")
	}
}
