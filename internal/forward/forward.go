// Package forward publishes significant traffic updates to an MQTT broker
// as JSON, one topic per transmitter.
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"tracker-ng/internal/traffic"
)

const queueLen = 64

type Config struct {
	Broker   string
	Topic    string
	Username string
	Password string
	// ClientID defaults to tracker-ng_<random uuid>.
	ClientID string
}

// Message is the JSON body of a published update.
type Message struct {
	Instance string         `json:"instance"`
	Time     int64          `json:"time"`
	Address  string         `json:"address"`
	Target   traffic.Target `json:"target"`
}

// newClient is replaced in tests.
var newClient = mqtt.NewClient

// Publisher implements the producer's traffic sink. Publish never blocks;
// updates beyond the queue are dropped and counted.
type Publisher struct {
	cfg      Config
	instance string
	client   mqtt.Client
	queue    chan traffic.Target

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New connects to the broker. An unreachable broker is not an error: the
// client keeps retrying in the background.
func New(cfg Config, instance string) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("forward: broker is empty")
	}
	if cfg.Topic == "" {
		cfg.Topic = "tracker-ng/traffic"
	}
	cfg.Topic = strings.TrimRight(cfg.Topic, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "tracker-ng_" + uuid.New().String()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("forward: connected broker=%s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("forward: connection lost: %v", err)
	})

	client := newClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(5 * time.Second) {
		log.Printf("forward: broker %s not reachable yet, retrying in background", cfg.Broker)
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("forward: connect %s: %w", cfg.Broker, err)
	}

	return &Publisher{
		cfg:      cfg,
		instance: instance,
		client:   client,
		queue:    make(chan traffic.Target, queueLen),
	}, nil
}

func (p *Publisher) Publish(t traffic.Target) {
	select {
	case p.queue <- t:
	default:
		p.dropped.Add(1)
	}
}

// Run publishes queued updates until ctx is cancelled, then disconnects.
func (p *Publisher) Run(ctx context.Context) {
	defer p.client.Disconnect(250)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			p.send(t)
		}
	}
}

func (p *Publisher) send(t traffic.Target) {
	addr := fmt.Sprintf("%06X", t.Address)
	body, err := json.Marshal(Message{
		Instance: p.instance,
		Time:     t.SeenAt.Unix(),
		Address:  addr,
		Target:   t,
	})
	if err != nil {
		p.failed.Add(1)
		return
	}
	tok := p.client.Publish(p.cfg.Topic+"/"+addr, 0, false, body)
	if tok.WaitTimeout(2*time.Second) && tok.Error() != nil {
		p.failed.Add(1)
		log.Printf("forward: publish %s failed: %v", addr, tok.Error())
		return
	}
	p.published.Add(1)
}

// Stats returns published, dropped and failed counts.
func (p *Publisher) Stats() (published, dropped, failed uint64) {
	return p.published.Load(), p.dropped.Load(), p.failed.Load()
}
