package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttQuiesceMillis  = 250
)

// ErrConnectionLost is returned by an MQTT connection whose broker link dropped.
var ErrConnectionLost = errors.New("mqtt connection lost")

// MQTTDialer subscribes to a topic whose payloads are telemetry frames.
// Reconnection is left to the Session, so the client's own auto-reconnect is disabled.
type MQTTDialer struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte

	// MaxPayloadBytes drops larger payloads before decoding. Zero disables the limit.
	MaxPayloadBytes int64

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// Dial connects to the broker and subscribes to the frame topic.
func (d *MQTTDialer) Dial(ctx context.Context) (Conn, error) {
	if d.Broker == "" || d.Topic == "" {
		return nil, fmt.Errorf("mqtt broker and topic are required")
	}

	conn := newMQTTConn(d.MaxPayloadBytes)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.Broker)
	opts.SetClientID(d.ClientID)
	if d.Username != "" {
		opts.SetUsername(d.Username)
	}
	if d.Password != "" {
		opts.SetPassword(d.Password)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		conn.lost(err)
	})

	newClient := d.newClient
	if newClient == nil {
		newClient = mqtt.NewClient
	}
	client := newClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		// Stops an attempt that is still in flight after ctx was canceled.
		client.Disconnect(mqttQuiesceMillis)
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", d.Broker, err)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		conn.deliver(msg.Payload())
	}
	if err := waitToken(ctx, client.Subscribe(d.Topic, d.QoS, handler)); err != nil {
		client.Disconnect(mqttQuiesceMillis)
		return nil, fmt.Errorf("subscribe to %s: %w", d.Topic, err)
	}

	conn.client = client
	conn.topic = d.Topic
	return conn, nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttConn struct {
	client   mqtt.Client
	topic    string
	maxBytes int64

	messages  chan []byte
	oversized atomic.Uint64
	rejected  chan struct{}
	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
	err       error
}

func newMQTTConn(maxBytes int64) *mqttConn {
	return &mqttConn{
		maxBytes: maxBytes,
		messages: make(chan []byte, 1),
		rejected: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// deliver hands a payload to the reader. An unread payload is replaced, the same
// way a newer frame supersedes an older one everywhere else in the pipeline.
// Payloads over the size limit are counted and reported by Read as ErrFrameTooLarge.
func (c *mqttConn) deliver(payload []byte) {
	if c.maxBytes > 0 && int64(len(payload)) > c.maxBytes {
		c.oversized.Add(1)
		select {
		case c.rejected <- struct{}{}:
		default:
		}
		return
	}
	select {
	case c.messages <- payload:
		return
	default:
	}
	select {
	case <-c.messages:
	default:
	}
	select {
	case c.messages <- payload:
	default:
	}
}

func (c *mqttConn) lost(err error) {
	if err == nil {
		err = ErrConnectionLost
	} else {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *mqttConn) Read(ctx context.Context) ([]byte, error) {
	for {
		if c.takeOversized() {
			return nil, ErrFrameTooLarge
		}
		select {
		case payload := <-c.messages:
			return payload, nil
		default:
		}
		select {
		case payload := <-c.messages:
			return payload, nil
		case <-c.rejected:
		case <-c.done:
			c.mu.Lock()
			defer c.mu.Unlock()
			return nil, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *mqttConn) takeOversized() bool {
	for {
		n := c.oversized.Load()
		if n == 0 {
			return false
		}
		if c.oversized.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (c *mqttConn) Close() error {
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	if c.err == nil {
		c.err = errors.New("mqtt connection closed")
	}
	c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	var err error
	if c.client.IsConnected() {
		if token := c.client.Unsubscribe(c.topic); token.WaitTimeout(time.Second) && token.Error() != nil {
			err = fmt.Errorf("unsubscribe %s: %w", c.topic, token.Error())
		}
	}
	c.client.Disconnect(mqttQuiesceMillis)
	return err
}
