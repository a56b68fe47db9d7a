package broker

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const natsFlushTimeout = 5 * time.Second

// NATSTransport publishes on NATS subjects. NATS wildcards use the same
// "*" syntax as SubscriptionPattern.
type NATSTransport struct {
	url  string
	name string
}

// NewNATSTransport creates a transport for a nats:// URL.
func NewNATSTransport(url, name string) *NATSTransport {
	return &NATSTransport{url: url, name: name}
}

func (t *NATSTransport) Name() string { return "nats" }

// Dial connects with client-side reconnects disabled so a lost connection
// surfaces to the bridge.
func (t *NATSTransport) Dial(ctx context.Context) (Conn, error) {
	c := &natsConn{done: make(chan struct{})}

	opts := []nats.Option{
		nats.Name(t.name),
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) { c.shutdown() }),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(timeUntil(deadline)))
	}

	nc, err := nats.Connect(t.url, opts...)
	if err != nil {
		return nil, err
	}
	c.nc = nc
	return c, nil
}

type natsConn struct {
	nc *nats.Conn

	done      chan struct{}
	closeOnce sync.Once
}

func (c *natsConn) Publish(ctx context.Context, routingKey string, body []byte) error {
	if c.nc.IsClosed() {
		return ErrConnClosed
	}
	return c.nc.Publish(routingKey, body)
}

func (c *natsConn) Subscribe(ctx context.Context, pattern string, deliver DeliveryFunc) error {
	// No queue group: every instance needs every message.
	_, err := c.nc.Subscribe(pattern, func(m *nats.Msg) {
		deliver(m.Subject, m.Data)
	})
	if err != nil {
		return err
	}
	return c.nc.FlushTimeout(natsFlushTimeout)
}

func (c *natsConn) Done() <-chan struct{} { return c.done }

func (c *natsConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *natsConn) Close() error {
	c.nc.Close()
	c.shutdown()
	return nil
}
