package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport uses a durable RabbitMQ topic exchange. Each connection
// consumes through its own exclusive, auto-deleted queue so every instance
// receives every message.
type AMQPTransport struct {
	url      string
	exchange string
	name     string
}

// NewAMQPTransport creates a transport for an amqp:// URL.
func NewAMQPTransport(url, exchange, name string) *AMQPTransport {
	if exchange == "" {
		exchange = "chat.rooms"
	}
	return &AMQPTransport{url: url, exchange: exchange, name: name}
}

func (t *AMQPTransport) Name() string { return "amqp" }

// Dial connects, opens a channel and declares the exchange.
func (t *AMQPTransport) Dial(ctx context.Context) (Conn, error) {
	cfg := amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": t.name},
	}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Dial = amqp.DefaultDial(timeUntil(deadline))
	}

	conn, err := amqp.DialConfig(t.url, cfg)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(t.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	c := &amqpConn{
		conn:     conn,
		ch:       ch,
		exchange: t.exchange,
		done:     make(chan struct{}),
	}
	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))
	return c, nil
}

type amqpConn struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	publishMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func (c *amqpConn) Publish(ctx context.Context, routingKey string, body []byte) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	err := c.ch.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if errors.Is(err, amqp.ErrClosed) {
		return ErrConnClosed
	}
	return err
}

func (c *amqpConn) Subscribe(ctx context.Context, pattern string, deliver DeliveryFunc) error {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(q.Name, pattern, c.exchange, false, nil); err != nil {
		return err
	}

	deliveries, err := c.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			deliver(d.RoutingKey, d.Body)
		}
		c.shutdown()
	}()
	return nil
}

func (c *amqpConn) watch(connClosed, chanClosed <-chan *amqp.Error) {
	select {
	case <-connClosed:
	case <-chanClosed:
	case <-c.done:
	}
	c.shutdown()
}

func (c *amqpConn) Done() <-chan struct{} { return c.done }

func (c *amqpConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *amqpConn) Close() error {
	c.shutdown()
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
