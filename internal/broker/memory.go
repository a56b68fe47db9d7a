package broker

import (
	"context"
	"errors"
	"sync"
)

// ErrExchangeDown is returned by MemoryExchange.Dial while the exchange is severed.
var ErrExchangeDown = errors.New("memory exchange unreachable")

const memoryQueueSize = 256

// MemoryExchange is an in-process topic exchange. Every bridge dialing the
// same exchange behaves like a separate relay instance on a shared broker.
type MemoryExchange struct {
	mu      sync.Mutex
	conns   map[*memoryConn]struct{}
	severed bool
}

// NewMemoryExchange creates an exchange with no connections.
func NewMemoryExchange() *MemoryExchange {
	return &MemoryExchange{conns: make(map[*memoryConn]struct{})}
}

func (x *MemoryExchange) Name() string { return "memory" }

// Dial opens a connection unless the exchange is severed.
func (x *MemoryExchange) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.severed {
		return nil, ErrExchangeDown
	}

	c := &memoryConn{
		exchange: x,
		queue:    make(chan memoryDelivery, memoryQueueSize),
		done:     make(chan struct{}),
	}
	x.conns[c] = struct{}{}
	return c, nil
}

// Sever drops every open connection and refuses new ones until Restore.
func (x *MemoryExchange) Sever() {
	x.mu.Lock()
	conns := make([]*memoryConn, 0, len(x.conns))
	for c := range x.conns {
		conns = append(conns, c)
	}
	x.conns = make(map[*memoryConn]struct{})
	x.severed = true
	x.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
}

// Restore accepts connections again after Sever.
func (x *MemoryExchange) Restore() {
	x.mu.Lock()
	x.severed = false
	x.mu.Unlock()
}

// Connections returns the number of open connections.
func (x *MemoryExchange) Connections() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.conns)
}

func (x *MemoryExchange) route(key string, body []byte) {
	x.mu.Lock()
	conns := make([]*memoryConn, 0, len(x.conns))
	for c := range x.conns {
		conns = append(conns, c)
	}
	x.mu.Unlock()

	for _, c := range conns {
		if c.matches(key) {
			c.enqueue(memoryDelivery{key: key, body: body})
		}
	}
}

func (x *MemoryExchange) forget(c *memoryConn) {
	x.mu.Lock()
	delete(x.conns, c)
	x.mu.Unlock()
}

type memoryDelivery struct {
	key  string
	body []byte
}

type memorySubscription struct {
	pattern string
	deliver DeliveryFunc
}

type memoryConn struct {
	exchange *MemoryExchange

	mu   sync.RWMutex
	subs []memorySubscription

	queue       chan memoryDelivery
	done        chan struct{}
	consumeOnce sync.Once
	closeOnce   sync.Once
}

func (c *memoryConn) Publish(ctx context.Context, routingKey string, body []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	copied := make([]byte, len(body))
	copy(copied, body)
	c.exchange.route(routingKey, copied)
	return nil
}

func (c *memoryConn) Subscribe(ctx context.Context, pattern string, deliver DeliveryFunc) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	c.mu.Lock()
	c.subs = append(c.subs, memorySubscription{pattern: pattern, deliver: deliver})
	c.mu.Unlock()

	c.consumeOnce.Do(func() { go c.consume() })
	return nil
}

func (c *memoryConn) matches(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.subs {
		if MatchTopic(s.pattern, key) {
			return true
		}
	}
	return false
}

func (c *memoryConn) enqueue(d memoryDelivery) {
	select {
	case <-c.done:
	case c.queue <- d:
	default:
		// Queue full; the exchange gives no delivery guarantee.
	}
}

func (c *memoryConn) consume() {
	for {
		select {
		case <-c.done:
			return
		case d := <-c.queue:
			c.mu.RLock()
			subs := append([]memorySubscription(nil), c.subs...)
			c.mu.RUnlock()
			for _, s := range subs {
				if MatchTopic(s.pattern, d.key) {
					s.deliver(d.key, d.body)
				}
			}
		}
	}
}

func (c *memoryConn) Done() <-chan struct{} { return c.done }

func (c *memoryConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *memoryConn) Close() error {
	c.exchange.forget(c)
	c.shutdown()
	return nil
}
