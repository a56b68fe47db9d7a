package broker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
)

const redisHealthInterval = 5 * time.Second

// RedisTransport uses Redis PUBLISH / PSUBSCRIBE as the exchange. Redis
// glob patterns accept SubscriptionPattern unchanged.
type RedisTransport struct {
	opts *redis.Options
}

// NewRedisTransport parses a redis:// URL.
func NewRedisTransport(redisURL string) (*RedisTransport, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	// The bridge owns reconnects.
	opts.MaxRetries = -1
	return &RedisTransport{opts: opts}, nil
}

func (t *RedisTransport) Name() string { return "redis" }

// Dial opens a client and verifies it with PING.
func (t *RedisTransport) Dial(ctx context.Context) (Conn, error) {
	client := redis.NewClient(t.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	c := &redisConn{client: client, done: make(chan struct{})}
	go c.watch()
	return c, nil
}

type redisConn struct {
	client *redis.Client

	mu     sync.Mutex
	pubsub []*redis.PubSub

	done      chan struct{}
	closeOnce sync.Once
}

func (c *redisConn) Publish(ctx context.Context, routingKey string, body []byte) error {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	return c.client.Publish(ctx, routingKey, body).Err()
}

func (c *redisConn) Subscribe(ctx context.Context, pattern string, deliver DeliveryFunc) error {
	ps := c.client.PSubscribe(ctx, pattern)
	// Wait for the subscription confirmation before reporting success.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return err
	}

	c.mu.Lock()
	c.pubsub = append(c.pubsub, ps)
	c.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			deliver(msg.Channel, []byte(msg.Payload))
		}
		c.shutdown()
	}()
	return nil
}

// watch pings the server and marks the connection lost on the first failure.
func (c *redisConn) watch() {
	ticker := time.NewTicker(redisHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), redisHealthInterval)
			err := c.client.Ping(ctx).Err()
			cancel()
			if err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *redisConn) Done() <-chan struct{} { return c.done }

func (c *redisConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *redisConn) Close() error {
	c.shutdown()

	c.mu.Lock()
	subs := c.pubsub
	c.pubsub = nil
	c.mu.Unlock()

	for _, ps := range subs {
		ps.Close()
	}
	return c.client.Close()
}
