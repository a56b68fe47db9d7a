// Package broker bridges the local relay to a topic publish/subscribe
// exchange so that every relay instance sees every accepted message.
//
// Messages are published under the routing key room.<roomID>.message and
// each instance consumes the wildcard room.*.message.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SubscriptionPattern matches the routing key of every room's messages.
const SubscriptionPattern = "room.*.message"

// ErrConnClosed is returned by a Conn after it has been closed or lost.
var ErrConnClosed = errors.New("broker connection closed")

// RoutingKey returns the routing key messages for roomID are published under.
func RoutingKey(roomID int64) string {
	return "room." + strconv.FormatInt(roomID, 10) + ".message"
}

// RoomFromRoutingKey extracts the room id from a routing key.
func RoomFromRoutingKey(key string) (int64, bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != "room" || parts[2] != "message" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// DeliveryFunc receives raw deliveries from a Conn.
type DeliveryFunc func(routingKey string, body []byte)

// Conn is one live connection to the exchange.
type Conn interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	// Subscribe starts consuming deliveries whose routing key matches pattern.
	Subscribe(ctx context.Context, pattern string, deliver DeliveryFunc) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	Close() error
}

// Transport opens connections to an exchange.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
	Name() string
}

// TransportOptions configure NewTransport.
type TransportOptions struct {
	// Exchange is the AMQP topic exchange name.
	Exchange string
	// ConnectionName identifies this instance to the broker.
	ConnectionName string
}

// NewTransport picks a transport from the URL scheme: amqp(s)://,
// redis(s)://, nats:// or memory://.
func NewTransport(rawURL string, opts TransportOptions) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryExchange(), nil
	case "amqp", "amqps":
		return NewAMQPTransport(rawURL, opts.Exchange, opts.ConnectionName), nil
	case "redis", "rediss":
		return NewRedisTransport(rawURL)
	case "nats", "tls":
		return NewNATSTransport(rawURL, opts.ConnectionName), nil
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

func timeUntil(deadline time.Time) time.Duration {
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return time.Millisecond
}
