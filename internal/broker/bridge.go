package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jacobpac15/chatapp-parcial3/internal/apperr"
	"github.com/Jacobpac15/chatapp-parcial3/internal/metrics"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

// DefaultRetryInterval is the wait between connection attempts.
const DefaultRetryInterval = 3 * time.Second

const dialTimeout = 10 * time.Second

// ErrNotConnected is returned by Publish while the bridge has no live
// connection. Messages are not buffered until the next connection.
var ErrNotConnected error = apperr.Wrap(apperr.ErrUnavailable, "message broker unavailable", apperr.ErrBrokerDisconnected)

// Handler receives messages consumed from the exchange.
type Handler func(msg models.Message)

// Bridge owns the connection to the exchange: it republishes accepted
// messages and hands every consumed message to a Handler.
type Bridge struct {
	transport     Transport
	retryInterval time.Duration
	instanceID    string
	logger        zerolog.Logger

	mu   sync.RWMutex
	conn Conn
}

// NewBridge creates a bridge. It is disconnected until Run connects it.
func NewBridge(transport Transport, retryInterval time.Duration, instanceID string, logger zerolog.Logger) *Bridge {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Bridge{
		transport:     transport,
		retryInterval: retryInterval,
		instanceID:    instanceID,
		logger:        logger.With().Str("component", "broker").Str("transport", transport.Name()).Logger(),
	}
}

// Connected reports whether the bridge currently holds a live connection.
func (b *Bridge) Connected() bool {
	return b.current() != nil
}

func (b *Bridge) current() Conn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn
}

func (b *Bridge) setConn(conn Conn) {
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	if conn != nil {
		metrics.BrokerConnected.Set(1)
	} else {
		metrics.BrokerConnected.Set(0)
	}
}

// Publish sends msg to the exchange under its room's routing key.
func (b *Bridge) Publish(ctx context.Context, msg *models.Message) error {
	conn := b.current()
	if conn == nil {
		metrics.BrokerPublishes.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}

	body, err := EncodeEnvelope(msg, b.instanceID)
	if err != nil {
		metrics.BrokerPublishes.WithLabelValues("error").Inc()
		return apperr.Wrap(apperr.ErrUnavailable, "failed to encode message", err)
	}

	if err := conn.Publish(ctx, RoutingKey(msg.RoomID), body); err != nil {
		metrics.BrokerPublishes.WithLabelValues("error").Inc()
		if errors.Is(err, ErrConnClosed) {
			return ErrNotConnected
		}
		return apperr.Wrap(apperr.ErrUnavailable, "message broker unavailable", err)
	}

	metrics.BrokerPublishes.WithLabelValues("ok").Inc()
	return nil
}

// Run connects to the exchange and keeps reconnecting at a fixed interval,
// without limit, until ctx is cancelled. Every consumed message is passed
// to handler.
func (b *Bridge) Run(ctx context.Context, handler Handler) {
	deliver := func(routingKey string, body []byte) {
		msg, _, err := DecodeEnvelope(routingKey, body)
		if err != nil {
			b.logger.Warn().Err(err).Str("routing_key", routingKey).Msg("dropping malformed broker message")
			return
		}
		metrics.BrokerDeliveries.Inc()
		handler(msg)
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			metrics.BrokerReconnects.Inc()
		}

		conn, err := b.connect(ctx, deliver)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", b.retryInterval).Msg("broker connection failed")
			if !b.wait(ctx) {
				return
			}
			continue
		}

		b.setConn(conn)
		b.logger.Info().Msg("connected to message broker")

		select {
		case <-ctx.Done():
			b.setConn(nil)
			conn.Close()
			b.logger.Info().Msg("broker bridge stopped")
			return
		case <-conn.Done():
			b.setConn(nil)
			conn.Close()
			b.logger.Warn().Dur("retry_in", b.retryInterval).Msg("broker connection lost")
		}

		if !b.wait(ctx) {
			return
		}
	}
}

func (b *Bridge) connect(ctx context.Context, deliver DeliveryFunc) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := b.transport.Dial(dialCtx)
	cancel()
	if err != nil {
		return nil, err
	}
	if err := conn.Subscribe(ctx, SubscriptionPattern, deliver); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (b *Bridge) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.retryInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
