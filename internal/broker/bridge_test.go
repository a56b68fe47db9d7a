package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jacobpac15/chatapp-parcial3/internal/apperr"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

const testRetry = 10 * time.Millisecond

type collector struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (c *collector) handle(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) snapshot() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.msgs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startBridge(t *testing.T, x *MemoryExchange, name string) (*Bridge, *collector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBridge(x, testRetry, name, zerolog.Nop())
	c := &collector{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx, c.handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, name+" to connect", b.Connected)
	return b, c
}

func testMessage(id, roomID int64) *models.Message {
	return &models.Message{ID: id, RoomID: roomID, UserID: 1, Username: "bob", Content: "hi", Timestamp: time.Now().UTC()}
}

func TestBridgeDeliversAcrossInstances(t *testing.T) {
	x := NewMemoryExchange()
	a, fromA := startBridge(t, x, "a")
	_, fromB := startBridge(t, x, "b")

	if err := a.Publish(context.Background(), testMessage(1, 7)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitFor(t, "both instances to receive", func() bool {
		return len(fromA.snapshot()) == 1 && len(fromB.snapshot()) == 1
	})
	if got := fromB.snapshot()[0]; got.ID != 1 || got.RoomID != 7 || got.Content != "hi" {
		t.Fatalf("instance b received %+v", got)
	}
}

func TestBridgeDropsMalformedDeliveries(t *testing.T) {
	x := NewMemoryExchange()
	b, got := startBridge(t, x, "a")

	raw, err := x.Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	_ = raw.Publish(context.Background(), RoutingKey(7), []byte("{not json"))
	if err := b.Publish(context.Background(), testMessage(2, 7)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "valid delivery", func() bool { return len(got.snapshot()) == 1 })
	if got.snapshot()[0].ID != 2 {
		t.Fatalf("unexpected delivery %+v", got.snapshot()[0])
	}
}

func TestBridgeOutageAndReconnect(t *testing.T) {
	x := NewMemoryExchange()
	b, got := startBridge(t, x, "a")

	x.Sever()
	waitFor(t, "disconnect", func() bool { return !b.Connected() })

	err := b.Publish(context.Background(), testMessage(1, 7))
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("Publish() during outage error = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, apperr.ErrBrokerDisconnected) {
		t.Fatalf("Publish() during outage error = %v, want ErrBrokerDisconnected cause", err)
	}

	x.Restore()
	waitFor(t, "reconnect", b.Connected)

	if err := b.Publish(context.Background(), testMessage(2, 7)); err != nil {
		t.Fatalf("Publish() after reconnect error = %v", err)
	}
	waitFor(t, "delivery after reconnect", func() bool { return len(got.snapshot()) >= 1 })

	// Nothing published during the outage is replayed.
	time.Sleep(20 * time.Millisecond)
	msgs := got.snapshot()
	if len(msgs) != 1 || msgs[0].ID != 2 {
		t.Fatalf("deliveries = %+v, want only message 2", msgs)
	}
}

func TestBridgeStopsOnCancel(t *testing.T) {
	x := NewMemoryExchange()
	x.Sever()

	ctx, cancel := context.WithCancel(context.Background())
	b := NewBridge(x, time.Hour, "a", zerolog.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx, func(models.Message) {})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if b.Connected() {
		t.Fatal("bridge reports connected after stop")
	}
	if x.Connections() != 0 {
		t.Fatalf("open connections = %d, want 0", x.Connections())
	}
}

func TestPublishBeforeRunIsNotConnected(t *testing.T) {
	b := NewBridge(NewMemoryExchange(), testRetry, "a", zerolog.Nop())

	if err := b.Publish(context.Background(), testMessage(1, 1)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish() error = %v, want ErrNotConnected", err)
	}
}
