package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Jacobpac15/chatapp-parcial3/internal/access"
	"github.com/Jacobpac15/chatapp-parcial3/internal/broker"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/hub"
	"github.com/Jacobpac15/chatapp-parcial3/internal/ingest"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
	"github.com/Jacobpac15/chatapp-parcial3/internal/store/storetest"
)

type wsTestFrame struct {
	Type      string          `json:"type"`
	RoomID    int64           `json:"roomId"`
	MessageID int64           `json:"messageId"`
	ID        int64           `json:"id"`
	Message   string          `json:"message"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	User      models.Identity `json:"user"`
	Room      struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		IsPrivate bool   `json:"isPrivate"`
	} `json:"room"`
}

type relay struct {
	t        *testing.T
	srv      *httptest.Server
	store    *storetest.Memory
	tokens   *crypto.TokenManager
	registry *hub.Registry
	exchange *broker.MemoryExchange
	bridge   *broker.Bridge
	coord    *Coordinator
}

func newRelay(t *testing.T, cfg Config) *relay {
	t.Helper()

	mem := storetest.NewMemory()
	tokens := crypto.NewTokenManager(crypto.TokenConfig{Secret: "test-secret", Issuer: "test", TTL: time.Hour})
	registry := hub.NewRegistry()
	exchange := broker.NewMemoryExchange()
	bridge := broker.NewBridge(exchange, 10*time.Millisecond, "test-instance", zerolog.Nop())
	oracle := access.NewOracle(mem)

	coord := NewCoordinator(tokens, oracle, ingest.NewPipeline(mem, oracle), bridge, registry, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bridge.Run(ctx, coord.HandleBrokerMessage)
	}()

	srv := httptest.NewServer(coord)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})

	r := &relay{t: t, srv: srv, store: mem, tokens: tokens, registry: registry, exchange: exchange, bridge: bridge, coord: coord}
	r.waitFor("broker connection", bridge.Connected)
	return r
}

func (r *relay) waitFor(what string, cond func() bool) {
	r.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.t.Fatalf("timed out waiting for %s", what)
}

func (r *relay) user(name string) models.Identity {
	r.t.Helper()
	u, err := r.store.CreateUser(context.Background(), name, "hash")
	if err != nil {
		r.t.Fatalf("create user: %v", err)
	}
	return u.Identity()
}

func (r *relay) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws" + query
}

// connect dials as id and consumes the connected frame.
func (r *relay) connect(id models.Identity) *websocket.Conn {
	r.t.Helper()
	token, err := r.tokens.Issue(id)
	if err != nil {
		r.t.Fatalf("issue token: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL("?token="+token), nil)
	if err != nil {
		r.t.Fatalf("dial websocket: %v", err)
	}
	r.t.Cleanup(func() { _ = conn.Close() })

	got := readFrame(r.t, conn)
	if got.Type != "connected" || got.User != id {
		r.t.Fatalf("first frame = %+v, want connected as %+v", got, id)
	}
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return got
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) wsTestFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		got := readFrame(t, conn)
		if got.Type == frameType {
			return got
		}
	}
	t.Fatalf("no %q frame received", frameType)
	return wsTestFrame{}
}

func (r *relay) join(conn *websocket.Conn, roomID int64, code string) wsTestFrame {
	r.t.Helper()
	frame := map[string]any{"type": "join", "roomId": roomID}
	if code != "" {
		frame["accessCode"] = code
	}
	writeFrame(r.t, conn, frame)
	return readFrame(r.t, conn)
}

func TestInvalidTokenClosesWith4001(t *testing.T) {
	r := newRelay(t, Config{})

	for _, query := range []string{"", "?token=not-a-jwt"} {
		conn, _, err := websocket.DefaultDialer.Dial(r.wsURL(query), nil)
		if err != nil {
			t.Fatalf("dial %q: %v", query, err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) || closeErr.Code != CloseInvalidToken {
			t.Fatalf("query %q: read error = %v, want close code %d", query, err, CloseInvalidToken)
		}
		conn.Close()
	}

	if n := r.coord.ActiveSessions(); n != 0 {
		t.Fatalf("ActiveSessions() = %d, want 0", n)
	}
}

func TestBearerHeaderAuthenticates(t *testing.T) {
	r := newRelay(t, Config{})
	alice := r.user("alice")
	token, _ := r.tokens.Issue(alice)

	header := map[string][]string{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL(""), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if got := readFrame(t, conn); got.Type != "connected" || got.User.Username != "alice" {
		t.Fatalf("first frame = %+v", got)
	}
}

func TestAliceAndBobExchangeMessages(t *testing.T) {
	r := newRelay(t, Config{})
	alice := r.user("alice")
	bob := r.user("bob")
	r.store.PutRoom(models.Room{ID: 7, Name: "General", OwnerID: bob.ID})

	bobConn := r.connect(bob)
	if got := r.join(bobConn, 7, ""); got.Type != "room_joined" {
		t.Fatalf("bob join = %+v", got)
	}

	aliceConn := r.connect(alice)
	joined := r.join(aliceConn, 7, "")
	if joined.Type != "room_joined" || joined.RoomID != 7 {
		t.Fatalf("alice join = %+v", joined)
	}
	if joined.Room.ID != 7 || joined.Room.Name != "General" || joined.Room.IsPrivate {
		t.Fatalf("alice join room = %+v", joined.Room)
	}

	notice := readUntil(t, bobConn, "user_joined")
	if notice.RoomID != 7 || notice.User != alice {
		t.Fatalf("user_joined = %+v", notice)
	}

	writeFrame(t, bobConn, map[string]any{"type": "message", "roomId": 7, "content": "hi"})
	sent := readUntil(t, bobConn, "sent")
	if sent.RoomID != 7 || sent.MessageID == 0 {
		t.Fatalf("sent = %+v", sent)
	}

	got := readUntil(t, aliceConn, "message")
	if got.ID != sent.MessageID || got.RoomID != 7 || got.Content != "hi" {
		t.Fatalf("alice received %+v", got)
	}
	if got.User != (models.Identity{ID: bob.ID, Username: "bob"}) {
		t.Fatalf("message user = %+v", got.User)
	}

	stored, _, err := r.store.ListMessages(context.Background(), 7, 1, 0)
	if err != nil || len(stored) != 1 {
		t.Fatalf("ListMessages() = %v, %v", stored, err)
	}
	if stored[0].ID != got.ID || !stored[0].Timestamp.Equal(got.Timestamp) {
		t.Fatalf("delivered id/timestamp %d/%v differ from stored %d/%v", got.ID, got.Timestamp, stored[0].ID, stored[0].Timestamp)
	}
}

func TestUnsupportedAndMalformedFramesKeepConnectionOpen(t *testing.T) {
	r := newRelay(t, Config{})
	alice := r.user("alice")
	r.store.PutRoom(models.Room{ID: 1, Name: "General"})
	conn := r.connect(alice)

	writeFrame(t, conn, map[string]any{"type": "typing", "roomId": 1})
	if got := readFrame(t, conn); got.Type != "error" || got.Message != "unsupported type" {
		t.Fatalf("unsupported type reply = %+v", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if got := readFrame(t, conn); got.Type != "error" || got.Message != "invalid format" {
		t.Fatalf("malformed reply = %+v", got)
	}

	if got := r.join(conn, 1, ""); got.Type != "room_joined" {
		t.Fatalf("join after errors = %+v", got)
	}
}

func TestJoinErrors(t *testing.T) {
	r := newRelay(t, Config{})
	owner := r.user("owner")
	alice := r.user("alice")
	r.store.PutRoom(models.Room{ID: 3, Name: "Secret", IsPrivate: true, OwnerID: owner.ID, AccessCodeHash: crypto.HashAccessCode("letmein")})
	conn := r.connect(alice)

	tests := []struct {
		name   string
		frame  map[string]any
		roomID int64
		want   string
	}{
		{"missing room", map[string]any{"type": "join", "roomId": 99}, 99, "room not found"},
		{"bad room id", map[string]any{"type": "join", "roomId": "abc"}, 0, "invalid room id"},
		{"no code", map[string]any{"type": "join", "roomId": 3}, 3, "access code required"},
		{"wrong code", map[string]any{"type": "join", "roomId": 3, "accessCode": "nope"}, 3, "incorrect access code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFrame(t, conn, tt.frame)
			got := readFrame(t, conn)
			if got.Type != "error" || got.RoomID != tt.roomID || got.Message != tt.want {
				t.Fatalf("reply = %+v, want error %q for room %d", got, tt.want, tt.roomID)
			}
		})
	}

	if rows := r.store.MemberRows(3, alice.ID); rows != 0 {
		t.Fatalf("membership rows after failed joins = %d, want 0", rows)
	}
}

func TestPrivateJoinRecordsMembershipOnce(t *testing.T) {
	r := newRelay(t, Config{})
	owner := r.user("owner")
	alice := r.user("alice")
	r.store.PutRoom(models.Room{ID: 3, Name: "Secret", IsPrivate: true, OwnerID: owner.ID, AccessCodeHash: crypto.HashAccessCode("letmein")})
	conn := r.connect(alice)

	for i := 0; i < 2; i++ {
		got := r.join(conn, 3, "letmein")
		if got.Type != "room_joined" || !got.Room.IsPrivate {
			t.Fatalf("join #%d = %+v", i, got)
		}
	}
	if rows := r.store.MemberRows(3, alice.ID); rows != 1 {
		t.Fatalf("membership rows = %d, want 1", rows)
	}
	if st := r.registry.Stats(); st.Subscriptions != 1 {
		t.Fatalf("subscriptions = %d, want 1", st.Subscriptions)
	}
}

func TestMessageImplicitlySubscribesSender(t *testing.T) {
	r := newRelay(t, Config{})
	bob := r.user("bob")
	r.store.PutRoom(models.Room{ID: 5, Name: "Lobby"})
	conn := r.connect(bob)

	writeFrame(t, conn, map[string]any{"type": "message", "roomId": "5", "content": "first"})

	var sent, delivered bool
	for i := 0; i < 2; i++ {
		switch got := readFrame(t, conn); got.Type {
		case "sent":
			sent = got.RoomID == 5
		case "message":
			delivered = got.RoomID == 5 && got.Content == "first"
		default:
			t.Fatalf("unexpected frame %+v", got)
		}
	}
	if !sent || !delivered {
		t.Fatalf("sent=%v delivered=%v, want both", sent, delivered)
	}
}

func TestMessageErrors(t *testing.T) {
	r := newRelay(t, Config{})
	owner := r.user("owner")
	bob := r.user("bob")
	r.store.PutRoom(models.Room{ID: 1, Name: "General"})
	r.store.PutRoom(models.Room{ID: 2, Name: "Secret", IsPrivate: true, OwnerID: owner.ID, AccessCodeHash: crypto.HashAccessCode("x")})
	conn := r.connect(bob)

	tests := []struct {
		name   string
		frame  map[string]any
		roomID int64
		want   string
	}{
		{"empty content", map[string]any{"type": "message", "roomId": 1, "content": "   "}, 1, "message content is required"},
		{"no access", map[string]any{"type": "message", "roomId": 2, "content": "hi"}, 2, "access denied"},
		{"missing room", map[string]any{"type": "message", "roomId": 50, "content": "hi"}, 50, "room not found"},
		{"no room id", map[string]any{"type": "message", "content": "hi"}, 0, "invalid room id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFrame(t, conn, tt.frame)
			got := readFrame(t, conn)
			if got.Type != "error" || got.RoomID != tt.roomID || got.Message != tt.want {
				t.Fatalf("reply = %+v, want error %q for room %d", got, tt.want, tt.roomID)
			}
		})
	}

	if n := r.store.MessageCount(); n != 0 {
		t.Fatalf("persisted %d rejected messages", n)
	}
	if rooms := r.registry.Stats().Subscriptions; rooms != 0 {
		t.Fatalf("rejected messages created %d subscriptions", rooms)
	}
}

func TestLeaveAndDisconnectNotifyRoom(t *testing.T) {
	r := newRelay(t, Config{})
	alice := r.user("alice")
	bob := r.user("bob")
	r.store.PutRoom(models.Room{ID: 1, Name: "General"})
	r.store.PutRoom(models.Room{ID: 2, Name: "Random"})

	bobConn := r.connect(bob)
	r.join(bobConn, 1, "")
	r.join(bobConn, 2, "")

	aliceConn := r.connect(alice)
	r.join(aliceConn, 1, "")
	r.join(aliceConn, 2, "")
	readUntil(t, bobConn, "user_joined")
	readUntil(t, bobConn, "user_joined")

	writeFrame(t, aliceConn, map[string]any{"type": "leave", "roomId": 2})
	if got := readFrame(t, aliceConn); got.Type != "room_left" || got.RoomID != 2 {
		t.Fatalf("leave reply = %+v", got)
	}
	if left := readUntil(t, bobConn, "user_left"); left.RoomID != 2 || left.User != alice {
		t.Fatalf("user_left = %+v", left)
	}

	aliceConn.Close()
	if left := readUntil(t, bobConn, "user_left"); left.RoomID != 1 || left.User != alice {
		t.Fatalf("user_left on disconnect = %+v", left)
	}

	r.waitFor("alice cleanup", func() bool { return r.coord.ActiveSessions() == 1 })
	if st := r.registry.Stats(); st.Subscribers != 1 || st.Subscriptions != 2 {
		t.Fatalf("registry after disconnect = %+v", st)
	}

	// Fan-out after cleanup reaches only bob.
	writeFrame(t, bobConn, map[string]any{"type": "message", "roomId": 1, "content": "anyone?"})
	readUntil(t, bobConn, "message")
}

func TestBrokerOutageFailsPublishUntilReconnect(t *testing.T) {
	r := newRelay(t, Config{})
	alice := r.user("alice")
	bob := r.user("bob")
	r.store.PutRoom(models.Room{ID: 7, Name: "General"})

	aliceConn := r.connect(alice)
	r.join(aliceConn, 7, "")
	bobConn := r.connect(bob)
	r.join(bobConn, 7, "")
	readUntil(t, aliceConn, "user_joined")

	r.exchange.Sever()
	r.waitFor("broker disconnect", func() bool { return !r.bridge.Connected() })

	writeFrame(t, bobConn, map[string]any{"type": "message", "roomId": 7, "content": "lost"})
	got := readFrame(t, bobConn)
	if got.Type != "error" || got.RoomID != 7 || got.Message != "message broker unavailable" {
		t.Fatalf("publish during outage reply = %+v", got)
	}

	r.exchange.Restore()
	r.waitFor("broker reconnect", r.bridge.Connected)

	writeFrame(t, bobConn, map[string]any{"type": "message", "roomId": 7, "content": "back"})
	readUntil(t, bobConn, "sent")

	// The message rejected during the outage is never delivered.
	if got := readUntil(t, aliceConn, "message"); got.Content != "back" {
		t.Fatalf("alice received %+v after reconnect", got)
	}
}

func TestFrameRateLimitClosesConnection(t *testing.T) {
	r := newRelay(t, Config{MaxFramesPerSecond: 3})
	alice := r.user("alice")
	conn := r.connect(alice)

	for i := 0; i < 4; i++ {
		writeFrame(t, conn, map[string]any{"type": "noop"})
	}
	if got := readUntil(t, conn, "error"); got.Message != "unsupported type" {
		t.Fatalf("first reply = %+v", got)
	}

	var sawLimit bool
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var got wsTestFrame
		if err := conn.ReadJSON(&got); err != nil {
			break
		}
		if got.Message == "rate limit exceeded" {
			sawLimit = true
		}
	}
	if !sawLimit {
		t.Fatal("no rate limit error before close")
	}
	r.waitFor("session cleanup", func() bool { return r.coord.ActiveSessions() == 0 })
}

func TestShutdownClosesSessions(t *testing.T) {
	r := newRelay(t, Config{})
	conn := r.connect(r.user("alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.coord.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
	if n := r.coord.ActiveSessions(); n != 0 {
		t.Fatalf("ActiveSessions() = %d after shutdown", n)
	}
}

func TestHandleBrokerMessageFrame(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(newMessageFrame(models.Message{ID: 9, RoomID: 7, UserID: 2, Username: "bob", Content: "hi", Timestamp: ts}))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"message","id":9,"roomId":7,"user":{"id":2,"username":"bob"},"content":"hi","timestamp":"2026-03-01T12:00:00Z"}`
	if string(payload) != want {
		t.Fatalf("frame = %s\nwant    %s", payload, want)
	}
}

func TestRoomIDParsing(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{`7`, 7, true},
		{`"7"`, 7, true},
		{`0`, 0, false},
		{`-1`, 0, false},
		{`"abc"`, 0, false},
		{`1.5`, 0, false},
		{`null`, 0, false},
		{``, 0, false},
	}
	for _, tt := range tests {
		got, ok := inboundFrame{RoomID: json.RawMessage(tt.raw)}.roomID()
		if got != tt.want || ok != tt.ok {
			t.Errorf("roomID(%s) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
