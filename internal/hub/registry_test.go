package hub

import (
	"fmt"
	"sync"
	"testing"
)

type fakeSubscriber struct {
	id string

	mu       sync.Mutex
	received [][]byte
	refuse   bool
}

func newFake(id string) *fakeSubscriber { return &fakeSubscriber{id: id} }

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false
	}
	f.received = append(f.received, payload)
	return true
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry()
	alice := newFake("alice")

	if !r.Subscribe(alice, 7) {
		t.Fatal("first Subscribe() should report newly added")
	}
	if r.Subscribe(alice, 7) {
		t.Fatal("second Subscribe() should report already subscribed")
	}
	if got := len(r.Subscribers(7)); got != 1 {
		t.Fatalf("Subscribers(7) = %d, want 1", got)
	}

	if n := r.Fanout(7, []byte("hi"), ""); n != 1 {
		t.Fatalf("Fanout() = %d, want 1", n)
	}
	if alice.count() != 1 {
		t.Fatalf("alice received %d payloads, want exactly 1", alice.count())
	}
}

func TestFanoutOnlyReachesRoomSubscribers(t *testing.T) {
	r := NewRegistry()
	alice, bob, carol := newFake("alice"), newFake("bob"), newFake("carol")
	r.Subscribe(alice, 7)
	r.Subscribe(bob, 7)
	r.Subscribe(carol, 8)

	if n := r.Fanout(7, []byte("x"), ""); n != 2 {
		t.Fatalf("Fanout() = %d, want 2", n)
	}
	if carol.count() != 0 {
		t.Fatal("subscriber of another room received the payload")
	}
}

func TestFanoutExcludesAndCountsRefusals(t *testing.T) {
	r := NewRegistry()
	alice, bob, slow := newFake("alice"), newFake("bob"), newFake("slow")
	slow.refuse = true
	r.Subscribe(alice, 1)
	r.Subscribe(bob, 1)
	r.Subscribe(slow, 1)

	if n := r.Fanout(1, []byte("x"), "alice"); n != 1 {
		t.Fatalf("Fanout() = %d, want 1", n)
	}
	if alice.count() != 0 {
		t.Fatal("excluded subscriber received the payload")
	}
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry()
	alice := newFake("alice")

	if r.Unsubscribe(alice, 3) {
		t.Fatal("Unsubscribe() of a never-subscribed session should be a no-op")
	}

	r.Subscribe(alice, 3)
	if !r.Unsubscribe(alice, 3) {
		t.Fatal("Unsubscribe() should report removal")
	}
	if r.IsSubscribed(alice, 3) {
		t.Fatal("still subscribed after Unsubscribe()")
	}
	if st := r.Stats(); st != (Stats{}) {
		t.Fatalf("Stats() = %+v, want empty", st)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	r := NewRegistry()
	alice, bob := newFake("alice"), newFake("bob")
	r.Subscribe(alice, 2)
	r.Subscribe(alice, 1)
	r.Subscribe(bob, 1)

	left := r.UnsubscribeAll(alice)
	if fmt.Sprint(left) != "[1 2]" {
		t.Fatalf("UnsubscribeAll() = %v, want [1 2]", left)
	}
	if len(r.Rooms(alice)) != 0 {
		t.Fatal("Rooms() not empty after UnsubscribeAll()")
	}
	if !r.IsSubscribed(bob, 1) {
		t.Fatal("other subscribers must be unaffected")
	}
	if n := r.Fanout(2, []byte("x"), ""); n != 0 {
		t.Fatalf("Fanout() to abandoned room = %d, want 0", n)
	}

	if left := r.UnsubscribeAll(newFake("ghost")); len(left) != 0 {
		t.Fatalf("UnsubscribeAll(ghost) = %v, want empty", left)
	}
}

func TestIndexesAgree(t *testing.T) {
	r := NewRegistry()
	subs := []*fakeSubscriber{newFake("a"), newFake("b"), newFake("c")}
	for i, s := range subs {
		for room := int64(1); room <= int64(i+1); room++ {
			r.Subscribe(s, room)
		}
	}
	r.Unsubscribe(subs[2], 2)

	for _, s := range subs {
		for _, room := range r.Rooms(s) {
			if !r.IsSubscribed(s, room) {
				t.Errorf("%s lists room %d but is not in its subscriber set", s.id, room)
			}
		}
	}
	for room := int64(1); room <= 3; room++ {
		for _, sub := range r.Subscribers(room) {
			found := false
			for _, joined := range r.Rooms(sub) {
				if joined == room {
					found = true
				}
			}
			if !found {
				t.Errorf("room %d lists %s but its room set does not", room, sub.ID())
			}
		}
	}

	st := r.Stats()
	if st.Rooms != 3 || st.Subscribers != 3 || st.Subscriptions != 5 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestConcurrentSubscribeAndFanout(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := newFake(fmt.Sprintf("s-%d", i))
			r.Subscribe(s, int64(i%5))
			r.Fanout(int64(i%5), []byte("x"), "")
			if i%2 == 0 {
				r.UnsubscribeAll(s)
			}
		}(i)
	}
	wg.Wait()

	if st := r.Stats(); st.Subscribers != 25 {
		t.Fatalf("Stats().Subscribers = %d, want 25", st.Subscribers)
	}
}
