package registry

import (
	"sync"
	"testing"
)

func TestRegister_FirstConnection(t *testing.T) {
	r := New()

	if !r.Register("u1", "c1") {
		t.Fatal("first connection should report the online transition")
	}
	if !r.IsOnline("u1") {
		t.Fatal("user should be online after first registration")
	}
}

func TestRegister_SecondConnectionNoTransition(t *testing.T) {
	r := New()

	r.Register("u1", "c1")
	if r.Register("u1", "c2") {
		t.Fatal("second connection must not report a transition")
	}
	if got := len(r.ConnectionsFor("u1")); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	r := New()

	r.Register("u1", "c1")
	if r.Register("u1", "c1") {
		t.Fatal("re-registering the same connection must be a no-op")
	}
	if got := len(r.ConnectionsFor("u1")); got != 1 {
		t.Fatalf("expected 1 connection after duplicate register, got %d", got)
	}
}

func TestUnregister_LastConnection(t *testing.T) {
	r := New()
	r.Register("u1", "c1")

	userID, last := r.Unregister("c1")
	if userID != "u1" {
		t.Fatalf("expected owning user u1, got %q", userID)
	}
	if !last {
		t.Fatal("removing the only connection should report the offline transition")
	}
	if r.IsOnline("u1") {
		t.Fatal("user should be offline after last connection closes")
	}
}

func TestUnregister_NotLastConnection(t *testing.T) {
	r := New()
	r.Register("u1", "c1")
	r.Register("u1", "c2")

	userID, last := r.Unregister("c1")
	if userID != "u1" || last {
		t.Fatalf("expected (u1, false), got (%q, %v)", userID, last)
	}
	if !r.IsOnline("u1") {
		t.Fatal("user should remain online with one connection left")
	}
}

func TestUnregister_UnknownConnection(t *testing.T) {
	r := New()

	userID, last := r.Unregister("ghost")
	if userID != "" || last {
		t.Fatalf("unknown connection should return (\"\", false), got (%q, %v)", userID, last)
	}
}

func TestUnregister_ClearsReverseIndex(t *testing.T) {
	r := New()
	r.Register("u1", "c1")
	r.Unregister("c1")

	if got := r.UserFor("c1"); got != "" {
		t.Fatalf("connection ID must not be retained after unregister, got owner %q", got)
	}
	if got := len(r.ConnectionsFor("u1")); got != 0 {
		t.Fatalf("expected no connections after unregister, got %d", got)
	}
}

// isOnline must reflect connectionCount > 0 at every point of an arbitrary
// register/unregister sequence, with transitions only at the 0<->1 edges.
func TestOnlineTracksOccupancy(t *testing.T) {
	r := New()

	transitions := 0
	if r.Register("u1", "c1") {
		transitions++
	}
	if r.Register("u1", "c2") {
		transitions++
	}
	if _, last := r.Unregister("c1"); last {
		transitions++
	}
	if !r.IsOnline("u1") {
		t.Fatal("user with one remaining connection must be online")
	}
	if _, last := r.Unregister("c2"); last {
		transitions++
	}
	if r.IsOnline("u1") {
		t.Fatal("user with no connections must be offline")
	}

	// One online edge (0->1) and one offline edge (1->0); the 1->2 and 2->1
	// steps are silent.
	if transitions != 2 {
		t.Fatalf("expected exactly 2 transitions, got %d", transitions)
	}
}

func TestConnectionsExcept(t *testing.T) {
	r := New()
	r.Register("u1", "c1")
	r.Register("u1", "c2")
	r.Register("u2", "c3")

	got := r.ConnectionsExcept("u1")
	if len(got) != 1 || got[0] != "c3" {
		t.Fatalf("expected [c3], got %v", got)
	}

	all := r.ConnectionsExcept("")
	if len(all) != 3 {
		t.Fatalf("expected all 3 connections, got %v", all)
	}
}

func TestOnlineCount(t *testing.T) {
	r := New()
	r.Register("u1", "c1")
	r.Register("u1", "c2")
	r.Register("u2", "c3")

	if got := r.OnlineCount(); got != 2 {
		t.Fatalf("expected 2 online users, got %d", got)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := "u" + string(rune('a'+n%5))
			conn := "c" + string(rune('0'+n%10)) + string(rune('a'+n/10))
			r.Register(user, conn)
			r.IsOnline(user)
			r.ConnectionsFor(user)
			r.Unregister(conn)
		}(i)
	}
	wg.Wait()

	if got := r.OnlineCount(); got != 0 {
		t.Fatalf("expected empty registry after balanced churn, got %d users", got)
	}
}
