package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

func TestPresenceTransitionsOnlyAtEdges(t *testing.T) {
	p := NewPresenceRegistry()

	if !p.Attach("u1", "c1") {
		t.Fatal("first attach must report transition")
	}
	for _, c := range []core.ConnID{"c2", "c3"} {
		if p.Attach("u1", c) {
			t.Fatalf("attach %s reported transition", c)
		}
	}
	if p.Detach("u1", "c1") || p.Detach("u1", "c2") {
		t.Fatal("partial detach reported transition")
	}
	if !p.IsOnline("u1") {
		t.Fatal("user with one connection must be online")
	}
	if !p.Detach("u1", "c3") {
		t.Fatal("final detach must report transition")
	}
	if p.IsOnline("u1") {
		t.Fatal("user still online after final detach")
	}
	if n := p.Len(); n != 0 {
		t.Fatalf("residual entries = %d, want 0", n)
	}
}

func TestPresenceIdempotent(t *testing.T) {
	p := NewPresenceRegistry()
	p.Attach("u1", "c1")
	if p.Attach("u1", "c1") {
		t.Fatal("duplicate attach reported transition")
	}
	if p.Detach("u1", "nope") {
		t.Fatal("unknown detach reported transition")
	}
	if !p.Detach("u1", "c1") {
		t.Fatal("expected transition")
	}
	if p.Detach("u1", "c1") {
		t.Fatal("second detach reported transition")
	}
	if p.Detach("ghost", "c1") {
		t.Fatal("detach of unknown user reported transition")
	}
}

func TestPresenceFilterAndSnapshot(t *testing.T) {
	p := NewPresenceRegistry()
	p.Attach("a", "1")
	p.Attach("b", "2")

	got := p.FilterOnline([]domain.UserID{"a", "c", "b", "a"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("FilterOnline = %v", got)
	}
	if n := len(p.OnlineUsers()); n != 2 {
		t.Fatalf("OnlineUsers len = %d, want 2", n)
	}
	p.Close()
	if p.Len() != 0 || p.IsOnline("a") {
		t.Fatal("Close left entries behind")
	}
}

func TestPresenceConcurrentAttachDetach(t *testing.T) {
	p := NewPresenceRegistry()
	const users, conns = 20, 25

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts = map[domain.UserID]int{}
		lasts  = map[domain.UserID]int{}
	)
	for u := 0; u < users; u++ {
		user := domain.UserID(fmt.Sprintf("u%d", u))
		for c := 0; c < conns; c++ {
			conn := core.ConnID(fmt.Sprintf("%s-c%d", user, c))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if p.Attach(user, conn) {
					mu.Lock()
					firsts[user]++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()
	for u := 0; u < users; u++ {
		user := domain.UserID(fmt.Sprintf("u%d", u))
		for c := 0; c < conns; c++ {
			conn := core.ConnID(fmt.Sprintf("%s-c%d", user, c))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if p.Detach(user, conn) {
					mu.Lock()
					lasts[user]++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		user := domain.UserID(fmt.Sprintf("u%d", u))
		if firsts[user] != 1 || lasts[user] != 1 {
			t.Fatalf("%s: firsts=%d lasts=%d, want 1/1", user, firsts[user], lasts[user])
		}
	}
	if p.Len() != 0 {
		t.Fatalf("residual entries = %d", p.Len())
	}
}
