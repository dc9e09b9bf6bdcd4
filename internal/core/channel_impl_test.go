package core

import (
	"testing"

	"github.com/dkeye/Chat/internal/domain"
)

func TestChannelUnsubscribeReportsEmpty(t *testing.T) {
	ch := NewChannelService(ChatChannel("c1"))
	a := NewSession("a", "u1", nil)
	b := NewSession("b", "u2", nil)
	ch.Subscribe(a)
	ch.Subscribe(b)
	ch.Subscribe(a)

	if n := ch.SubscriberCount(); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}
	if ch.Unsubscribe("a") {
		t.Fatal("channel reported empty with one subscriber left")
	}
	if !ch.Unsubscribe("b") {
		t.Fatal("channel did not report empty")
	}
}

func TestChannelIDChatOf(t *testing.T) {
	chat, ok := ChatChannel("c7").ChatOf()
	if !ok || chat != domain.ChatID("c7") {
		t.Fatalf("ChatOf = %q, %v", chat, ok)
	}
	if _, ok := UserChannel("u1").ChatOf(); ok {
		t.Fatal("user channel reported a chat")
	}
}

func TestDeliverySkips(t *testing.T) {
	d := Delivery{SkipUser: "u1", SkipConn: "c-2"}
	if !d.Skips(NewSession("c-1", "u1", nil)) {
		t.Fatal("expected skip by user")
	}
	if !d.Skips(NewSession("c-2", "u9", nil)) {
		t.Fatal("expected skip by conn")
	}
	if d.Skips(NewSession("c-3", "u2", nil)) {
		t.Fatal("unexpected skip")
	}
}
