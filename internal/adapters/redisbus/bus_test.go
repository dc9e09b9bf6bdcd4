package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dkeye/Chat/internal/core"
	"github.com/redis/go-redis/v9"
)

func newBus(t *testing.T, mr *miniredis.Miniredis, node string) *Bus {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test:events", node)
}

func TestBusRelaysForeignDeliveries(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newBus(t, mr, "node-a")
	b := newBus(t, mr, "node-b")

	listener, err := b.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	got := make(chan core.Delivery, 4)
	go listener.Run(ctx, func(_ context.Context, d core.Delivery) core.PublishResult {
		got <- d
		return core.PublishResult{}
	})

	// node b ignores its own messages
	if err := b.Publish(ctx, core.Delivery{Event: core.UserOnline{UserID: "self"}, Everyone: true}); err != nil {
		t.Fatal(err)
	}
	want := core.Delivery{
		Event:    core.MessageRead{ChatID: "c1", UserID: "u1", LastReadMessageID: 30},
		Channels: []core.ChannelID{core.ChatChannel("c1")},
		SkipUser: "u1",
	}
	if err := a.Publish(ctx, want); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-got:
		ev, ok := d.Event.(core.MessageRead)
		if !ok {
			t.Fatalf("event = %T, want MessageRead", d.Event)
		}
		if ev.LastReadMessageID != 30 || ev.UserID != "u1" {
			t.Fatalf("event = %+v", ev)
		}
		if len(d.Channels) != 1 || d.Channels[0] != "chat:c1" || d.SkipUser != "u1" {
			t.Fatalf("delivery = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery not relayed")
	}

	select {
	case d := <-got:
		t.Fatalf("unexpected extra delivery %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDecodeRejectsReplies(t *testing.T) {
	if _, _, err := decode([]byte(`{"node":"x","event":{"type":"ack","payload":{}}}`)); err == nil {
		t.Fatal("ack frame accepted from the bus")
	}
	if _, _, err := decode([]byte(`not json`)); err == nil {
		t.Fatal("garbage accepted")
	}
}
