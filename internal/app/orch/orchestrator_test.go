package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	err    error
	panics bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics {
		panic("boom")
	}
	if r.closed {
		return core.ErrConnClosed
	}
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) events(t *testing.T) []core.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Event, 0, len(r.frames))
	for _, f := range r.frames {
		ev, err := core.DecodeEvent(f)
		if err != nil {
			t.Fatalf("decode %s: %v", f, err)
		}
		out = append(out, ev)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

func count[T core.Event](t *testing.T, r *recorder, match func(T) bool) int {
	t.Helper()
	n := 0
	for _, ev := range r.events(t) {
		if v, ok := ev.(T); ok && (match == nil || match(v)) {
			n++
		}
	}
	return n
}

type busRecorder struct {
	mu   sync.Mutex
	sent []core.Delivery
}

func (b *busRecorder) Publish(_ context.Context, d core.Delivery) error {
	b.mu.Lock()
	b.sent = append(b.sent, d)
	b.mu.Unlock()
	return nil
}

func (b *busRecorder) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// fixture: c1 = {u1, u2, u3} with 50 messages, c2 = {u1, u4}, u5 has no chats.
func newFixture(t *testing.T, scope PresenceScope) (*Orchestrator, *memory.Store) {
	t.Helper()
	repo := memory.New()
	for _, u := range []domain.UserID{"u1", "u2", "u3"} {
		repo.AddMember("c1", u, domain.RoleMember)
	}
	repo.AddMember("c2", "u1", domain.RoleOwner)
	repo.AddMember("c2", "u4", domain.RoleMember)
	repo.SeedRange("c1", 50)

	cache := app.NewMembershipCache(app.CacheConfig{})
	var seq atomic.Int64
	o := &Orchestrator{
		Registry: app.NewRegistry(),
		Hub:      app.NewChannelHub(),
		Presence: app.NewPresenceRegistry(),
		Cache:    cache,
		Reads:    app.NewReadStateService(repo, cache),
		Repo:     repo,
		Policy:   app.SimplePolicy{},
		Scope:    scope,
		NewConnID: func() core.ConnID {
			return core.ConnID(fmt.Sprintf("conn-%d", seq.Add(1)))
		},
	}
	return o, repo
}

func connect(t *testing.T, o *Orchestrator, user domain.UserID) (core.ConnID, *recorder) {
	t.Helper()
	rec := &recorder{}
	conn, err := o.OnConnect(context.Background(), user, rec)
	if err != nil {
		t.Fatalf("OnConnect(%s): %v", user, err)
	}
	return conn, rec
}

func onlineOf(user domain.UserID) func(core.UserOnline) bool {
	return func(e core.UserOnline) bool { return e.UserID == user }
}

func offlineOf(user domain.UserID) func(core.UserOffline) bool {
	return func(e core.UserOffline) bool { return e.UserID == user }
}

func TestOnConnectRejectsAnonymous(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	if _, err := o.OnConnect(context.Background(), "", &recorder{}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if o.Registry.Len() != 0 || o.Presence.Len() != 0 {
		t.Fatal("anonymous connect left state behind")
	}
}

func TestMultiDevicePresence(t *testing.T) {
	t.Parallel()
	o, repo := newFixture(t, ScopeSharedChats)
	ctx := context.Background()
	_, peer := connect(t, o, "u2")

	phone, _ := connect(t, o, "u1")
	laptop, _ := connect(t, o, "u1")
	if n := count(t, peer, onlineOf("u1")); n != 1 {
		t.Fatalf("peer saw %d UserOnline for u1, want 1", n)
	}

	o.OnDisconnect(ctx, phone)
	if n := count(t, peer, offlineOf("u1")); n != 0 {
		t.Fatalf("offline sent while a device is still connected")
	}
	if _, ok := repo.LastOnline("u1"); ok {
		t.Fatal("last online persisted before final disconnect")
	}

	o.OnDisconnect(ctx, laptop)
	o.OnDisconnect(ctx, laptop)
	if n := count(t, peer, offlineOf("u1")); n != 1 {
		t.Fatalf("peer saw %d UserOffline for u1, want 1", n)
	}
	if _, ok := repo.LastOnline("u1"); !ok {
		t.Fatal("last online not persisted")
	}
	if o.Presence.IsOnline("u1") {
		t.Fatal("u1 still online")
	}
}

func TestPresenceScope(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scope         PresenceScope
		strangerSees  int
		coMemberSees  int
		otherChatSees int
	}{
		{scope: ScopeSharedChats, strangerSees: 0, coMemberSees: 1, otherChatSees: 1},
		{scope: ScopeAll, strangerSees: 1, coMemberSees: 1, otherChatSees: 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			t.Parallel()
			o, _ := newFixture(t, tt.scope)
			_, stranger := connect(t, o, "u5")
			_, coMember := connect(t, o, "u2")
			_, otherChat := connect(t, o, "u4")
			connect(t, o, "u1")

			if n := count(t, stranger, onlineOf("u1")); n != tt.strangerSees {
				t.Errorf("stranger saw %d, want %d", n, tt.strangerSees)
			}
			if n := count(t, coMember, onlineOf("u1")); n != tt.coMemberSees {
				t.Errorf("co-member saw %d, want %d", n, tt.coMemberSees)
			}
			if n := count(t, otherChat, onlineOf("u1")); n != tt.otherChatSees {
				t.Errorf("c2 member saw %d, want %d", n, tt.otherChatSees)
			}
		})
	}
}

func TestMarkAsReadFanOut(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	ctx := context.Background()

	acting, actingRec := connect(t, o, "u1")
	_, otherDevice := connect(t, o, "u1")
	_, member := connect(t, o, "u2")
	_, outsider := connect(t, o, "u4")
	for _, r := range []*recorder{actingRec, otherDevice, member, outsider} {
		r.reset()
	}

	res, err := o.MarkMessageAsRead(ctx, acting, "c1", 30)
	if err != nil {
		t.Fatalf("MarkMessageAsRead: %v", err)
	}
	if res.LastReadMessageID != 30 || res.UnreadCount != 20 {
		t.Fatalf("result = %+v", res)
	}

	unread := func(e core.UnreadCountUpdated) bool { return e.ChatID == "c1" && e.UnreadCount == 20 }
	read := func(e core.MessageRead) bool { return e.UserID == "u1" && e.LastReadMessageID == 30 }

	if n := count(t, otherDevice, unread); n != 1 {
		t.Errorf("other device got %d unread updates, want 1", n)
	}
	if n := count[core.UnreadCountUpdated](t, actingRec, nil); n != 0 {
		t.Errorf("acting connection got its own unread update")
	}
	if n := count(t, member, read); n != 1 {
		t.Errorf("chat member got %d MessageRead, want 1", n)
	}
	if n := count[core.MessageRead](t, otherDevice, nil) + count[core.MessageRead](t, actingRec, nil); n != 0 {
		t.Errorf("actor's own sessions got %d MessageRead", n)
	}
	if n := len(outsider.events(t)); n != 0 {
		t.Errorf("non-member got %d events", n)
	}

	// a regressing mark keeps the cursor and does not announce a read,
	// but the actor's other devices still converge on the unread count
	member.reset()
	otherDevice.reset()
	res, err = o.MarkMessageAsRead(ctx, acting, "c1", 25)
	if err != nil {
		t.Fatal(err)
	}
	if res.LastReadMessageID != 30 || res.UnreadCount != 20 {
		t.Fatalf("regressing result = %+v", res)
	}
	if n := count[core.MessageRead](t, member, nil); n != 0 {
		t.Fatalf("MessageRead sent for a cursor that did not move")
	}
	if n := count(t, otherDevice, unread); n != 1 {
		t.Fatalf("other device got %d unread updates after a non-advancing mark, want 1", n)
	}
}

func TestMembershipGating(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	ctx := context.Background()
	conn, _ := connect(t, o, "u4")

	if _, err := o.MarkAsRead(ctx, conn, "c1", nil); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("MarkAsRead err = %v", err)
	}
	if err := o.JoinChatChannel(ctx, conn, "c1"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("JoinChatChannel err = %v", err)
	}
	if err := o.Typing(ctx, conn, "c1"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Typing err = %v", err)
	}
	if _, err := o.GetOnlineMembers(ctx, conn, "c1"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("GetOnlineMembers err = %v", err)
	}
	if _, err := o.GetReadInfo(ctx, "missing", "c1"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("unknown connection err = %v", err)
	}
	if o.Registry.Subscribed(conn, core.ChatChannel("c1")) {
		t.Fatal("forbidden join left a subscription")
	}
}

func TestReadInfoAndUnreadCounts(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	ctx := context.Background()
	conn, _ := connect(t, o, "u2")

	info, err := o.GetReadInfo(ctx, conn, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if info.UnreadCount != 50 || info.FirstUnreadMessageID != 1 || info.LastReadAt != nil {
		t.Fatalf("info = %+v", info)
	}
	all, err := o.GetUnreadCounts(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if all.TotalUnread != 50 || len(all.PerChat) != 1 {
		t.Fatalf("all = %+v", all)
	}
}

func TestTypingAndOnlineMembers(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	ctx := context.Background()
	typist, own := connect(t, o, "u1")
	_, peer := connect(t, o, "u2")

	if err := o.Typing(ctx, typist, "c1"); err != nil {
		t.Fatal(err)
	}
	if n := count(t, peer, func(e core.UserTyping) bool { return e.UserID == "u1" }); n != 1 {
		t.Fatalf("peer got %d typing events", n)
	}
	if n := count[core.UserTyping](t, own, nil); n != 0 {
		t.Fatal("typist received own typing event")
	}

	online, err := o.GetOnlineMembers(ctx, typist, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(online) != 2 || online[0] != "u1" || online[1] != "u2" {
		t.Fatalf("online = %v, want [u1 u2]", online)
	}
}

func TestBackpressurePolicy(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	ctx := context.Background()
	actor, _ := connect(t, o, "u1")
	slowConn, slow := connect(t, o, "u2")
	slow.mu.Lock()
	slow.err = core.ErrBackpressure
	slow.mu.Unlock()

	if err := o.Typing(ctx, actor, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := o.Registry.Get(slowConn); !ok {
		t.Fatal("slow receiver kicked for a typing frame")
	}

	if _, err := o.MarkAsRead(ctx, actor, "c1", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := o.Registry.Get(slowConn); ok {
		t.Fatal("slow receiver still registered after missing a read event")
	}
	if !slow.isClosed() {
		t.Fatal("kicked transport not closed")
	}
	if o.Presence.IsOnline("u2") {
		t.Fatal("kicked user still online")
	}
}

func TestFanOutIsolatesPanickingReceiver(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	ctx := context.Background()
	actor, _ := connect(t, o, "u1")
	_, bad := connect(t, o, "u2")
	_, good := connect(t, o, "u3")
	bad.mu.Lock()
	bad.panics = true
	bad.mu.Unlock()

	res := o.deliver(ctx, core.Delivery{
		Event:    core.UserTyping{ChatID: "c1", UserID: "u1"},
		Channels: []core.ChannelID{core.ChatChannel("c1")},
		SkipConn: actor,
	})
	if res.SendTo != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 sent 1 failed", res)
	}
	if n := count[core.UserTyping](t, good, nil); n != 1 {
		t.Fatalf("healthy receiver got %d events", n)
	}
}

func TestRecipientsDeduplicated(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	_, rec := connect(t, o, "u1")
	rec.reset()

	// u1 is in both chats and its user channel; one frame must arrive
	res := o.deliver(context.Background(), core.Delivery{
		Event:    core.UserOnline{UserID: "u9"},
		Channels: []core.ChannelID{core.ChatChannel("c1"), core.ChatChannel("c2"), core.UserChannel("u1")},
	})
	if res.SendTo != 1 || len(rec.events(t)) != 1 {
		t.Fatalf("SendTo = %d frames = %d, want 1", res.SendTo, len(rec.events(t)))
	}
}

func TestNotifyMembershipChanged(t *testing.T) {
	t.Parallel()
	o, repo := newFixture(t, ScopeSharedChats)
	ctx := context.Background()
	typist, _ := connect(t, o, "u1")
	newcomer, rec := connect(t, o, "u5")

	// warm the negative cache entry
	if _, err := o.GetReadInfo(ctx, newcomer, "c1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v", err)
	}

	repo.AddMember("c1", "u5", domain.RoleMember)
	if err := o.NotifyMembershipChanged(ctx, "u5", "c1", true); err != nil {
		t.Fatal(err)
	}
	if !o.Registry.Subscribed(newcomer, core.ChatChannel("c1")) {
		t.Fatal("live connection not subscribed after join")
	}
	if err := o.Typing(ctx, typist, "c1"); err != nil {
		t.Fatal(err)
	}
	if n := count[core.UserTyping](t, rec, nil); n != 1 {
		t.Fatalf("newcomer got %d typing events", n)
	}

	if err := o.NotifyMembershipChanged(ctx, "u5", "c2", true); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("unconfirmed join err = %v, want ErrForbidden", err)
	}
	if o.Registry.Subscribed(newcomer, core.ChatChannel("c2")) {
		t.Fatal("unconfirmed join subscribed the connection")
	}

	if err := o.NotifyMembershipChanged(ctx, "u5", "c1", false); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("leave while still a member err = %v, want ErrForbidden", err)
	}
	if !o.Registry.Subscribed(newcomer, core.ChatChannel("c1")) {
		t.Fatal("unconfirmed leave dropped the subscription")
	}

	repo.RemoveMember("c1", "u5")
	if err := o.NotifyMembershipChanged(ctx, "u5", "c1", false); err != nil {
		t.Fatal(err)
	}
	if o.Registry.Subscribed(newcomer, core.ChatChannel("c1")) {
		t.Fatal("still subscribed after leave")
	}
	if _, err := o.GetReadInfo(ctx, newcomer, "c1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err after leave = %v", err)
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	o, repo := newFixture(t, ScopeSharedChats)
	o.Now = func() time.Time { return time.Unix(1700000000, 0) }
	_, a := connect(t, o, "u1")
	_, b := connect(t, o, "u2")

	o.Shutdown(context.Background())

	if !a.isClosed() || !b.isClosed() {
		t.Fatal("sessions not closed")
	}
	if o.Registry.Len() != 0 || o.Presence.Len() != 0 || o.Hub.Len() != 0 {
		t.Fatalf("state left: registry=%d presence=%d channels=%d", o.Registry.Len(), o.Presence.Len(), o.Hub.Len())
	}
	if at, ok := repo.LastOnline("u2"); !ok || at.Unix() != 1700000000 {
		t.Fatalf("last online = %v %v", at, ok)
	}
}

func TestBusPublishing(t *testing.T) {
	t.Parallel()
	o, _ := newFixture(t, ScopeSharedChats)
	bus := &busRecorder{}
	o.Bus = bus
	ctx := context.Background()

	conn, _ := connect(t, o, "u1")
	if bus.len() != 1 {
		t.Fatalf("bus got %d deliveries after connect, want 1", bus.len())
	}
	_, rec := connect(t, o, "u2")
	before := bus.len()

	res := o.DeliverRemote(ctx, core.Delivery{
		Event:    core.UserOnline{UserID: "remote"},
		Channels: []core.ChannelID{core.ChatChannel("c1")},
	})
	if res.SendTo != 2 {
		t.Fatalf("remote delivery reached %d sessions, want 2", res.SendTo)
	}
	if bus.len() != before {
		t.Fatal("remote delivery was republished")
	}
	if n := count(t, rec, onlineOf("remote")); n != 1 {
		t.Fatalf("local session got %d remote events", n)
	}
	o.OnDisconnect(ctx, conn)
}

func TestParsePresenceScope(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]PresenceScope{"": ScopeSharedChats, "shared_chats": ScopeSharedChats, "all": ScopeAll} {
		got, err := ParsePresenceScope(raw)
		if err != nil || got != want {
			t.Errorf("ParsePresenceScope(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParsePresenceScope("everyone"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestPresenceNotSentToSubject(t *testing.T) {
	t.Parallel()
	for _, scope := range []PresenceScope{ScopeSharedChats, ScopeAll} {
		t.Run(string(scope), func(t *testing.T) {
			t.Parallel()
			o, _ := newFixture(t, scope)
			_, peer := connect(t, o, "u2")
			phone, own := connect(t, o, "u1")
			connect(t, o, "u1")

			o.OnDisconnect(context.Background(), phone)
			if n := count(t, own, onlineOf("u1")) + count(t, own, offlineOf("u1")); n != 0 {
				t.Fatalf("subject received %d of its own presence events", n)
			}
			if n := count(t, peer, onlineOf("u1")); n != 1 {
				t.Fatalf("peer saw %d UserOnline, want 1", n)
			}
		})
	}
}

// gatedRepo blocks PersistLastOnline until gate is closed.
type gatedRepo struct {
	*memory.Store
	entered chan struct{}
	gate    chan struct{}
}

func (r *gatedRepo) PersistLastOnline(ctx context.Context, user domain.UserID, at time.Time) error {
	close(r.entered)
	<-r.gate
	return r.Store.PersistLastOnline(ctx, user, at)
}

func TestReconnectDuringOfflineKeepsUserOnline(t *testing.T) {
	t.Parallel()
	o, store := newFixture(t, ScopeSharedChats)
	repo := &gatedRepo{Store: store, entered: make(chan struct{}), gate: make(chan struct{})}
	o.Repo = repo
	ctx := context.Background()

	_, observer := connect(t, o, "u2")
	first, _ := connect(t, o, "u1")
	observer.reset()

	done := make(chan struct{})
	go func() {
		o.OnDisconnect(ctx, first)
		close(done)
	}()
	<-repo.entered

	_, second := connect(t, o, "u1")
	close(repo.gate)
	<-done

	if !o.Presence.IsOnline("u1") {
		t.Fatal("u1 not online after reconnect")
	}
	var last core.Event
	for _, ev := range observer.events(t) {
		switch e := ev.(type) {
		case core.UserOnline:
			if e.UserID == "u1" {
				last = ev
			}
		case core.UserOffline:
			if e.UserID == "u1" {
				last = ev
			}
		}
	}
	if _, ok := last.(core.UserOnline); !ok {
		t.Fatalf("observer's last presence event for u1 = %#v, want UserOnline", last)
	}
	if n := count(t, second, offlineOf("u1")); n != 0 {
		t.Fatal("new connection received its own user's offline event")
	}
}
