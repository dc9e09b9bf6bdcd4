package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

const fanoutWorkers = 32

// publish delivers d to local subscribers and hands it to the bus.
func (o *Orchestrator) publish(ctx context.Context, d core.Delivery) core.PublishResult {
	res := o.deliver(ctx, d)
	if o.Bus != nil {
		if err := o.Bus.Publish(ctx, d); err != nil {
			log.Error().Err(err).Str("module", "app.orch").Str("event", string(d.Event.Type())).Msg("bus publish")
		}
	}
	return res
}

// DeliverRemote fans out a delivery received from another node. It is
// never republished.
func (o *Orchestrator) DeliverRemote(ctx context.Context, d core.Delivery) core.PublishResult {
	return o.deliver(ctx, d)
}

func (o *Orchestrator) publishPresence(ctx context.Context, user domain.UserID, ev core.Event, chats []domain.ChatID) {
	d := core.Delivery{Event: ev, SkipUser: user}
	if o.Scope == ScopeAll {
		d.Everyone = true
	} else {
		d.Channels = make([]core.ChannelID, 0, len(chats))
		for _, chat := range chats {
			d.Channels = append(d.Channels, core.ChatChannel(chat))
		}
	}
	res := o.publish(ctx, d)
	log.Debug().
		Str("module", "app.orch").
		Str("event", string(ev.Type())).
		Str("user", string(user)).
		Int("send_to", res.SendTo).
		Msg("presence")
}

// recipients resolves d to distinct sessions. A connection subscribed to
// several of the targeted channels is counted once.
func (o *Orchestrator) recipients(d core.Delivery) []core.Session {
	var all []core.Session
	if d.Everyone {
		all = o.Registry.All()
	} else {
		for _, ch := range d.Channels {
			all = append(all, o.Hub.Subscribers(ch)...)
		}
	}
	seen := make(map[core.ConnID]struct{}, len(all))
	out := all[:0]
	for _, s := range all {
		if _, dup := seen[s.ID()]; dup || d.Skips(s) {
			continue
		}
		seen[s.ID()] = struct{}{}
		out = append(out, s)
	}
	return out
}

// deliver encodes the event once and sends it to every recipient. A failing
// or panicking receiver never affects the others.
func (o *Orchestrator) deliver(ctx context.Context, d core.Delivery) core.PublishResult {
	var res core.PublishResult
	if d.Event == nil {
		return res
	}
	targets := o.recipients(d)
	if len(targets) == 0 {
		return res
	}
	frame, err := core.EncodeEvent(d.Event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode event")
		return res
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(fanoutWorkers)
	for _, s := range targets {
		p.Go(func() {
			var sendErr error
			recovered := panics.Try(func() { sendErr = s.Signal().TrySend(frame) })
			if recovered != nil {
				sendErr = recovered.AsError()
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case sendErr == nil:
				res.SendTo++
			case errors.Is(sendErr, core.ErrBackpressure):
				res.Dropped = append(res.Dropped, s)
			default:
				res.Failed++
				log.Warn().Err(sendErr).Str("module", "app.orch").Str("conn", string(s.ID())).Str("event", string(d.Event.Type())).Msg("send failed")
			}
		})
	}
	p.Wait()

	o.applyPolicy(ctx, d.Event.Type(), res.Dropped)
	return res
}

func (o *Orchestrator) applyPolicy(ctx context.Context, ev core.EventType, slow []core.Session) {
	policy := o.Policy
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	for _, s := range slow {
		action := policy.OnBackPressure(ev, s)
		log.Warn().
			Str("module", "app.orch").
			Str("conn", string(s.ID())).
			Str("event", string(ev)).
			Stringer("action", action).
			Msg("backpressure")
		switch action {
		case app.KickMember:
			o.Kick(ctx, s.ID())
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}
