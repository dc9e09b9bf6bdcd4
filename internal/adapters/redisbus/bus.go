// Package redisbus relays fan-out deliveries between nodes over Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	NodeID   string
}

// message is the wire form of a core.Delivery.
type message struct {
	Node     string           `json:"node"`
	Event    json.RawMessage  `json:"event"`
	Channels []core.ChannelID `json:"channels,omitempty"`
	Everyone bool             `json:"everyone,omitempty"`
	SkipUser domain.UserID    `json:"skip_user,omitempty"`
	SkipConn core.ConnID      `json:"skip_conn,omitempty"`
}

type Bus struct {
	client  *redis.Client
	channel string
	node    string
}

// Dial connects and pings Redis.
func Dial(ctx context.Context, c Config) (*Bus, error) {
	client := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(client, c.Channel, c.NodeID), nil
}

func New(client *redis.Client, channel, node string) *Bus {
	if channel == "" {
		channel = "chat:events"
	}
	return &Bus{client: client, channel: channel, node: node}
}

func (b *Bus) Publish(ctx context.Context, d core.Delivery) error {
	frame, err := core.EncodeEvent(d.Event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(message{
		Node:     b.node,
		Event:    json.RawMessage(frame),
		Channels: d.Channels,
		Everyone: d.Everyone,
		SkipUser: d.SkipUser,
		SkipConn: d.SkipConn,
	})
	if err != nil {
		return fmt.Errorf("redisbus: marshal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redisbus: publish: %w", err)
	}
	return nil
}

func (b *Bus) Close() error { return b.client.Close() }

// Listener receives deliveries published by other nodes.
type Listener struct {
	bus *Bus
	sub *redis.PubSub
}

// Listen subscribes and waits for the subscription to be confirmed, so
// anything published after it returns is received.
func (b *Bus) Listen(ctx context.Context) (*Listener, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redisbus: subscribe: %w", err)
	}
	log.Info().Str("module", "adapters.redisbus").Str("channel", b.channel).Str("node", b.node).Msg("subscribed")
	return &Listener{bus: b, sub: sub}, nil
}

// Run hands every foreign delivery to deliver until ctx is done.
func (l *Listener) Run(ctx context.Context, deliver func(context.Context, core.Delivery) core.PublishResult) {
	defer l.sub.Close()
	msgs := l.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.redisbus").Msg("listener stopped")
			return
		case m, ok := <-msgs:
			if !ok {
				log.Warn().Str("module", "adapters.redisbus").Msg("subscription closed")
				return
			}
			d, node, err := decode([]byte(m.Payload))
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.redisbus").Msg("bad message")
				continue
			}
			if node == l.bus.node {
				continue
			}
			res := deliver(ctx, d)
			log.Debug().
				Str("module", "adapters.redisbus").
				Str("from", node).
				Str("event", string(d.Event.Type())).
				Int("send_to", res.SendTo).
				Msg("remote delivery")
		}
	}
}

func decode(raw []byte) (core.Delivery, string, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return core.Delivery{}, "", fmt.Errorf("redisbus: unmarshal: %w", err)
	}
	ev, err := core.DecodeEvent(core.Frame(m.Event))
	if err != nil {
		return core.Delivery{}, m.Node, err
	}
	return core.Delivery{
		Event:    ev,
		Channels: m.Channels,
		Everyone: m.Everyone,
		SkipUser: m.SkipUser,
		SkipConn: m.SkipConn,
	}, m.Node, nil
}
