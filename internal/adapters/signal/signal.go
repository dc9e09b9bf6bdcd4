package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/adapters/auth"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// TypingLimit notices per TypingInterval are relayed per user and chat.
	TypingLimit    int
	TypingInterval time.Duration
}

func (o *Options) norm() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.TypingLimit <= 0 {
		o.TypingLimit = 5
	}
	if o.TypingInterval <= 0 {
		o.TypingInterval = 3 * time.Second
	}
}

type SignalWSController struct {
	Orch   *orch.Orchestrator
	opts   Options
	typing *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	opts.norm()
	return &SignalWSController{
		Orch:   o,
		opts:   opts,
		typing: NewRateLimiter(opts.TypingLimit, opts.TypingInterval),
	}
}

// WsSignalConn is the WebSocket side of core.SignalConnection. Frames are
// queued and written by writePump; a full queue is reported as backpressure.
type WsSignalConn struct {
	conn   *websocket.Conn
	send   chan core.Frame
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an authenticated request and runs the connection
// until either side closes it.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user := auth.UserFrom(c)
	log.Info().Str("module", "signal").Str("user", string(user)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	conn := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, ctl.opts.SendBuffer),
		cancel: cancel,
	}

	connID, err := ctl.Orch.OnConnect(ctx, user, conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("connect rejected")
		conn.Close()
		return
	}

	go ctl.writePump(ctx, connID, conn)
	go ctl.readPump(ctx, connID, user, conn)
}
