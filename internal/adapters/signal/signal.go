package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Cowatch/internal/app"
	"github.com/dkeye/Cowatch/internal/config"
	"github.com/dkeye/Cowatch/internal/core"
	"github.com/dkeye/Cowatch/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type SignalWSController struct {
	Hub     *app.Hub
	Limiter *JoinRateLimiter

	validate   *validator.Validate
	readLimit  int64
	pingPeriod time.Duration
	sendBuffer int
}

func NewSignalWSController(hub *app.Hub, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Hub:        hub,
		Limiter:    NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinInterval),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		sendBuffer: cfg.SendBuffer,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

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
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and gives the socket a fresh participant id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	pid := domain.NewParticipantID()
	log.Info().Str("module", "signal").Str("pid", string(pid)).Str("remote", ws.RemoteAddr().String()).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}
	if err := ctl.Hub.Register(pid, conn); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("register")
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, pid, conn)
}
