package signal

import (
	"context"
	"time"

	"github.com/dkeye/Cowatch/internal/domain"
	"github.com/dkeye/Cowatch/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, pid domain.ParticipantID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("readPump closing")
		cancel()
		ctl.Hub.Unregister(pid)
		ctl.Limiter.Forget(pid)
		c.Close()
	}()

	pongWait := ctl.pingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := ctl.handleSignal(pid, c, data); err != nil {
			return
		}
	}
}

// handleSignal screens a frame before it reaches the hub. Only a stopped
// hub ends the connection.
func (ctl *SignalWSController) handleSignal(pid domain.ParticipantID, c *WsSignalConn, data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("bad json")
		ctl.send(c, protocol.ErrorMessage("bad_payload"))
		return nil
	}

	if msg.Type == protocol.TypeJoin {
		if !ctl.Limiter.Allow(pid) {
			log.Warn().Str("module", "signal").Str("pid", string(pid)).Msg("join rate limited")
			ctl.send(c, protocol.JoinRejected(protocol.RejectLimited, "Too many join attempts, slow down."))
			return nil
		}
		if err := ctl.validateJoin(msg); err != nil {
			ctl.send(c, protocol.JoinRejected(protocol.RejectInvalid, err.Error()))
			return nil
		}
	}
	return ctl.Hub.Submit(pid, msg)
}

func (ctl *SignalWSController) send(c *WsSignalConn, m *protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	_ = c.TrySend(b)
}
