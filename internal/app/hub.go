package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Cowatch/internal/core"
	"github.com/dkeye/Cowatch/internal/domain"
	"github.com/dkeye/Cowatch/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrHubStopped = errors.New("hub stopped")

type registration struct {
	id   domain.ParticipantID
	conn core.SignalConnection
}

type envelope struct {
	from domain.ParticipantID
	msg  *protocol.Message
}

// Hub is the relay. Run is the only goroutine that touches the directory
// and the connection map; everything else talks to it through channels.
type Hub struct {
	dir    *Directory
	policy Policy
	conns  map[domain.ParticipantID]core.SignalConnection
	misses map[domain.ParticipantID]int

	register   chan registration
	unregister chan domain.ParticipantID
	inbox      chan envelope
	queries    chan func()
	done       chan struct{}
}

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		dir:        NewDirectory(),
		policy:     policy,
		conns:      make(map[domain.ParticipantID]core.SignalConnection),
		misses:     make(map[domain.ParticipantID]int),
		register:   make(chan registration),
		unregister: make(chan domain.ParticipantID),
		inbox:      make(chan envelope),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled. Open connections are closed on exit.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	log.Info().Str("module", "app.hub").Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			for id, c := range h.conns {
				c.Close()
				delete(h.conns, id)
			}
			log.Info().Str("module", "app.hub").Msg("hub stopped")
			return

		case r := <-h.register:
			if old, ok := h.conns[r.id]; ok && old != r.conn {
				old.Close()
			}
			h.conns[r.id] = r.conn
			log.Debug().Str("module", "app.hub").Str("pid", string(r.id)).Int("conns", len(h.conns)).Msg("registered")

		case id := <-h.unregister:
			h.disconnect(id)

		case e := <-h.inbox:
			h.handle(e.from, e.msg)

		case q := <-h.queries:
			q()
		}
	}
}

func (h *Hub) Register(id domain.ParticipantID, conn core.SignalConnection) error {
	select {
	case h.register <- registration{id: id, conn: conn}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(id domain.ParticipantID) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// Submit hands a decoded message from id to the loop.
func (h *Hub) Submit(id domain.ParticipantID, msg *protocol.Message) error {
	select {
	case h.inbox <- envelope{from: id, msg: msg}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// do runs fn on the loop and waits for it.
func (h *Hub) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(ran) }:
	case <-h.done:
		return false
	}
	<-ran
	return true
}

func (h *Hub) Sessions() []core.SessionInfo {
	var out []core.SessionInfo
	h.do(func() { out = h.dir.Snapshot() })
	return out
}

func (h *Hub) Session(id domain.SessionID) (core.SessionInfo, bool) {
	var (
		info core.SessionInfo
		ok   bool
	)
	h.do(func() {
		var s *domain.Session
		if s, ok = h.dir.Session(id); ok {
			info = sessionInfo(s)
		}
	})
	return info, ok
}

func (h *Hub) handle(from domain.ParticipantID, m *protocol.Message) {
	if _, ok := h.conns[from]; !ok {
		log.Debug().Str("module", "app.hub").Str("pid", string(from)).Str("type", string(m.Type)).Msg("message from unknown connection")
		return
	}
	switch m.Type {
	case protocol.TypeJoin:
		h.handleJoin(from, m)
	case protocol.TypeAccept:
		h.handleAccept(from, m)
	case protocol.TypeOffer, protocol.TypeAnswer:
		h.handleSessionRelay(from, m)
	case protocol.TypeNegotiate:
		h.handleDirect(from, m.To, &protocol.Message{Type: protocol.TypeNegotiated, From: from, Offer: m.Offer})
	case protocol.TypeNegotiationComplete:
		h.handleDirect(from, m.To, &protocol.Message{Type: protocol.TypeNegotiationComplete, To: m.To, From: from, Answer: m.Answer})
	case protocol.TypePing:
		h.deliver(nil, []domain.ParticipantID{from}, &protocol.Message{Type: protocol.TypePong})
	default:
		log.Warn().Str("module", "app.hub").Str("type", string(m.Type)).Msg("unknown signal")
		h.deliver(nil, []domain.ParticipantID{from}, protocol.ErrorMessage("unknown message type"))
	}
}

func (h *Hub) handleJoin(from domain.ParticipantID, m *protocol.Message) {
	var p *domain.Participant
	err := h.dir.CanJoin(from, m.SessionID, m.Name)
	if err == nil {
		// A second join from the same socket moves it.
		if _, ok := h.dir.Participant(from); ok {
			h.leave(from)
		}
		p, err = h.dir.Join(from, m.SessionID, m.Name)
	}
	switch {
	case errors.Is(err, domain.ErrSessionFull):
		text := fmt.Sprintf("Sorry! Session '%s' is already full.", m.SessionID)
		h.deliver(nil, []domain.ParticipantID{from}, protocol.JoinRejected(protocol.RejectFull, text))
		return
	case err != nil:
		h.deliver(nil, []domain.ParticipantID{from}, protocol.JoinRejected(protocol.RejectInvalid, err.Error()))
		return
	}

	sess, _ := h.dir.Session(p.SessionID)
	h.deliver(sess, memberIDs(sess.Members), protocol.ParticipantJoined(p))
}

func (h *Hub) handleAccept(from domain.ParticipantID, m *protocol.Message) {
	sess, ok := h.dir.SessionOf(from)
	if !ok {
		h.deliver(nil, []domain.ParticipantID{from}, protocol.ErrorMessage("not in a session"))
		return
	}
	self, _ := sess.Member(from)
	out := &protocol.Message{
		Type:      protocol.TypeAccept,
		Name:      self.Name,
		ID:        from,
		To:        m.To,
		SessionID: sess.ID,
	}

	if _, ok := sess.Member(m.To); m.To != "" && !ok {
		log.Debug().Str("module", "app.hub").Str("to", string(m.To)).Msg("accept target outside the session")
		out.To = ""
	}
	h.deliver(sess, memberIDs(sess.Members), out)
}

// handleSessionRelay forwards offer and answer to the rest of the session.
func (h *Hub) handleSessionRelay(from domain.ParticipantID, m *protocol.Message) {
	sess, ok := h.dir.SessionOf(from)
	if !ok {
		h.deliver(nil, []domain.ParticipantID{from}, protocol.ErrorMessage("not in a session"))
		return
	}
	out := *m
	out.ID = from
	out.SessionID = sess.ID
	h.deliver(sess, memberIDs(sess.Others(from)), &out)
}

// handleDirect delivers out to a single member of the sender's session.
func (h *Hub) handleDirect(from, to domain.ParticipantID, out *protocol.Message) {
	sess, ok := h.dir.SessionOf(from)
	if !ok {
		h.deliver(nil, []domain.ParticipantID{from}, protocol.ErrorMessage("not in a session"))
		return
	}
	if _, ok := sess.Member(to); !ok || to == from {
		log.Debug().Str("module", "app.hub").Str("to", string(to)).Str("type", string(out.Type)).Msg("relay target not found")
		return
	}
	h.deliver(sess, []domain.ParticipantID{to}, out)
}

func (h *Hub) disconnect(id domain.ParticipantID) {
	conn, ok := h.conns[id]
	if !ok {
		return
	}
	delete(h.conns, id)
	delete(h.misses, id)
	conn.Close()
	h.leave(id)
	log.Debug().Str("module", "app.hub").Str("pid", string(id)).Int("conns", len(h.conns)).Msg("unregistered")
}

func (h *Hub) leave(id domain.ParticipantID) {
	p, remaining, ok := h.dir.Leave(id)
	if !ok {
		return
	}
	log.Info().Str("module", "app.hub").Str("pid", string(id)).Str("session", string(p.SessionID)).Msg("left")
	if len(remaining) == 0 {
		return
	}
	sess, _ := h.dir.Session(p.SessionID)
	h.deliver(sess, memberIDs(remaining), protocol.ParticipantLeft(p))
}

// deliver encodes msg once and pushes it to every target without blocking.
// Targets without a connection are counted as missing and skipped.
func (h *Hub) deliver(sess *domain.Session, targets []domain.ParticipantID, msg *protocol.Message) core.PublishResult {
	var res core.PublishResult
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Str("type", string(msg.Type)).Msg("encode")
		return res
	}

	for _, id := range targets {
		conn, ok := h.conns[id]
		if !ok {
			res.Missing++
			log.Debug().Str("module", "app.hub").Str("to", string(id)).Str("type", string(msg.Type)).Msg("relay target not connected")
			continue
		}
		switch err := conn.TrySend(frame); {
		case err == nil:
			res.SendTo++
			delete(h.misses, id)
		case errors.Is(err, core.ErrBackpressure):
			res.Dropped = append(res.Dropped, id)
		default:
			res.Missing++
		}
	}

	for _, id := range res.Dropped {
		h.onBackPressure(sess, id)
	}
	return res
}

func (h *Hub) onBackPressure(sess *domain.Session, id domain.ParticipantID) {
	h.misses[id]++
	action := h.policy.OnBackPressure(sess, id, h.misses[id])
	log.Warn().Str("module", "app.hub").Str("pid", string(id)).Int("misses", h.misses[id]).Str("action", action.String()).Msg("backpressure")
	if action == KickMember {
		h.disconnect(id)
	}
}

func memberIDs(ps []*domain.Participant) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
