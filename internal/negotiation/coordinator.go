// Package negotiation tracks the offer/answer state of one peer link.
package negotiation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidState   = errors.New("invalid negotiation state")
	ErrPeerConnection = errors.New("cannot create peer connection")
	ErrNegotiation    = errors.New("negotiation failed")
	// ErrGlare is returned to the side that keeps its own offer when both
	// sides offered at once. The remote offer is ignored.
	ErrGlare = errors.New("offer collision")
)

type State int

const (
	Idle State = iota
	LocalOfferPending
	AwaitingRemoteAnswer
	RemoteOfferReceived
	LocalAnswerSent
	Connected
	RenegotiationOfferPending
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LocalOfferPending:
		return "local-offer-pending"
	case AwaitingRemoteAnswer:
		return "awaiting-remote-answer"
	case RemoteOfferReceived:
		return "remote-offer-received"
	case LocalAnswerSent:
		return "local-answer-sent"
	case Connected:
		return "connected"
	case RenegotiationOfferPending:
		return "renegotiation-offer-pending"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// PeerConnection is the part of rtc.Connection the coordinator drives.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	Close() error
}

// Coordinator is not safe for concurrent use; the owning peer loop
// serializes every call.
type Coordinator struct {
	pc     PeerConnection
	state  State
	polite bool

	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription
}

// New builds the peer connection through build. A build failure is fatal
// for the attempt and wraps ErrPeerConnection.
// A polite coordinator yields when offers collide.
func New(build func() (PeerConnection, error), polite bool) (*Coordinator, error) {
	pc, err := build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerConnection, err)
	}
	return &Coordinator{pc: pc, polite: polite}, nil
}

func (c *Coordinator) State() State { return c.state }

func (c *Coordinator) Connected() bool { return c.state == Connected }

func (c *Coordinator) SetPolite(v bool) { c.polite = v }

// LocalDescription returns the last description this side produced.
func (c *Coordinator) LocalDescription() *webrtc.SessionDescription { return c.local }

func (c *Coordinator) RemoteDescription() *webrtc.SessionDescription { return c.remote }

// CreateOffer starts the initial negotiation.
func (c *Coordinator) CreateOffer() (webrtc.SessionDescription, error) {
	if err := c.expect("create offer", Idle); err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.set(LocalOfferPending)
	offer, err := c.pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, c.fail("create offer", err)
	}
	c.local = &offer
	c.set(AwaitingRemoteAnswer)
	return offer, nil
}

// CreateRenegotiationOffer re-offers after the local track set changed.
func (c *Coordinator) CreateRenegotiationOffer() (webrtc.SessionDescription, error) {
	if err := c.expect("renegotiate", Connected); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, c.fail("renegotiate", err)
	}
	c.local = &offer
	c.set(RenegotiationOfferPending)
	return offer, nil
}

// CreateAnswer applies a remote offer and returns the local answer.
// A newer offer always supersedes the stored one.
func (c *Coordinator) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.expect("answer", Idle, Connected, LocalAnswerSent, RenegotiationOfferPending); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if c.state == RenegotiationOfferPending && !c.polite {
		log.Debug().Str("module", "negotiation").Msg("offer collision, keeping local offer")
		return webrtc.SessionDescription{}, ErrGlare
	}

	initial := c.state == Idle
	if initial {
		c.set(RemoteOfferReceived)
	}
	c.remote = &offer
	answer, err := c.pc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		return webrtc.SessionDescription{}, c.fail("answer", err)
	}
	c.local = &answer

	switch c.state {
	case RemoteOfferReceived:
		c.set(LocalAnswerSent)
	case RenegotiationOfferPending:
		// our offer was rolled back
		c.set(Connected)
	}
	return answer, nil
}

// ApplyRemoteAnswer completes an offer this side sent. Last received wins.
func (c *Coordinator) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	if err := c.expect("apply answer", AwaitingRemoteAnswer, RenegotiationOfferPending); err != nil {
		return err
	}
	c.remote = &answer
	if err := c.pc.ApplyAnswer(answer); err != nil {
		return c.fail("apply answer", err)
	}
	c.set(Connected)
	return nil
}

// MarkConnected is called when the transport reports connected.
// It only matters on the answering side.
func (c *Coordinator) MarkConnected() {
	if c.state == LocalAnswerSent {
		c.set(Connected)
	}
}

// Fail moves the link to the terminal state.
func (c *Coordinator) Fail(reason error) {
	if c.state == Failed {
		return
	}
	log.Warn().Err(reason).Str("module", "negotiation").Str("from", c.state.String()).Msg("negotiation failed")
	c.state = Failed
}

func (c *Coordinator) Close() error {
	c.state = Failed
	return c.pc.Close()
}

func (c *Coordinator) expect(op string, allowed ...State) error {
	if slices.Contains(allowed, c.state) {
		return nil
	}
	return fmt.Errorf("%w: %s in %s", ErrInvalidState, op, c.state)
}

func (c *Coordinator) fail(op string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %v", ErrNegotiation, op, err)
	c.Fail(wrapped)
	return wrapped
}

func (c *Coordinator) set(s State) {
	log.Debug().Str("module", "negotiation").Str("from", c.state.String()).Str("to", s.String()).Msg("state")
	c.state = s
}
