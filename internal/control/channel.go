// Package control carries playback control messages between the two peers
// over a WebRTC data channel.
package control

import (
	"errors"
	"fmt"

	"github.com/dkeye/Cowatch/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Label of the data channel both sides create.
const Label = "messages"

var ErrNotOpen = errors.New("control channel not open")

// DataChannel is the subset of *webrtc.DataChannel the channel uses.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	SendText(s string) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Close() error
}

// Opener creates a local data channel on the peer connection.
type Opener func(label string) (DataChannel, error)

// Channel holds the local handle and, once announced, the remote one.
// Both handles deliver inbound messages; sends prefer the local handle.
// Methods are called from the peer loop. deliver and the open callback run
// on pion goroutines.
type Channel struct {
	codec   protocol.Codec
	open    Opener
	deliver func(protocol.ControlMessage)
	onOpen  func()

	local  DataChannel
	remote DataChannel
}

func New(codec protocol.Codec, open Opener, deliver func(protocol.ControlMessage)) *Channel {
	return &Channel{codec: codec, open: open, deliver: deliver}
}

// OnOpen registers fn for every handle that becomes open. Set it before the
// first EnsureLocal.
func (c *Channel) OnOpen(fn func()) { c.onOpen = fn }

// EnsureLocal creates the local handle if there is none yet.
// It reports whether a handle was created.
func (c *Channel) EnsureLocal() (bool, error) {
	if c.local != nil {
		return false, nil
	}
	dc, err := c.open(Label)
	if err != nil {
		return false, fmt.Errorf("open control channel: %w", err)
	}
	c.local = dc
	c.watch(dc, "local")
	return true, nil
}

// AttachRemote adopts a channel announced by the other side and makes sure
// this side has a local handle too. It reports whether a local handle was
// created, which needs a renegotiation to reach the other side.
func (c *Channel) AttachRemote(dc DataChannel) (bool, error) {
	if dc.Label() != Label {
		log.Debug().Str("module", "control").Str("label", dc.Label()).Msg("ignoring foreign data channel")
		return false, nil
	}
	c.remote = dc
	c.watch(dc, "remote")
	return c.EnsureLocal()
}

// Ready reports whether some handle can carry a message right now.
func (c *Channel) Ready() bool { return c.writable() != nil }

// Send encodes m and writes it once. Nothing is retried.
func (c *Channel) Send(m protocol.ControlMessage) error {
	dc := c.writable()
	if dc == nil {
		return ErrNotOpen
	}
	data, err := c.codec.Marshal(m)
	if err != nil {
		return err
	}
	if c.codec.Binary() {
		err = dc.Send(data)
	} else {
		err = dc.SendText(string(data))
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	log.Debug().Str("module", "control").Str("kind", string(m.Kind())).Msg("sent")
	return nil
}

func (c *Channel) Close() {
	for _, dc := range []DataChannel{c.local, c.remote} {
		if dc != nil {
			_ = dc.Close()
		}
	}
	c.local, c.remote = nil, nil
}

func (c *Channel) writable() DataChannel {
	for _, dc := range []DataChannel{c.local, c.remote} {
		if dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen {
			return dc
		}
	}
	return nil
}

func (c *Channel) watch(dc DataChannel, side string) {
	dc.OnOpen(func() {
		log.Info().Str("module", "control").Str("side", side).Msg("control channel open")
		if c.onOpen != nil {
			c.onOpen()
		}
	})
	dc.OnClose(func() {
		log.Info().Str("module", "control").Str("side", side).Msg("control channel closed")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m, err := c.codec.Unmarshal(msg.Data)
		if err != nil {
			log.Debug().Err(err).Str("module", "control").Int("size", len(msg.Data)).Msg("dropping control message")
			return
		}
		c.deliver(m)
	})
}
