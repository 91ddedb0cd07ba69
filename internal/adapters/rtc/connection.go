package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("peer connection closed")

// Connection wraps a pion PeerConnection for non-trickle offer/answer:
// every description it returns already carries all gathered candidates.
// Callbacks must be set before Start and fire on pion goroutines.
type Connection struct {
	pc    *webrtc.PeerConnection
	label string

	onTrack       func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onDataChannel func(dc *webrtc.DataChannel)
	onState       func(s webrtc.PeerConnectionState)
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return ConfigFromURLs([]string{"stun:stun.l.google.com:19302"})
}

// ConfigFromURLs builds a configuration with one ICE server entry.
// An empty list means host candidates only.
func ConfigFromURLs(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// Option tweaks how the underlying pion API is built.
type Option func(se *webrtc.SettingEngine)

// WithLoopback lets ICE use 127.0.0.1, for peers on the same host.
func WithLoopback() Option {
	return func(se *webrtc.SettingEngine) { se.SetIncludeLoopbackCandidate(true) }
}

func NewConnection(cfg webrtc.Configuration, label string, opts ...Option) (*Connection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	for _, opt := range opts {
		opt(&se)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &Connection{pc: pc, label: label}, nil
}

func (c *Connection) Start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("peer", c.label).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", c.label).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.onState != nil {
			c.onState(s)
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", c.label).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(track, receiver)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Debug().Str("module", "webrtc").Str("peer", c.label).Str("label", dc.Label()).Msg("OnDataChannel")
		if c.onDataChannel != nil {
			c.onDataChannel(dc)
		}
	})
}

// CreateOffer sets a fresh local offer and waits for gathering to finish.
func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return c.setLocal(offer)
}

// ApplyOfferAndCreateAnswer answers a remote offer. A pending local offer
// is rolled back first.
func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if c.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		log.Debug().Str("module", "webrtc").Str("peer", c.label).Msg("rolling back local offer")
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if pending := c.pc.PendingLocalDescription(); pending != nil {
			rollback.SDP = pending.SDP
		}
		if err := c.pc.SetLocalDescription(rollback); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("rollback: %w", err)
		}
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return c.setLocal(answer)
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *Connection) setLocal(desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	local := c.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return *local, nil
}

func (c *Connection) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return dc, nil
}

// AddLocalTrack attaches a local track to the PeerConnection.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	go drainRTCP(sender)
	return sender, nil
}

func (c *Connection) RemoveLocalTrack(sender *webrtc.RTPSender) error {
	if err := c.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("remove track: %w", err)
	}
	return nil
}

func (c *Connection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", c.label).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("peer", c.label).Msg("closed")
	return nil
}

// OnTrack sets application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

func (c *Connection) OnDataChannel(fn func(dc *webrtc.DataChannel)) { c.onDataChannel = fn }

func (c *Connection) OnStateChange(fn func(s webrtc.PeerConnectionState)) { c.onState = fn }

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
