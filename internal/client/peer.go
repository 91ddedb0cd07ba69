// Package client is the participant side: it joins a session through the
// relay, negotiates the peer link and keeps playback in step with the other
// participant.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Cowatch/internal/adapters/rtc"
	"github.com/dkeye/Cowatch/internal/control"
	"github.com/dkeye/Cowatch/internal/domain"
	"github.com/dkeye/Cowatch/internal/media"
	"github.com/dkeye/Cowatch/internal/negotiation"
	"github.com/dkeye/Cowatch/internal/playback"
	"github.com/dkeye/Cowatch/internal/protocol"
)

type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
)

// Notice is a line meant for the user.
type Notice struct {
	Level Level
	Text  string
}

type Options struct {
	Name    string
	Session domain.SessionID
	ICE     webrtc.Configuration
	Codec   protocol.Codec
	// External is the assumed length of shared links.
	External   time.Duration
	Device     CaptureDevice
	RTCOptions []rtc.Option
	// Notify is called on the peer loop and must not block.
	Notify func(Notice)
}

// Peer is one session attempt. Build a new one to rejoin.
// Everything below runs on the Run goroutine; other goroutines hand work
// over through post.
type Peer struct {
	opts   Options
	sig    Signaler
	events chan func()
	done   chan struct{}
	ctx    context.Context

	self       domain.ParticipantID
	remote     domain.ParticipantID
	remoteName string

	link    *negotiation.Coordinator
	conn    *rtc.Connection
	ctrl    *control.Channel
	sync    *playback.Synchronizer
	capture *Capture

	callSenders   []*webrtc.RTPSender
	remoteStreams map[string]*media.RemoteStream
	callStream    *media.RemoteStream

	pendingRenegotiation bool
	err                  error
}

func NewPeer(sig Signaler, opts Options) *Peer {
	if opts.Codec == nil {
		opts.Codec = protocol.JSONCodec{}
	}
	if opts.Device == nil {
		opts.Device = SimDevice{}
	}
	p := &Peer{
		opts:          opts,
		sig:           sig,
		events:        make(chan func(), 64),
		done:          make(chan struct{}),
		ctx:           context.Background(),
		capture:       NewCapture(opts.Device),
		remoteStreams: make(map[string]*media.RemoteStream),
	}
	p.ctrl = control.New(opts.Codec, p.openChannel, func(m protocol.ControlMessage) {
		p.post(func() { p.onControl(m) })
	})
	p.ctrl.OnOpen(func() {
		p.post(func() { p.notify(LevelSuccess, "control channel open") })
	})
	p.sync = playback.New(NewSimPlayer(opts.External), p.ctrl, playback.TickerScheduler{Post: p.post})
	return p
}

// Run joins the session and serves it until the user quits, ctx ends or the
// session ends. The returned error says why the session ended.
func (p *Peer) Run(ctx context.Context, commands <-chan Command) error {
	ctx, cancel := context.WithCancel(ctx)
	p.ctx = ctx
	defer func() {
		cancel()
		p.close()
	}()

	if err := p.sig.Send(protocol.Join(p.opts.Session, p.opts.Name)); err != nil {
		return newError("join", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-p.sig.Incoming():
			if !ok {
				return ErrSignalingClosed
			}
			p.handleSignal(msg)
		case fn := <-p.events:
			fn()
		case cmd, ok := <-commands:
			if !ok || cmd.Kind == CmdQuit {
				return nil
			}
			p.handleCommand(cmd)
		}
		if p.err != nil {
			return p.err
		}
	}
}

// post runs fn on the peer loop. It is dropped once the loop has exited.
func (p *Peer) post(fn func()) {
	select {
	case p.events <- fn:
	case <-p.done:
	}
}

// close leaves the session, then tears media down.
func (p *Peer) close() {
	close(p.done)
	p.sig.Close()
	p.sync.Close()
	p.ctrl.Close()
	p.capture.Stop()
	for _, rs := range p.remoteStreams {
		rs.Release()
	}
	if p.link != nil {
		_ = p.link.Close()
	}
}

func (p *Peer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Peer) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *Peer) notify(level Level, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	log.Debug().Str("module", "peer").Int("level", int(level)).Msg(text)
	if p.opts.Notify != nil {
		p.opts.Notify(Notice{Level: level, Text: text})
	}
}

func (p *Peer) send(m *protocol.Message) {
	if err := p.sig.Send(m); err != nil {
		p.fail(newError("signal "+string(m.Type), err))
	}
}

func (p *Peer) sendControl(m protocol.ControlMessage) {
	if err := p.ctrl.Send(m); err != nil {
		log.Debug().Err(err).Str("module", "peer").Str("kind", string(m.Kind())).Msg("control message not sent")
	}
}

func (p *Peer) handleSignal(m *protocol.Message) {
	switch m.Type {
	case protocol.TypeParticipantJoined:
		if p.self == "" {
			p.self = m.ID
			p.notify(LevelSuccess, "joined session %s", m.SessionID)
			return
		}
		if m.ID == p.self {
			return
		}
		p.setRemote(m.ID, m.Name)
		p.notify(LevelInfo, "%s joined", m.Name)
		p.send(&protocol.Message{Type: protocol.TypeAccept, To: m.ID, Name: p.opts.Name})

	case protocol.TypeAccept:
		if m.ID == "" || m.ID == p.self {
			return
		}
		p.setRemote(m.ID, m.Name)
		p.notify(LevelInfo, "%s is here, connecting", m.Name)
		p.startOffer()

	case protocol.TypeOffer:
		if m.ID == p.self {
			return
		}
		if p.remote == "" {
			p.setRemote(m.ID, m.Name)
		}
		if answer, ok := p.answer(m.Offer); ok {
			p.send(&protocol.Message{Type: protocol.TypeAnswer, Answer: answer})
			p.flushRenegotiation()
		}

	case protocol.TypeAnswer:
		if m.ID == p.self {
			return
		}
		p.applyAnswer(m.Answer)

	case protocol.TypeNegotiated:
		if answer, ok := p.answer(m.Offer); ok {
			p.send(&protocol.Message{Type: protocol.TypeNegotiationComplete, To: m.From, Answer: answer})
			p.flushRenegotiation()
		}

	case protocol.TypeNegotiationComplete:
		p.applyAnswer(m.Answer)

	case protocol.TypeParticipantLeft:
		if m.ID != p.remote {
			return
		}
		p.notify(LevelWarning, "Session ended! %s left.", m.Name)
		p.fail(&Error{Op: "session", Err: ErrRemoteLeft, Details: m.Name})

	case protocol.TypeJoinRejected:
		if m.Error == protocol.RejectFull {
			p.fail(&Error{Op: "join", Err: ErrSessionFull, Details: m.Message})
			return
		}
		p.fail(&Error{Op: "join", Err: ErrJoinRejected, Details: m.Error + ": " + m.Message})

	case protocol.TypeError:
		log.Warn().Str("module", "peer").Str("error", m.Error).Msg("relay error")

	default:
		log.Debug().Str("module", "peer").Str("type", string(m.Type)).Msg("ignored relay message")
	}
}

func (p *Peer) setRemote(id domain.ParticipantID, name string) {
	p.remote = id
	if name != "" {
		p.remoteName = name
	}
	if p.link != nil {
		p.link.SetPolite(p.self < id)
	}
}

// ensureLink builds the peer connection on first use.
func (p *Peer) ensureLink() bool {
	if p.link != nil {
		return true
	}
	link, err := negotiation.New(p.buildConnection, p.self < p.remote)
	if err != nil {
		p.notify(LevelWarning, "cannot create the connection, rejoin to retry")
		p.fail(newError("connect", err))
		return false
	}
	p.link = link
	return true
}

func (p *Peer) buildConnection() (negotiation.PeerConnection, error) {
	conn, err := rtc.NewConnection(p.opts.ICE, p.opts.Name, p.opts.RTCOptions...)
	if err != nil {
		return nil, err
	}
	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.post(func() { p.onTrack(track) })
	})
	conn.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.post(func() { p.onDataChannel(dc) })
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		p.post(func() { p.onConnectionState(s) })
	})
	conn.Start()
	p.conn = conn
	p.addCallTracks()
	return conn, nil
}

func (p *Peer) openChannel(label string) (control.DataChannel, error) {
	if p.conn == nil {
		return nil, ErrNotConnected
	}
	dc, err := p.conn.CreateDataChannel(label)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

// startOffer runs on the newcomer once the other side accepted it. The
// control channel exists before the offer so the offer carries it.
func (p *Peer) startOffer() {
	if !p.ensureLink() {
		return
	}
	if _, err := p.ctrl.EnsureLocal(); err != nil {
		p.fail(newError("control channel", err))
		return
	}
	offer, err := p.link.CreateOffer()
	if err != nil {
		p.negotiationError("offer", err)
		return
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		p.fail(newError("offer", err))
		return
	}
	p.send(&protocol.Message{Type: protocol.TypeOffer, Offer: raw})
}

func (p *Peer) answer(raw json.RawMessage) (json.RawMessage, bool) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("bad offer payload")
		return nil, false
	}
	if !p.ensureLink() {
		return nil, false
	}
	before := p.link.State()
	answer, err := p.link.CreateAnswer(offer)
	if err != nil {
		p.negotiationError("answer", err)
		return nil, false
	}
	// our own offer was rolled back, or our tracks missed the first offer
	if before == negotiation.RenegotiationOfferPending || (before == negotiation.Idle && len(p.callSenders) > 0) {
		p.pendingRenegotiation = true
	}
	out, err := json.Marshal(answer)
	if err != nil {
		p.fail(newError("answer", err))
		return nil, false
	}
	return out, true
}

func (p *Peer) applyAnswer(raw json.RawMessage) {
	if p.link == nil {
		log.Debug().Str("module", "peer").Msg("answer without a link")
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("bad answer payload")
		return
	}
	if err := p.link.ApplyRemoteAnswer(answer); err != nil {
		p.negotiationError("apply answer", err)
		return
	}
	p.flushRenegotiation()
}

// negotiationError drops stale or colliding descriptions and fails the
// session on anything else.
func (p *Peer) negotiationError(op string, err error) {
	if errors.Is(err, negotiation.ErrInvalidState) || errors.Is(err, negotiation.ErrGlare) {
		log.Debug().Err(err).Str("module", "peer").Str("op", op).Msg("description dropped")
		return
	}
	p.notify(LevelWarning, "connection failed, rejoin to retry")
	p.fail(newError(op, err))
}

func (p *Peer) requestRenegotiation() {
	if p.conn == nil || p.closed() {
		return
	}
	p.pendingRenegotiation = true
	p.flushRenegotiation()
}

func (p *Peer) flushRenegotiation() {
	if !p.pendingRenegotiation || p.link == nil || !p.link.Connected() || p.remote == "" {
		return
	}
	p.pendingRenegotiation = false
	offer, err := p.link.CreateRenegotiationOffer()
	if err != nil {
		p.negotiationError("renegotiate", err)
		return
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		p.fail(newError("renegotiate", err))
		return
	}
	p.send(&protocol.Message{Type: protocol.TypeNegotiate, To: p.remote, Offer: raw})
}

func (p *Peer) onConnectionState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if p.link != nil {
			p.link.MarkConnected()
		}
		p.notify(LevelSuccess, "connected to %s", p.remoteName)
		p.flushRenegotiation()
	case webrtc.PeerConnectionStateDisconnected:
		p.notify(LevelWarning, "connection to %s interrupted", p.remoteName)
	case webrtc.PeerConnectionStateFailed:
		if p.link != nil {
			p.link.Fail(errors.New("transport failed"))
		}
		p.notify(LevelWarning, "connection failed, rejoin to retry")
		p.fail(&Error{Op: "connect", Err: negotiation.ErrNegotiation, Details: "transport failed"})
	}
}

func (p *Peer) onDataChannel(dc *webrtc.DataChannel) {
	created, err := p.ctrl.AttachRemote(dc)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("cannot open local control channel")
		return
	}
	if created {
		p.requestRenegotiation()
	}
}

func (p *Peer) onTrack(track *webrtc.TrackRemote) {
	p.routeStream(track.StreamID(), track.Kind().String(), media.ReaderOf(track))
}

// routeStream attaches one remote track. The first track of a stream decides
// where the stream goes, following the receive mode announced before it.
func (p *Peer) routeStream(id, kind string, read media.ReadFunc) {
	rs, ok := p.remoteStreams[id]
	if !ok {
		rs = media.NewRemoteStream(p.ctx, id)
		p.remoteStreams[id] = rs
		switch p.sync.RouteTrack() {
		case playback.RouteFile:
			if err := p.sync.AttachRemoteStream(remoteFile{peer: p, stream: rs}); err != nil {
				log.Warn().Err(err).Str("module", "peer").Msg("cannot play shared file")
			}
			p.notify(LevelInfo, "receiving the file %s shares", p.remoteName)
		default:
			p.dropCallStream()
			p.callStream = rs
			p.notify(LevelInfo, "receiving call media from %s", p.remoteName)
		}
	}
	rs.Attach(kind, read)
}

// releaseStream stops counting rs and forgets it, so a later track with the
// same stream id is routed afresh.
func (p *Peer) releaseStream(rs *media.RemoteStream) {
	rs.Release()
	if p.remoteStreams[rs.ID] == rs {
		delete(p.remoteStreams, rs.ID)
	}
}

func (p *Peer) dropCallStream() {
	if p.callStream != nil {
		p.releaseStream(p.callStream)
		p.callStream = nil
	}
}

// remoteFile is the resource behind a remote file source.
type remoteFile struct {
	peer   *Peer
	stream *media.RemoteStream
}

func (f remoteFile) Release() { f.peer.releaseStream(f.stream) }

func (p *Peer) onControl(m protocol.ControlMessage) {
	if st, ok := m.(protocol.MediaStatus); ok && st.Content == protocol.StatusStopped {
		p.dropCallStream()
		p.notify(LevelInfo, "%s turned camera and microphone off", p.remoteName)
		return
	}

	p.sync.HandleRemote(m)

	switch v := m.(type) {
	case protocol.VideoLink:
		if v.URL != nil {
			p.notify(LevelInfo, "%s shared %s", p.remoteName, *v.URL)
		} else {
			p.notify(LevelInfo, "%s cleared the link", p.remoteName)
		}
	case protocol.MediaReceiving:
		if v.Content == protocol.ReceiveVideoFile {
			p.notify(LevelInfo, "%s is sharing a file", p.remoteName)
		}
	case protocol.VideoCtrl:
		p.notify(LevelInfo, "%s: %s", p.remoteName, v.Command)
	case protocol.SeekTo:
		p.notify(LevelInfo, "%s seeked to %.0f%%", p.remoteName, v.Fraction*100)
	}
}

func (p *Peer) handleCommand(cmd Command) {
	switch cmd.Kind {
	case CmdPlay:
		if err := p.sync.Play(); err != nil {
			p.notify(LevelWarning, "%v, use force to play anyway", err)
		}
	case CmdPause:
		p.sync.Pause()
	case CmdForce:
		p.sync.ForcePlay()
	case CmdSeek:
		if err := p.sync.Seek(cmd.Fraction); err != nil {
			p.notify(LevelWarning, "%v", err)
		}
	case CmdLink:
		if err := p.sync.ShareLink(cmd.URL); err != nil {
			p.notify(LevelWarning, "%v", err)
		}
	case CmdUnlink:
		p.sync.ClearLink()
	case CmdLoop:
		p.sync.SetLoop(!p.sync.Status().Loop)
	case CmdBuffer:
		p.sync.SetLocalBuffering(cmd.On)
	case CmdCamera:
		p.setCapture(cmd.On, p.capture.Audio())
	case CmdMic:
		p.setCapture(p.capture.Video(), cmd.On)
	case CmdShareFile:
		p.shareFile(cmd.Name, cmd.Length)
	case CmdStatus:
		p.notify(LevelInfo, "%s", p.statusLine())
	}
}

// setCapture swaps the call track set. Old senders and devices go first.
func (p *Peer) setCapture(video, audio bool) {
	p.removeSenders(&p.callSenders)
	stream, err := p.capture.Set(p.ctx, video, audio)
	if err != nil {
		p.notify(LevelWarning, "%v", err)
	}
	if stream == nil {
		p.sendControl(protocol.MediaStatus{Content: protocol.StatusStopped})
	} else {
		p.sendControl(protocol.MediaReceiving{Content: protocol.ReceiveCallStream})
		p.addCallTracks()
	}
	p.requestRenegotiation()
}

func (p *Peer) addCallTracks() {
	stream := p.capture.Stream()
	if stream == nil || p.conn == nil || len(p.callSenders) > 0 {
		return
	}
	for _, ot := range stream.Tracks {
		sender, err := p.conn.AddLocalTrack(ot.Track)
		if err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("kind", ot.Kind.String()).Msg("cannot publish track")
			continue
		}
		p.callSenders = append(p.callSenders, sender)
	}
}

func (p *Peer) removeSenders(senders *[]*webrtc.RTPSender) {
	if p.conn != nil {
		for _, s := range *senders {
			if err := p.conn.RemoveLocalTrack(s); err != nil {
				log.Debug().Err(err).Str("module", "peer").Msg("remove track")
			}
		}
	}
	*senders = nil
}

// sharedFile is the resource behind a local file source.
type sharedFile struct {
	length  time.Duration
	release func()
}

func (f *sharedFile) Duration() time.Duration { return f.length }

func (f *sharedFile) Release() { f.release() }

func (p *Peer) shareFile(name string, length time.Duration) {
	if p.conn == nil || p.remote == "" {
		p.notify(LevelWarning, "Please wait for the other participant to join!")
		return
	}
	stream, err := media.NewLocalStream("file-"+uuid.NewString()[:8], webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio)
	if err != nil {
		p.notify(LevelWarning, "%v", err)
		return
	}

	var senders []*webrtc.RTPSender
	res := &sharedFile{length: length}
	res.release = func() {
		p.removeSenders(&senders)
		stream.Release()
		p.requestRenegotiation()
	}
	if err := p.sync.ShareFile(name, res); err != nil {
		p.notify(LevelWarning, "%v", err)
		return
	}

	// the receive mode went out first; now the tracks
	for _, ot := range stream.Tracks {
		sender, err := p.conn.AddLocalTrack(ot.Track)
		if err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("cannot publish file track")
			continue
		}
		senders = append(senders, sender)
	}
	stream.Start(p.ctx)
	p.requestRenegotiation()
	p.notify(LevelSuccess, "sharing %s (%s)", name, playback.FormatClock(length.Seconds()))
}

func (p *Peer) statusLine() string {
	st := p.sync.Status()
	link := "none"
	if p.link != nil {
		link = p.link.State().String()
	}
	remote := p.remoteName
	if remote == "" {
		remote = "-"
	}
	return fmt.Sprintf("%s | %s | played %s/%s (%.0f%%) | loop=%v | buffering local=%v remote=%v | link=%s with %s | cam=%v mic=%v",
		st.Phase, st.Source, st.Progress.Played, st.Progress.Total, st.Progress.Fraction*100, st.Loop,
		st.Buffer.Local, st.Buffer.Remote, link, remote, p.capture.Video(), p.capture.Audio())
}
