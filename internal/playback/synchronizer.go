// Package playback keeps the two players of a session in step.
package playback

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dkeye/Cowatch/internal/protocol"
	"github.com/rs/zerolog/log"
)

const TickInterval = time.Second

var (
	ErrRemoteBuffering = errors.New("the other side is buffering")
	ErrNoSource        = errors.New("nothing is being watched")
)

// BufferState is who is currently stalled. RemoteNext stages the other
// side's buffer reports while Local is set and is committed to Remote when
// Local clears.
type BufferState struct {
	Local      bool
	Remote     bool
	RemoteNext bool
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePaused
	PhasePlaying
	PhaseStalled
	PhaseWaitingForPeer
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePaused:
		return "paused"
	case PhasePlaying:
		return "playing"
	case PhaseStalled:
		return "stalled"
	case PhaseWaitingForPeer:
		return "waiting-for-peer"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Status is a snapshot for display.
type Status struct {
	Phase       Phase
	Source      MediaSource
	Buffer      BufferState
	DesiredPlay bool
	Loop        bool
	Receive     protocol.ReceiveMode
	Progress    ProgressInfo
}

// Synchronizer owns the watching state of one peer link. It is driven from
// a single goroutine.
type Synchronizer struct {
	player Player
	send   Sender
	sched  Scheduler

	source      MediaSource
	buffer      BufferState
	desiredPlay bool
	loop        bool
	receive     protocol.ReceiveMode
	progress    ProgressInfo

	// what the player was last told
	loaded     bool
	playing    bool
	stopTicker func()
}

func New(player Player, send Sender, sched Scheduler) *Synchronizer {
	return &Synchronizer{
		player:  player,
		send:    send,
		sched:   sched,
		receive: protocol.ReceiveCallStream,
	}
}

func (s *Synchronizer) Source() MediaSource { return s.source }

func (s *Synchronizer) Buffer() BufferState { return s.buffer }

func (s *Synchronizer) DesiredPlay() bool { return s.desiredPlay }

func (s *Synchronizer) ReceiveMode() protocol.ReceiveMode { return s.receive }

// EffectivePlaying is whether the local player should be running.
func (s *Synchronizer) EffectivePlaying() bool {
	return s.desiredPlay && !s.buffer.Remote
}

func (s *Synchronizer) Phase() Phase {
	switch {
	case s.source.Kind == SourceNone:
		return PhaseIdle
	case s.buffer.Local:
		return PhaseStalled
	case s.desiredPlay && s.buffer.Remote:
		return PhaseWaitingForPeer
	case s.desiredPlay:
		return PhasePlaying
	}
	return PhasePaused
}

func (s *Synchronizer) Status() Status {
	return Status{
		Phase:       s.Phase(),
		Source:      s.source,
		Buffer:      s.buffer,
		DesiredPlay: s.desiredPlay,
		Loop:        s.loop,
		Receive:     s.receive,
		Progress:    s.progress,
	}
}

// Play asks both sides to play. It is refused while the other side is
// buffering; ForcePlay overrides that.
func (s *Synchronizer) Play() error {
	if s.buffer.Remote {
		return ErrRemoteBuffering
	}
	s.setDesired(true, true)
	return nil
}

func (s *Synchronizer) Pause() {
	s.setDesired(false, true)
}

// ForcePlay drops any remote buffering report and plays.
func (s *Synchronizer) ForcePlay() {
	s.buffer.Remote = false
	s.buffer.RemoteNext = false
	s.setDesired(true, true)
}

// SetLocalBuffering records that the local player stalled or recovered.
func (s *Synchronizer) SetLocalBuffering(stalled bool) {
	if stalled == s.buffer.Local {
		return
	}
	if stalled {
		s.buffer.RemoteNext = s.buffer.Remote
		s.buffer.Local = true
		s.announce(protocol.VideoCtrl{Command: protocol.CmdBuffer})
	} else {
		s.buffer.Local = false
		s.buffer.Remote = s.buffer.RemoteNext
		s.announce(protocol.VideoCtrl{Command: protocol.CmdBufferEnd})
	}
	s.apply()
}

// ShareLink switches both sides to an external video.
func (s *Synchronizer) ShareLink(url string) error {
	if err := s.activate(MediaSource{Kind: SourceExternal, URL: url}); err != nil {
		return err
	}
	s.announce(protocol.Link(url))
	return nil
}

// ClearLink stops watching the external video on both sides.
func (s *Synchronizer) ClearLink() {
	if s.source.Kind == SourceExternal {
		s.teardown()
	}
	s.announce(protocol.ClearLink())
}

// ShareFile starts watching a local file. The caller publishes the file's
// tracks after ShareFile returns, so the other side learns the receive mode
// first.
func (s *Synchronizer) ShareFile(name string, res Resource) error {
	err := s.activate(MediaSource{Kind: SourceLocalFile, Name: name, Resource: res})
	if err != nil {
		return err
	}
	s.announce(protocol.MediaReceiving{Content: protocol.ReceiveVideoFile})
	s.setDesired(true, true)

	dur := s.player.Duration()
	s.progress = ProgressInfo{Total: FormatClock(dur)}
	s.announce(protocol.MediaStatus{Content: protocol.StatusDuration, Duration: s.progress.Total})
	s.stopTicker = s.sched.Every(TickInterval, s.Tick)
	return nil
}

// Seek moves to fraction of the current duration. Which side actually
// seeks depends on who owns the media.
func (s *Synchronizer) Seek(fraction float64) error {
	fraction = clamp(fraction)
	switch s.source.Kind {
	case SourceLocalFile:
		s.player.Seek(fraction * s.player.Duration())
	case SourceRemoteFile:
		s.announce(protocol.SeekTo{Source: protocol.SeekFile, Fraction: fraction})
	case SourceExternal:
		s.player.Seek(fraction * s.player.Duration())
		s.announce(protocol.SeekTo{Source: protocol.SeekExternal, Fraction: fraction})
	default:
		return ErrNoSource
	}
	return nil
}

func (s *Synchronizer) SetLoop(enabled bool) {
	s.loop = enabled
	s.player.SetLoop(enabled)
	s.announce(protocol.VideoCtrl{Command: protocol.CmdLoop, Loop: enabled})
}

// Tick samples the local file position and reports it to the other side.
func (s *Synchronizer) Tick() {
	if s.stopTicker == nil || s.source.Kind != SourceLocalFile || !s.desiredPlay {
		return
	}
	pos, dur := s.player.Position(), s.player.Duration()
	s.progress = ProgressInfo{
		PlayedSeconds: pos,
		Played:        FormatClock(pos),
		Total:         FormatClock(dur),
		Fraction:      fraction(pos, dur),
	}
	s.announce(protocol.MediaStatus{
		Content:  protocol.StatusProgress,
		Played:   s.progress.Played,
		Fraction: s.progress.Fraction,
	})
}

// Route says where an incoming track from the other side belongs.
type Route int

const (
	RouteCall Route = iota
	RouteFile
)

func (s *Synchronizer) RouteTrack() Route {
	if s.receive == protocol.ReceiveVideoFile {
		return RouteFile
	}
	return RouteCall
}

// AttachRemoteStream hands the other side's file stream to the player.
func (s *Synchronizer) AttachRemoteStream(res Resource) error {
	if s.source.Kind != SourceRemoteFile {
		s.teardown()
		s.source = MediaSource{Kind: SourceRemoteFile}
	}
	if s.source.Resource != nil {
		s.source.Resource.Release()
	}
	s.source.Resource = res
	if err := s.player.Load(s.source); err != nil {
		return fmt.Errorf("load remote file: %w", err)
	}
	s.loaded = true
	s.playing = false
	s.apply()
	return nil
}

// HandleRemote applies a message from the other side. Remote commands are
// never echoed back.
func (s *Synchronizer) HandleRemote(m protocol.ControlMessage) {
	switch v := m.(type) {
	case protocol.MediaReceiving:
		s.receive = v.Content
		if v.Content == protocol.ReceiveVideoFile {
			s.teardown()
			s.source = MediaSource{Kind: SourceRemoteFile}
		}

	case protocol.MediaStatus:
		switch v.Content {
		case protocol.StatusProgress:
			s.progress.Played = v.Played
			s.progress.Fraction = v.Fraction
		case protocol.StatusDuration:
			s.progress.Total = v.Duration
		case protocol.StatusStopped:
			// concerns the call stream, not playback
		}

	case protocol.VideoLink:
		if v.URL == nil {
			if s.source.Kind == SourceExternal {
				s.teardown()
			}
			s.buffer.Remote = false
			s.buffer.RemoteNext = false
			s.apply()
			return
		}
		if err := s.activate(MediaSource{Kind: SourceExternal, URL: *v.URL}); err != nil {
			log.Warn().Err(err).Str("module", "playback").Msg("cannot open shared link")
		}

	case protocol.VideoCtrl:
		s.handleCtrl(v)

	case protocol.SeekTo:
		want := SourceExternal
		if v.Source == protocol.SeekFile {
			want = SourceLocalFile
		}
		if s.source.Kind != want {
			log.Debug().Str("module", "playback").Str("seek", string(v.Source)).Str("source", s.source.Kind.String()).Msg("seek for another source")
			return
		}
		s.player.Seek(v.Fraction * s.player.Duration())
	}
}

func (s *Synchronizer) handleCtrl(v protocol.VideoCtrl) {
	switch v.Command {
	case protocol.CmdPlay:
		s.setDesired(true, false)
	case protocol.CmdPause:
		s.setDesired(false, false)
	case protocol.CmdBuffer, protocol.CmdBufferEnd:
		stalled := v.Command == protocol.CmdBuffer
		if s.buffer.Local {
			s.buffer.RemoteNext = stalled
		} else {
			s.buffer.Remote = stalled
		}
		s.apply()
	case protocol.CmdLoop:
		s.loop = v.Loop
		s.player.SetLoop(v.Loop)
	}
}

// Close leaves the current source.
func (s *Synchronizer) Close() {
	s.teardown()
}

func (s *Synchronizer) setDesired(play, announce bool) {
	s.desiredPlay = play
	s.apply()
	if !announce {
		return
	}
	cmd := protocol.CmdPause
	if play {
		cmd = protocol.CmdPlay
	}
	s.announce(protocol.VideoCtrl{Command: cmd})
}

// apply brings the player in line with EffectivePlaying.
func (s *Synchronizer) apply() {
	if !s.loaded {
		return
	}
	want := s.EffectivePlaying()
	if want == s.playing {
		return
	}
	s.playing = want
	if want {
		s.player.Play()
	} else {
		s.player.Pause()
	}
}

// activate leaves the current source and loads src.
func (s *Synchronizer) activate(src MediaSource) error {
	s.teardown()
	if err := s.player.Load(src); err != nil {
		if src.Resource != nil {
			src.Resource.Release()
		}
		return fmt.Errorf("load %s: %w", src.Kind, err)
	}
	s.source = src
	s.loaded = true
	log.Info().Str("module", "playback").Str("source", src.String()).Msg("source active")
	s.apply()
	return nil
}

func (s *Synchronizer) teardown() {
	if s.stopTicker != nil {
		s.stopTicker()
		s.stopTicker = nil
	}
	if s.source.Kind == SourceNone {
		return
	}
	prev := s.source
	s.source = MediaSource{}
	s.playing = false
	if s.loaded {
		s.loaded = false
		s.player.Unload()
	}
	if prev.Resource != nil {
		prev.Resource.Release()
	}
	log.Debug().Str("module", "playback").Str("source", prev.String()).Msg("source released")
}

func (s *Synchronizer) announce(m protocol.ControlMessage) {
	if err := s.send.Send(m); err != nil {
		log.Debug().Err(err).Str("module", "playback").Str("kind", string(m.Kind())).Msg("control message not sent")
	}
}

func clamp(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(math.Max(f, 0), 1)
}
