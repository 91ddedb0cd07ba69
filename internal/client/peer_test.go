package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Cowatch/internal/adapters/rtc"
	"github.com/dkeye/Cowatch/internal/app"
	"github.com/dkeye/Cowatch/internal/core"
	"github.com/dkeye/Cowatch/internal/domain"
	"github.com/dkeye/Cowatch/internal/playback"
	"github.com/dkeye/Cowatch/internal/protocol"
)

type fakeSignaler struct {
	in  chan *protocol.Message
	out chan *protocol.Message
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{in: make(chan *protocol.Message, 16), out: make(chan *protocol.Message, 16)}
}

func (s *fakeSignaler) Send(m *protocol.Message) error {
	s.out <- m
	return nil
}

func (s *fakeSignaler) Incoming() <-chan *protocol.Message { return s.in }

func (s *fakeSignaler) Close() {}

func (s *fakeSignaler) next(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case m := <-s.out:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
		return nil
	}
}

func runPeer(t *testing.T, p *Peer, commands <-chan Command) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	res := make(chan error, 1)
	go func() { res <- p.Run(ctx, commands) }()
	return res
}

func wait(t *testing.T, res <-chan error) error {
	t.Helper()
	select {
	case err := <-res:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not stop")
		return nil
	}
}

func TestPeerJoinRejected(t *testing.T) {
	tests := []struct {
		reason string
		want   error
	}{
		{protocol.RejectFull, ErrSessionFull},
		{protocol.RejectInvalid, ErrJoinRejected},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			sig := newFakeSignaler()
			res := runPeer(t, NewPeer(sig, Options{Name: "alice", Session: "room"}), nil)

			join := sig.next(t)
			if join.Type != protocol.TypeJoin || join.SessionID != "room" || join.Name != "alice" {
				t.Fatalf("first message = %+v", join)
			}
			sig.in <- protocol.JoinRejected(tt.reason, "no")
			if err := wait(t, res); !errors.Is(err, tt.want) {
				t.Errorf("Run = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPeerAcceptsNewcomer(t *testing.T) {
	sig := newFakeSignaler()
	res := runPeer(t, NewPeer(sig, Options{Name: "alice", Session: "room"}), nil)
	sig.next(t) // join

	sig.in <- &protocol.Message{Type: protocol.TypeParticipantJoined, SessionID: "room", ID: "a", Name: "alice"}
	sig.in <- &protocol.Message{Type: protocol.TypeParticipantJoined, SessionID: "room", ID: "b", Name: "bob"}

	accept := sig.next(t)
	if accept.Type != protocol.TypeAccept || accept.To != "b" || accept.Name != "alice" {
		t.Fatalf("accept = %+v", accept)
	}

	sig.in <- &protocol.Message{Type: protocol.TypeParticipantLeft, SessionID: "room", ID: "b", Name: "bob"}
	err := wait(t, res)
	if !errors.Is(err, ErrRemoteLeft) {
		t.Fatalf("Run = %v, want ErrRemoteLeft", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Details != "bob" {
		t.Errorf("error details = %v", err)
	}
}

func TestPeerIgnoresOwnAccept(t *testing.T) {
	sig := newFakeSignaler()
	commands := make(chan Command)
	res := runPeer(t, NewPeer(sig, Options{Name: "alice", Session: "room"}), commands)
	sig.next(t)

	sig.in <- &protocol.Message{Type: protocol.TypeParticipantJoined, ID: "a", Name: "alice"}
	sig.in <- &protocol.Message{Type: protocol.TypeAccept, ID: "a", To: "b", Name: "alice"}
	// no offer may follow an accept we sent ourselves
	select {
	case m := <-sig.out:
		t.Fatalf("unexpected %s", m.Type)
	case <-time.After(200 * time.Millisecond):
	}

	commands <- Command{Kind: CmdQuit}
	if err := wait(t, res); err != nil {
		t.Errorf("Run after quit = %v", err)
	}
}

func TestPeerSignalingClosed(t *testing.T) {
	sig := newFakeSignaler()
	res := runPeer(t, NewPeer(sig, Options{Name: "alice", Session: "room"}), nil)
	sig.next(t)
	close(sig.in)
	if err := wait(t, res); !errors.Is(err, ErrSignalingClosed) {
		t.Errorf("Run = %v", err)
	}
}

// hubConn is the relay side of an in-process participant.
type hubConn struct{ in chan *protocol.Message }

func (c hubConn) TrySend(f core.Frame) error {
	m, err := protocol.Decode(f)
	if err != nil {
		return err
	}
	select {
	case c.in <- m:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (hubConn) Close() {}

// hubSignaler is the participant side.
type hubSignaler struct {
	hub *app.Hub
	id  domain.ParticipantID
	in  chan *protocol.Message
}

func dialHub(t *testing.T, hub *app.Hub, id domain.ParticipantID) *hubSignaler {
	t.Helper()
	s := &hubSignaler{hub: hub, id: id, in: make(chan *protocol.Message, 64)}
	if err := hub.Register(id, hubConn{in: s.in}); err != nil {
		t.Fatal(err)
	}
	return s
}

func (s *hubSignaler) Send(m *protocol.Message) error { return s.hub.Submit(s.id, m) }

func (s *hubSignaler) Incoming() <-chan *protocol.Message { return s.in }

func (s *hubSignaler) Close() { s.hub.Unregister(s.id) }

type watcher struct {
	name    string
	notices chan Notice
}

func newWatcher(name string) *watcher {
	return &watcher{name: name, notices: make(chan Notice, 256)}
}

func (w *watcher) notify(n Notice) {
	select {
	case w.notices <- n:
	default:
	}
}

func (w *watcher) await(t *testing.T, substr string) {
	t.Helper()
	deadline := time.After(20 * time.Second)
	for {
		select {
		case n := <-w.notices:
			if strings.Contains(n.Text, substr) {
				return
			}
		case <-deadline:
			t.Fatalf("%s never saw %q", w.name, substr)
		}
	}
}

type loopbackPair struct {
	hub        *app.Hub
	aliceSeen  *watcher
	bobSeen    *watcher
	aliceCmds  chan Command
	bobCmds    chan Command
	alice, bob <-chan error
}

func peerOptions(name string, w *watcher) Options {
	return Options{
		Name:       name,
		Session:    "movie-night",
		ICE:        webrtc.Configuration{},
		External:   time.Hour,
		RTCOptions: []rtc.Option{rtc.WithLoopback()},
		Notify:     w.notify,
	}
}

// connectPair runs alice and bob through a real hub until both control
// channels are open.
func connectPair(t *testing.T) *loopbackPair {
	t.Helper()
	if testing.Short() {
		t.Skip("uses real ICE on loopback")
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	lp := &loopbackPair{
		hub:       app.NewHub(app.SimplePolicy{}),
		aliceSeen: newWatcher("alice"),
		bobSeen:   newWatcher("bob"),
		aliceCmds: make(chan Command, 4),
		bobCmds:   make(chan Command, 4),
	}
	go lp.hub.Run(ctx)

	lp.alice = runPeer(t, NewPeer(dialHub(t, lp.hub, "p-alice"), peerOptions("alice", lp.aliceSeen)), lp.aliceCmds)
	lp.aliceSeen.await(t, "joined session")
	lp.bob = runPeer(t, NewPeer(dialHub(t, lp.hub, "p-bob"), peerOptions("bob", lp.bobSeen)), lp.bobCmds)

	lp.aliceSeen.await(t, "connected to bob")
	lp.bobSeen.await(t, "connected to alice")
	lp.aliceSeen.await(t, "control channel open")
	lp.bobSeen.await(t, "control channel open")
	return lp
}

func TestPeersWatchTogether(t *testing.T) {
	lp := connectPair(t)

	lp.aliceCmds <- Command{Kind: CmdLink, URL: "https://example.com/watch"}
	lp.bobSeen.await(t, "alice shared https://example.com/watch")
	lp.aliceCmds <- Command{Kind: CmdPlay}
	lp.bobSeen.await(t, "alice: play")

	carolSeen := newWatcher("carol")
	carol := runPeer(t, NewPeer(dialHub(t, lp.hub, "p-carol"), peerOptions("carol", carolSeen)), nil)
	if err := wait(t, carol); !errors.Is(err, ErrSessionFull) {
		t.Errorf("third participant: %v", err)
	}

	lp.aliceCmds <- Command{Kind: CmdQuit}
	if err := wait(t, lp.alice); err != nil {
		t.Errorf("alice: %v", err)
	}
	if err := wait(t, lp.bob); !errors.Is(err, ErrRemoteLeft) {
		t.Errorf("bob: %v", err)
	}
}

func TestPeersShareFile(t *testing.T) {
	lp := connectPair(t)

	lp.aliceCmds <- Command{Kind: CmdShareFile, Name: "movie.mkv", Length: 2 * time.Minute}
	lp.aliceSeen.await(t, "sharing movie.mkv")
	lp.bobSeen.await(t, "alice is sharing a file")
	lp.bobSeen.await(t, "receiving the file alice shares")

	// the receiver seeks; the owner applies it to its own file
	lp.bobCmds <- Command{Kind: CmdSeek, Fraction: 0.5}
	lp.aliceSeen.await(t, "bob seeked to 50%")

	lp.bobCmds <- Command{Kind: CmdStatus}
	lp.bobSeen.await(t, "remote-file")
}

func TestPeersToggleCamera(t *testing.T) {
	lp := connectPair(t)

	lp.aliceCmds <- Command{Kind: CmdCamera, On: true}
	lp.bobSeen.await(t, "receiving call media from alice")
	lp.aliceCmds <- Command{Kind: CmdCamera, On: false}
	lp.bobSeen.await(t, "alice turned camera and microphone off")
	lp.aliceCmds <- Command{Kind: CmdCamera, On: true}
	lp.bobSeen.await(t, "receiving call media from alice")
}

func endedTrack() (*rtp.Packet, error) { return nil, io.EOF }

func newIdlePeer(t *testing.T) *Peer {
	t.Helper()
	p := NewPeer(newFakeSignaler(), Options{Name: "bob", Session: "room"})
	p.remoteName = "alice"
	t.Cleanup(p.close)
	return p
}

func TestCallStreamRoutedAgainAfterStop(t *testing.T) {
	p := newIdlePeer(t)

	p.routeStream("call-1", "video", endedTrack)
	first := p.callStream
	if first == nil {
		t.Fatal("track not routed to the call")
	}

	p.onControl(protocol.MediaStatus{Content: protocol.StatusStopped})
	if p.callStream != nil || len(p.remoteStreams) != 0 {
		t.Fatalf("stopped call kept: call=%v streams=%d", p.callStream, len(p.remoteStreams))
	}

	// same stream id on purpose: a stale entry must not swallow the track
	p.onControl(protocol.MediaReceiving{Content: protocol.ReceiveCallStream})
	p.routeStream("call-1", "video", endedTrack)
	if p.callStream == nil || p.callStream == first {
		t.Fatalf("second call stream not routed: %v", p.callStream)
	}
}

func TestCallStreamReplaced(t *testing.T) {
	p := newIdlePeer(t)
	p.routeStream("call-1", "audio", endedTrack)
	p.routeStream("call-2", "audio", endedTrack)
	if p.callStream == nil || p.callStream.ID != "call-2" {
		t.Fatalf("call stream = %v", p.callStream)
	}
	if _, ok := p.remoteStreams["call-1"]; ok || len(p.remoteStreams) != 1 {
		t.Errorf("replaced stream kept: %v", p.remoteStreams)
	}
}

func TestFileStreamForgottenOnSourceSwitch(t *testing.T) {
	p := newIdlePeer(t)

	p.onControl(protocol.MediaReceiving{Content: protocol.ReceiveVideoFile})
	p.routeStream("file-1", "video", endedTrack)
	p.routeStream("file-1", "audio", endedTrack)
	if got := p.sync.Source().Kind; got != playback.SourceRemoteFile {
		t.Fatalf("source = %v, want remote file", got)
	}
	if p.callStream != nil {
		t.Fatal("file track routed to the call")
	}
	if rs := p.remoteStreams["file-1"]; rs == nil || rs.Stats().Tracks != 2 {
		t.Fatalf("file stream = %+v", rs)
	}

	p.onControl(protocol.Link("https://example.com/v"))
	if got := p.sync.Source().Kind; got != playback.SourceExternal {
		t.Fatalf("source = %v, want external", got)
	}
	if len(p.remoteStreams) != 0 {
		t.Errorf("released file stream kept: %v", p.remoteStreams)
	}
}
