package negotiation

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

type fakePC struct {
	offers  int
	answers []webrtc.SessionDescription
	applied []webrtc.SessionDescription
	failOn  string
	closed  bool
}

func (f *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	if f.failOn == "offer" {
		return webrtc.SessionDescription{}, errors.New("boom")
	}
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakePC) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if f.failOn == "answer" {
		return webrtc.SessionDescription{}, errors.New("boom")
	}
	f.answers = append(f.answers, offer)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer to " + offer.SDP}, nil
}

func (f *fakePC) ApplyAnswer(answer webrtc.SessionDescription) error {
	f.applied = append(f.applied, answer)
	return nil
}

func (f *fakePC) Close() error {
	f.closed = true
	return nil
}

func newCoordinator(t *testing.T, polite bool) (*Coordinator, *fakePC) {
	t.Helper()
	pc := &fakePC{}
	c, err := New(func() (PeerConnection, error) { return pc, nil }, polite)
	if err != nil {
		t.Fatal(err)
	}
	return c, pc
}

func offer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func TestOffererPath(t *testing.T) {
	c, pc := newCoordinator(t, false)

	if _, err := c.CreateOffer(); err != nil {
		t.Fatal(err)
	}
	if c.State() != AwaitingRemoteAnswer {
		t.Fatalf("state = %s", c.State())
	}
	if _, err := c.CreateOffer(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second offer: %v", err)
	}

	if err := c.ApplyRemoteAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a1"}); err != nil {
		t.Fatal(err)
	}
	if !c.Connected() || len(pc.applied) != 1 {
		t.Fatalf("state = %s, applied = %d", c.State(), len(pc.applied))
	}

	if err := c.ApplyRemoteAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("answer while connected: %v", err)
	}
}

func TestAnswererPath(t *testing.T) {
	c, _ := newCoordinator(t, true)

	ans, err := c.CreateAnswer(offer("o1"))
	if err != nil {
		t.Fatal(err)
	}
	if ans.SDP != "answer to o1" || c.State() != LocalAnswerSent {
		t.Fatalf("answer %q in %s", ans.SDP, c.State())
	}

	// a re-sent offer before the transport is up replaces the stored one
	if _, err := c.CreateAnswer(offer("o2")); err != nil {
		t.Fatal(err)
	}
	if c.RemoteDescription().SDP != "o2" || c.State() != LocalAnswerSent {
		t.Errorf("remote = %q, state = %s", c.RemoteDescription().SDP, c.State())
	}

	c.MarkConnected()
	if !c.Connected() {
		t.Fatalf("state = %s", c.State())
	}
	c.MarkConnected()
	if !c.Connected() {
		t.Error("MarkConnected not idempotent")
	}
}

func TestRenegotiation(t *testing.T) {
	c, pc := newCoordinator(t, false)
	if _, err := c.CreateRenegotiationOffer(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("renegotiate from idle: %v", err)
	}

	c.CreateOffer()
	c.ApplyRemoteAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer})

	if _, err := c.CreateRenegotiationOffer(); err != nil {
		t.Fatal(err)
	}
	if c.State() != RenegotiationOfferPending || pc.offers != 2 {
		t.Fatalf("state = %s offers = %d", c.State(), pc.offers)
	}
	if err := c.ApplyRemoteAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}); err != nil {
		t.Fatal(err)
	}
	if !c.Connected() {
		t.Fatalf("state = %s", c.State())
	}

	// remote renegotiation while connected
	if _, err := c.CreateAnswer(offer("r1")); err != nil {
		t.Fatal(err)
	}
	if !c.Connected() {
		t.Errorf("state after answering renegotiation = %s", c.State())
	}
}

func TestGlare(t *testing.T) {
	testCases := []struct {
		name    string
		polite  bool
		wantErr error
		want    State
	}{
		{"impolite keeps its offer", false, ErrGlare, RenegotiationOfferPending},
		{"polite yields", true, nil, Connected},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newCoordinator(t, tc.polite)
			c.CreateOffer()
			c.ApplyRemoteAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer})
			c.CreateRenegotiationOffer()

			_, err := c.CreateAnswer(offer("theirs"))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
			if c.State() != tc.want {
				t.Errorf("state = %s, want %s", c.State(), tc.want)
			}
		})
	}
}

func TestAnswerRejectedWhileAwaitingAnswer(t *testing.T) {
	c, _ := newCoordinator(t, true)
	c.CreateOffer()
	if _, err := c.CreateAnswer(offer("o")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("got %v", err)
	}
	if c.State() != AwaitingRemoteAnswer {
		t.Errorf("state changed to %s", c.State())
	}
}

func TestFailures(t *testing.T) {
	_, err := New(func() (PeerConnection, error) { return nil, errors.New("no ice") }, false)
	if !errors.Is(err, ErrPeerConnection) {
		t.Errorf("build failure: %v", err)
	}

	c, pc := newCoordinator(t, false)
	pc.failOn = "offer"
	if _, err := c.CreateOffer(); !errors.Is(err, ErrNegotiation) {
		t.Errorf("offer failure: %v", err)
	}
	if c.State() != Failed {
		t.Errorf("state = %s, want failed", c.State())
	}
	if _, err := c.CreateAnswer(offer("late")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("failed link accepted an offer: %v", err)
	}

	c.Close()
	if !pc.closed {
		t.Error("pc not closed")
	}
}
