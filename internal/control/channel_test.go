package control

import (
	"errors"
	"testing"

	"github.com/dkeye/Cowatch/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type fakeDC struct {
	label   string
	state   webrtc.DataChannelState
	text    []string
	binary  [][]byte
	onOpen  func()
	onMsg   func(webrtc.DataChannelMessage)
	closed  bool
	sendErr error
}

func (f *fakeDC) Label() string                                { return f.label }
func (f *fakeDC) ReadyState() webrtc.DataChannelState          { return f.state }
func (f *fakeDC) OnOpen(fn func())                             { f.onOpen = fn }
func (f *fakeDC) OnClose(func())                               {}
func (f *fakeDC) OnMessage(fn func(webrtc.DataChannelMessage)) { f.onMsg = fn }
func (f *fakeDC) Close() error                                 { f.closed = true; return nil }

func (f *fakeDC) Send(data []byte) error {
	f.binary = append(f.binary, data)
	return f.sendErr
}

func (f *fakeDC) SendText(s string) error {
	f.text = append(f.text, s)
	return f.sendErr
}

type harness struct {
	ch       *Channel
	opened   []*fakeDC
	received []protocol.ControlMessage
}

func newHarness(codec protocol.Codec) *harness {
	h := &harness{}
	h.ch = New(codec, func(label string) (DataChannel, error) {
		dc := &fakeDC{label: label, state: webrtc.DataChannelStateConnecting}
		h.opened = append(h.opened, dc)
		return dc, nil
	}, func(m protocol.ControlMessage) {
		h.received = append(h.received, m)
	})
	return h
}

func TestSendBeforeOpen(t *testing.T) {
	h := newHarness(protocol.JSONCodec{})
	if err := h.ch.Send(protocol.VideoCtrl{Command: protocol.CmdPlay}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("no handle: %v", err)
	}

	created, err := h.ch.EnsureLocal()
	if err != nil || !created {
		t.Fatalf("EnsureLocal = %v, %v", created, err)
	}
	if err := h.ch.Send(protocol.VideoCtrl{Command: protocol.CmdPlay}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("connecting handle: %v", err)
	}
	if len(h.opened[0].text) != 0 {
		t.Error("message written to a connecting channel")
	}
}

func TestEnsureLocalOnce(t *testing.T) {
	h := newHarness(protocol.JSONCodec{})
	h.ch.EnsureLocal()
	created, _ := h.ch.EnsureLocal()
	if created || len(h.opened) != 1 {
		t.Errorf("created = %v, opened %d channels", created, len(h.opened))
	}
	if h.opened[0].label != Label {
		t.Errorf("label = %q", h.opened[0].label)
	}
}

func TestAttachRemoteCreatesLocalHandle(t *testing.T) {
	h := newHarness(protocol.JSONCodec{})
	remote := &fakeDC{label: Label, state: webrtc.DataChannelStateOpen}

	created, err := h.ch.AttachRemote(remote)
	if err != nil || !created {
		t.Fatalf("AttachRemote = %v, %v", created, err)
	}
	if len(h.opened) != 1 {
		t.Fatalf("local handles = %d", len(h.opened))
	}

	// local is still connecting, so the remote handle carries the message
	if err := h.ch.Send(protocol.Link("https://youtu.be/x")); err != nil {
		t.Fatal(err)
	}
	if len(remote.text) != 1 {
		t.Fatalf("remote sent %d", len(remote.text))
	}

	h.opened[0].state = webrtc.DataChannelStateOpen
	h.ch.Send(protocol.ClearLink())
	if len(h.opened[0].text) != 1 || len(remote.text) != 1 {
		t.Errorf("local %d remote %d", len(h.opened[0].text), len(remote.text))
	}
}

func TestAttachIgnoresOtherLabels(t *testing.T) {
	h := newHarness(protocol.JSONCodec{})
	created, err := h.ch.AttachRemote(&fakeDC{label: "files"})
	if err != nil || created || len(h.opened) != 0 {
		t.Errorf("created = %v err = %v opened = %d", created, err, len(h.opened))
	}
}

func TestInboundMessages(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want int
	}{
		{"valid", `{"type":"videoCtrl","content":"pause"}`, 1},
		{"unknown kind", `{"type":"chat","content":"hi"}`, 0},
		{"garbage", `not json`, 0},
		{"bad command", `{"type":"videoCtrl","content":"rewind"}`, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(protocol.JSONCodec{})
			remote := &fakeDC{label: Label}
			h.ch.AttachRemote(remote)

			remote.onMsg(webrtc.DataChannelMessage{IsString: true, Data: []byte(tc.data)})
			if len(h.received) != tc.want {
				t.Errorf("delivered %d, want %d", len(h.received), tc.want)
			}
		})
	}
}

func TestBinaryCodecUsesBinaryFrames(t *testing.T) {
	h := newHarness(protocol.MsgPackCodec{})
	h.ch.EnsureLocal()
	dc := h.opened[0]
	dc.state = webrtc.DataChannelStateOpen

	if err := h.ch.Send(protocol.SeekTo{Source: protocol.SeekFile, Fraction: 0.25}); err != nil {
		t.Fatal(err)
	}
	if len(dc.binary) != 1 || len(dc.text) != 0 {
		t.Fatalf("binary %d text %d", len(dc.binary), len(dc.text))
	}

	// loop the frame back through the local handle
	dc.onMsg(webrtc.DataChannelMessage{Data: dc.binary[0]})
	if len(h.received) != 1 {
		t.Fatal("not delivered")
	}
	seek, ok := h.received[0].(protocol.SeekTo)
	if !ok || seek.Fraction != 0.25 || seek.Source != protocol.SeekFile {
		t.Errorf("got %#v", h.received[0])
	}
}

func TestSendErrorAndClose(t *testing.T) {
	h := newHarness(protocol.JSONCodec{})
	opened := 0
	h.ch.OnOpen(func() { opened++ })
	h.ch.EnsureLocal()
	dc := h.opened[0]
	dc.onOpen()
	if opened != 1 {
		t.Errorf("open callback ran %d times", opened)
	}

	dc.state = webrtc.DataChannelStateOpen
	dc.sendErr = errors.New("sctp closed")
	if err := h.ch.Send(protocol.VideoCtrl{Command: protocol.CmdPlay}); err == nil {
		t.Error("send error swallowed")
	}
	if len(dc.text) != 1 {
		t.Errorf("retried: %d writes", len(dc.text))
	}

	h.ch.Close()
	if !dc.closed || h.ch.Ready() {
		t.Error("channel not closed")
	}
}
