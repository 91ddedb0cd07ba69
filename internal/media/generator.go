package media

import (
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	// a single Opus silence frame
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// VP8 payload descriptor plus a keyframe start code
	vp8Frame = []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

// Generator emits a steady stream of placeholder RTP packets.
type Generator struct {
	Interval time.Duration

	payload []byte
	step    uint32
	seq     uint16
	ts      uint32
}

func NewGenerator(kind webrtc.RTPCodecType) *Generator {
	g := &Generator{Interval: 20 * time.Millisecond, payload: opusSilence}
	clock := uint64(48000)
	if kind == webrtc.RTPCodecTypeVideo {
		g.Interval = 33 * time.Millisecond
		g.payload = vp8Frame
		clock = 90000
	}
	g.step = uint32(clock * uint64(g.Interval) / uint64(time.Second))
	return g
}

func (g *Generator) Next() *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			SequenceNumber: g.seq,
			Timestamp:      g.ts,
		},
		Payload: g.payload,
	}
	g.seq++
	g.ts += g.step
	return pkt
}
