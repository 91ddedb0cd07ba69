package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ReadFunc yields the next packet of a remote track.
type ReadFunc func() (*rtp.Packet, error)

// ReaderOf adapts a pion remote track.
func ReaderOf(track *webrtc.TrackRemote) ReadFunc {
	return func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}
}

type Stats struct {
	Tracks  int
	Packets uint64
	Bytes   uint64
}

// RemoteStream drains the tracks of one remote stream id and counts what
// arrives. Rendering is out of scope; the counters stand in for it.
type RemoteStream struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tracks  atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewRemoteStream(ctx context.Context, id string) *RemoteStream {
	ctx, cancel := context.WithCancel(ctx)
	return &RemoteStream{ID: id, ctx: ctx, cancel: cancel}
}

// Attach starts draining one more track of the stream.
func (s *RemoteStream) Attach(kind string, read ReadFunc) {
	s.tracks.Add(1)
	logger := log.With().Str("module", "media").Str("stream", s.ID).Str("kind", kind).Logger()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			pkt, err := read()
			if err != nil {
				logger.Debug().Err(err).Msg("remote track ended")
				return
			}
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.packets.Add(1)
			s.bytes.Add(uint64(len(pkt.Payload)))
		}
	}()
}

func (s *RemoteStream) Stats() Stats {
	return Stats{
		Tracks:  int(s.tracks.Load()),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
	}
}

// Release stops counting. Readers blocked on the network exit when their
// track ends.
func (s *RemoteStream) Release() {
	s.cancel()
}

// Wait blocks until every reader has returned.
func (s *RemoteStream) Wait() {
	s.wg.Wait()
}
