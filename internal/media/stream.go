package media

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LocalStream is a set of outgoing tracks sharing one stream id, each fed
// by its own pump.
type LocalStream struct {
	ID     string
	Tracks []*OutTrack

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewLocalStream(id string, kinds ...webrtc.RTPCodecType) (*LocalStream, error) {
	s := &LocalStream{ID: id}
	for _, kind := range kinds {
		ot, err := NewOutTrack(kind, id)
		if err != nil {
			return nil, err
		}
		s.Tracks = append(s.Tracks, ot)
	}
	return s, nil
}

// Start runs one pump per track until ctx ends or Release is called.
func (s *LocalStream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, ot := range s.Tracks {
		logger := log.With().
			Str("module", "media").
			Str("stream", s.ID).
			Str("kind", ot.Kind.String()).
			Logger()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			pump(ctx, ot, NewGenerator(ot.Kind), &logger)
		}()
	}
}

// Track returns the track of the given kind, if the stream has one.
func (s *LocalStream) Track(kind webrtc.RTPCodecType) (*OutTrack, bool) {
	for _, ot := range s.Tracks {
		if ot.Kind == kind {
			return ot, true
		}
	}
	return nil, false
}

// Release stops every pump and waits for them to exit.
func (s *LocalStream) Release() {
	s.once.Do(func() {
		for _, ot := range s.Tracks {
			ot.MarkDelete()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		log.Debug().Str("module", "media").Str("stream", s.ID).Msg("local stream released")
	})
}

func pump(ctx context.Context, ot *OutTrack, gen *Generator, logger *zerolog.Logger) {
	ticker := time.NewTicker(gen.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ot.MarkDelete()
			return
		case <-ticker.C:
		}

		pkt := gen.Next()
		switch ot.GetState() {
		case TrackStateDelete:
			return
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Msg("write RTP error, stopping track")
				ot.MarkDelete()
				return
			}
		}
	}
}
