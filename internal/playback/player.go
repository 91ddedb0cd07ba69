package playback

import (
	"time"

	"github.com/dkeye/Cowatch/internal/protocol"
)

//go:generate mockgen -source=player.go -destination=mock_player_test.go -package=playback

// Player renders the active source. Seek takes seconds from the start.
type Player interface {
	Load(src MediaSource) error
	Unload()
	Play()
	Pause()
	Seek(seconds float64)
	Position() float64
	Duration() float64
	SetLoop(enabled bool)
}

// Sender transmits control messages to the other side.
type Sender interface {
	Send(m protocol.ControlMessage) error
}

// Scheduler runs fn every d until stop is called.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}

// TickerScheduler hands every tick to Post, which runs it on the owner's
// event loop.
type TickerScheduler struct {
	Post func(fn func())
}

func (s TickerScheduler) Every(d time.Duration, fn func()) func() {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				s.Post(fn)
			case <-done:
				return
			}
		}
	}()
	return func() {
		t.Stop()
		close(done)
	}
}
