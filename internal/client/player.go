package client

import (
	"math"
	"time"

	"github.com/dkeye/Cowatch/internal/playback"
)

// durationer is implemented by resources that know their media length.
type durationer interface {
	Duration() time.Duration
}

// SimPlayer is a clock-driven stand-in for a video element.
type SimPlayer struct {
	external time.Duration
	now      func() time.Time

	src      playback.MediaSource
	loaded   bool
	playing  bool
	loop     bool
	duration float64
	base     float64 // position at anchor
	anchor   time.Time
}

// NewSimPlayer plays external links as if they were external long.
func NewSimPlayer(external time.Duration) *SimPlayer {
	return &SimPlayer{external: external, now: time.Now}
}

func (p *SimPlayer) Load(src playback.MediaSource) error {
	p.src = src
	p.loaded = true
	p.playing = false
	p.base = 0
	p.duration = 0
	switch src.Kind {
	case playback.SourceExternal:
		p.duration = p.external.Seconds()
	case playback.SourceLocalFile, playback.SourceRemoteFile:
		if d, ok := src.Resource.(durationer); ok {
			p.duration = d.Duration().Seconds()
		}
	}
	return nil
}

func (p *SimPlayer) Unload() {
	*p = SimPlayer{external: p.external, now: p.now, loop: p.loop}
}

func (p *SimPlayer) Play() {
	if !p.loaded || p.playing {
		return
	}
	p.anchor = p.now()
	p.playing = true
}

func (p *SimPlayer) Pause() {
	if !p.playing {
		return
	}
	p.base = p.Position()
	p.playing = false
}

func (p *SimPlayer) Seek(seconds float64) {
	if p.duration > 0 {
		seconds = math.Min(seconds, p.duration)
	}
	p.base = math.Max(seconds, 0)
	p.anchor = p.now()
}

func (p *SimPlayer) Position() float64 {
	pos := p.base
	if p.playing {
		pos += p.now().Sub(p.anchor).Seconds()
	}
	if p.duration <= 0 {
		return pos
	}
	if p.loop {
		return math.Mod(pos, p.duration)
	}
	return math.Min(pos, p.duration)
}

func (p *SimPlayer) Duration() float64 { return p.duration }

func (p *SimPlayer) SetLoop(enabled bool) {
	p.base = p.Position()
	p.anchor = p.now()
	p.loop = enabled
}

func (p *SimPlayer) Playing() bool { return p.playing }
