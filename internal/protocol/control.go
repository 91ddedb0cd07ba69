package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind = errors.New("unknown control message kind")
	ErrMalformed   = errors.New("malformed control message")
)

// ControlKind is the wire "type" of a control message.
type ControlKind string

const (
	KindMediaReceiving ControlKind = "mediaReceiving"
	KindMediaStatus    ControlKind = "mediaStatus"
	KindVideoLink      ControlKind = "videoLink"
	KindVideoCtrl      ControlKind = "videoCtrl"
	KindSeekTo         ControlKind = "seekTo"
)

// ControlMessage is implemented by exactly the five variants below.
type ControlMessage interface {
	Kind() ControlKind
	control()
}

// ReceiveMode tells the receiver how to route the next incoming tracks.
type ReceiveMode string

const (
	ReceiveCallStream ReceiveMode = "callStream"
	ReceiveVideoFile  ReceiveMode = "videoFile"
)

type StatusKind string

const (
	StatusStopped  StatusKind = "stopped"
	StatusProgress StatusKind = "progress"
	StatusDuration StatusKind = "duration"
)

type Command string

const (
	CmdPlay      Command = "play"
	CmdPause     Command = "pause"
	CmdBuffer    Command = "buffer"
	CmdBufferEnd Command = "bufferEnd"
	CmdLoop      Command = "loop"
)

// SeekSource names the player a seek applies to.
type SeekSource string

const (
	SeekFile     SeekSource = "file"
	SeekExternal SeekSource = "yt"
)

type MediaReceiving struct {
	Content ReceiveMode
}

// MediaStatus is telemetry. A later status supersedes an earlier one.
type MediaStatus struct {
	Content  StatusKind
	Played   string  // progress: formatted elapsed time
	Fraction float64 // progress: position in [0,1]
	Duration string  // duration: formatted total
}

// VideoLink announces a shared external video. A nil URL clears it.
type VideoLink struct {
	URL *string
}

type VideoCtrl struct {
	Command Command
	Loop    bool // only meaningful for CmdLoop
}

type SeekTo struct {
	Source   SeekSource
	Fraction float64
}

func (MediaReceiving) Kind() ControlKind { return KindMediaReceiving }
func (MediaStatus) Kind() ControlKind    { return KindMediaStatus }
func (VideoLink) Kind() ControlKind      { return KindVideoLink }
func (VideoCtrl) Kind() ControlKind      { return KindVideoCtrl }
func (SeekTo) Kind() ControlKind         { return KindSeekTo }

func (MediaReceiving) control() {}
func (MediaStatus) control()    {}
func (VideoLink) control()      {}
func (VideoCtrl) control()      {}
func (SeekTo) control()         {}

// Link builds a VideoLink announcing url.
func Link(url string) VideoLink { return VideoLink{URL: &url} }

// ClearLink builds a VideoLink that clears the shared link.
func ClearLink() VideoLink { return VideoLink{} }

// frame is the flat wire shape shared by both codecs. Content is polymorphic:
// a string for most kinds, a number for seekTo and null for a cleared link.
type frame struct {
	Type        ControlKind `json:"type" msgpack:"type"`
	Content     any         `json:"content" msgpack:"content"`
	Video       SeekSource  `json:"video,omitempty" msgpack:"video,omitempty"`
	Enable      *bool       `json:"enable,omitempty" msgpack:"enable,omitempty"`
	Progress    float64     `json:"progress,omitempty" msgpack:"progress,omitempty"`
	ProgressSec string      `json:"progressSec,omitempty" msgpack:"progressSec,omitempty"`
	Duration    string      `json:"duration,omitempty" msgpack:"duration,omitempty"`
}

func toFrame(m ControlMessage) (frame, error) {
	switch v := m.(type) {
	case MediaReceiving:
		return frame{Type: KindMediaReceiving, Content: string(v.Content)}, nil
	case MediaStatus:
		return frame{
			Type:        KindMediaStatus,
			Content:     string(v.Content),
			Progress:    v.Fraction,
			ProgressSec: v.Played,
			Duration:    v.Duration,
		}, nil
	case VideoLink:
		f := frame{Type: KindVideoLink}
		if v.URL != nil {
			f.Content = *v.URL
		}
		return f, nil
	case VideoCtrl:
		f := frame{Type: KindVideoCtrl, Content: string(v.Command)}
		if v.Command == CmdLoop {
			enable := v.Loop
			f.Enable = &enable
		}
		return f, nil
	case SeekTo:
		return frame{Type: KindSeekTo, Video: v.Source, Content: v.Fraction}, nil
	case nil:
		return frame{}, fmt.Errorf("%w: nil message", ErrMalformed)
	default:
		return frame{}, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
}

func fromFrame(f frame) (ControlMessage, error) {
	switch f.Type {
	case KindMediaReceiving:
		s, ok := f.Content.(string)
		if !ok {
			return nil, malformed(f)
		}
		switch mode := ReceiveMode(s); mode {
		case ReceiveCallStream, ReceiveVideoFile:
			return MediaReceiving{Content: mode}, nil
		}
		return nil, malformed(f)

	case KindMediaStatus:
		s, ok := f.Content.(string)
		if !ok {
			return nil, malformed(f)
		}
		switch kind := StatusKind(s); kind {
		case StatusStopped:
			return MediaStatus{Content: kind}, nil
		case StatusProgress:
			return MediaStatus{Content: kind, Played: f.ProgressSec, Fraction: clampFraction(f.Progress)}, nil
		case StatusDuration:
			return MediaStatus{Content: kind, Duration: f.Duration}, nil
		}
		return nil, malformed(f)

	case KindVideoLink:
		switch v := f.Content.(type) {
		case nil:
			return ClearLink(), nil
		case string:
			if v == "" {
				return ClearLink(), nil
			}
			return Link(v), nil
		}
		return nil, malformed(f)

	case KindVideoCtrl:
		s, ok := f.Content.(string)
		if !ok {
			return nil, malformed(f)
		}
		switch cmd := Command(s); cmd {
		case CmdPlay, CmdPause, CmdBuffer, CmdBufferEnd:
			return VideoCtrl{Command: cmd}, nil
		case CmdLoop:
			if f.Enable == nil {
				return nil, malformed(f)
			}
			return VideoCtrl{Command: cmd, Loop: *f.Enable}, nil
		}
		return nil, malformed(f)

	case KindSeekTo:
		frac, ok := toFloat(f.Content)
		if !ok {
			return nil, malformed(f)
		}
		switch f.Video {
		case SeekFile, SeekExternal:
			return SeekTo{Source: f.Video, Fraction: clampFraction(frac)}, nil
		}
		return nil, malformed(f)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Type)
}

func malformed(f frame) error {
	return fmt.Errorf("%w: %s content=%v", ErrMalformed, f.Type, f.Content)
}

// toFloat accepts every numeric shape the two decoders may produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func clampFraction(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
