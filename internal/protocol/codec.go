package protocol

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns control messages into data channel payloads and back.
type Codec interface {
	Name() string
	// Binary reports whether payloads go out as binary frames.
	Binary() bool
	Marshal(m ControlMessage) ([]byte, error)
	Unmarshal(data []byte) (ControlMessage, error)
}

const (
	CodecJSON    = "json"
	CodecMsgPack = "msgpack"
)

// CodecByName returns the codec for a config value. Empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgPack:
		return MsgPackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown control codec %q", name)
}

// JSONCodec matches what a browser peer sends over the channel.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(m ControlMessage) ([]byte, error) {
	f, err := toFrame(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

func (JSONCodec) Unmarshal(data []byte) (ControlMessage, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromFrame(f)
}

type MsgPackCodec struct{}

func (MsgPackCodec) Name() string { return CodecMsgPack }
func (MsgPackCodec) Binary() bool { return true }

func (MsgPackCodec) Marshal(m ControlMessage) ([]byte, error) {
	f, err := toFrame(m)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&f)
}

func (MsgPackCodec) Unmarshal(data []byte) (ControlMessage, error) {
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromFrame(f)
}
