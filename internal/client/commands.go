package client

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type CommandKind int

const (
	CmdPlay CommandKind = iota
	CmdPause
	CmdForce
	CmdSeek
	CmdLink
	CmdUnlink
	CmdLoop
	CmdBuffer
	CmdCamera
	CmdMic
	CmdShareFile
	CmdStatus
	CmdQuit
)

// Command is one parsed line of user input.
type Command struct {
	Kind     CommandKind
	Fraction float64
	URL      string
	On       bool
	Name     string
	Length   time.Duration
}

const Usage = `play | pause | force | seek F | link URL | unlink | loop
buffer on|off | cam on|off | mic on|off | share-file NAME SECONDS | status | quit`

func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	simple := map[string]CommandKind{
		"play":   CmdPlay,
		"pause":  CmdPause,
		"force":  CmdForce,
		"unlink": CmdUnlink,
		"loop":   CmdLoop,
		"status": CmdStatus,
		"quit":   CmdQuit,
		"exit":   CmdQuit,
	}
	if kind, ok := simple[name]; ok {
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%s takes no arguments", name)
		}
		return Command{Kind: kind}, nil
	}

	switch name {
	case "seek":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: seek FRACTION")
		}
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil || f < 0 || f > 1 {
			return Command{}, fmt.Errorf("seek: fraction must be within [0,1], got %q", args[0])
		}
		return Command{Kind: CmdSeek, Fraction: f}, nil

	case "link":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: link URL")
		}
		return Command{Kind: CmdLink, URL: args[0]}, nil

	case "buffer", "cam", "mic":
		on, err := parseSwitch(name, args)
		if err != nil {
			return Command{}, err
		}
		kind := map[string]CommandKind{"buffer": CmdBuffer, "cam": CmdCamera, "mic": CmdMic}[name]
		return Command{Kind: kind, On: on}, nil

	case "share-file":
		if len(args) != 2 {
			return Command{}, fmt.Errorf("usage: share-file NAME SECONDS")
		}
		secs, err := strconv.ParseFloat(args[1], 64)
		if err != nil || secs <= 0 {
			return Command{}, fmt.Errorf("share-file: bad length %q", args[1])
		}
		return Command{Kind: CmdShareFile, Name: args[0], Length: time.Duration(secs * float64(time.Second))}, nil
	}
	return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

func parseSwitch(name string, args []string) (bool, error) {
	if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case "on":
			return true, nil
		case "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("usage: %s on|off", name)
}
