package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultServer = "ws://localhost:8080/api/ws/signal"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// PeerConfig drives the headless peer.
// Priority: command line flag > COWATCH_* env > default.
type PeerConfig struct {
	Server   string        `mapstructure:"server"`
	Name     string        `mapstructure:"name"`
	Session  string        `mapstructure:"session"`
	STUN     []string      `mapstructure:"stun"`
	Codec    string        `mapstructure:"codec"`
	Duration time.Duration `mapstructure:"duration"` // length of the simulated external video
	LogLevel string        `mapstructure:"log_level"`
}

// PeerFlags registers the peer flags on fs.
func PeerFlags(fs *pflag.FlagSet) {
	fs.String("server", DefaultServer, "signaling WebSocket URL")
	fs.String("name", "", "display name")
	fs.String("session", "", "session id to join")
	fs.StringSlice("stun", []string{DefaultSTUN}, "STUN/TURN urls")
	fs.String("codec", "json", "control channel codec (json|msgpack)")
	fs.Duration("duration", 10*time.Minute, "duration of the simulated external video")
	fs.String("log-level", "warn", "log level")
}

func LoadPeer(fs *pflag.FlagSet) (*PeerConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("COWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if err := v.BindPFlag("log_level", fs.Lookup("log-level")); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	var cfg PeerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Session == "" {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	return &cfg, nil
}
