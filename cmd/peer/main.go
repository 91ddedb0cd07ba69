// Command peer is a headless Cowatch participant. It joins a session through
// the relay and reads watch commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Cowatch/internal/adapters/rtc"
	"github.com/dkeye/Cowatch/internal/client"
	"github.com/dkeye/Cowatch/internal/config"
	"github.com/dkeye/Cowatch/internal/domain"
	"github.com/dkeye/Cowatch/internal/protocol"
)

var rootCmd = &cobra.Command{
	Use:   "cowatch-peer",
	Short: "Join a Cowatch session and watch together from the terminal",
	Long: `cowatch-peer joins a two-person session on a Cowatch relay, connects to the
other participant directly and keeps playback in step. Type "help" for commands.`,
	RunE: run,
}

func init() {
	config.PeerFlags(rootCmd.Flags())
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadPeer(cmd.Flags())
	if err != nil {
		return err
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	config.ApplyLogLevel(cfg.LogLevel)

	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sig, err := client.Dial(ctx, cfg.Server)
	if err != nil {
		return err
	}

	peer := client.NewPeer(sig, client.Options{
		Name:     cfg.Name,
		Session:  domain.SessionID(cfg.Session),
		ICE:      rtc.ConfigFromURLs(cfg.STUN),
		Codec:    codec,
		External: cfg.Duration,
		Notify:   printNotice,
	})

	pterm.Info.Printfln("joining %s as %s", cfg.Session, cfg.Name)
	err = peer.Run(ctx, readCommands(ctx))
	switch {
	case errors.Is(err, client.ErrRemoteLeft):
		pterm.Warning.Println("Run the same command to rejoin the session.")
		return nil
	case errors.Is(err, client.ErrSessionFull):
		return fmt.Errorf("%w, try another session", err)
	}
	return err
}

func printNotice(n client.Notice) {
	switch n.Level {
	case client.LevelSuccess:
		pterm.Success.Println(n.Text)
	case client.LevelWarning:
		pterm.Warning.Println(n.Text)
	default:
		pterm.Info.Println(n.Text)
	}
}

// readCommands parses stdin lines until EOF, which closes the channel.
func readCommands(ctx context.Context) <-chan client.Command {
	out := make(chan client.Command)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if line == "help" {
				pterm.Println(client.Usage)
				continue
			}
			c, err := client.ParseCommand(line)
			if err != nil {
				pterm.Warning.Println(err.Error())
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
