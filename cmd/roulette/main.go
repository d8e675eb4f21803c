// roulette is a terminal client for the video roulette: it registers under a
// name, gets paired with a stranger and streams the local camera to them
// until either side skips.
//
// Commands on stdin: "skip" (asks first), "next", "quit".
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/mossy-p/webrtc-roulette/config"
	"github.com/mossy-p/webrtc-roulette/internal/client"
	"github.com/mossy-p/webrtc-roulette/internal/logging"
	"github.com/mossy-p/webrtc-roulette/internal/rtc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cc := cfg.Client

	var name string
	var noRedial, lazy bool
	flagSet := pflag.NewFlagSet("roulette", pflag.ContinueOnError)
	flagSet.StringVarP(&name, "name", "n", "", "name to register under (required)")
	flagSet.StringVar(&cc.MatchingURL, "matching-url", cc.MatchingURL, "base URL of the matching service")
	flagSet.StringVar(&cc.SignalingURL, "signaling-url", cc.SignalingURL, "base URL of the signaling relay")
	flagSet.StringSliceVar(&cc.STUNServers, "stun", cc.STUNServers, "STUN server URLs")
	flagSet.DurationVar(&cc.RedialDelay, "redial-delay", cc.RedialDelay, "pause before re-entering the queue")
	flagSet.BoolVar(&noRedial, "no-redial", !cc.RedialEnabled, "stay idle after a peer leaves")
	flagSet.BoolVar(&lazy, "lazy-media", cc.ResponderMedia == config.ResponderMediaLazy, "as responder, open the camera on the first offer")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if name == "" {
		return errors.New("--name is required")
	}

	log := logging.New(cfg.Environment).With("name", name)

	engine, err := rtc.NewEngine(rtc.Options{STUNServers: cc.STUNServers}, log)
	if err != nil {
		return fmt.Errorf("start webrtc engine: %w", err)
	}

	input := bufio.NewScanner(os.Stdin)
	dialer := client.WebsocketDialer{}
	o := client.New(client.Config{
		RedialEnabled:      !noRedial,
		RedialDelay:        cc.RedialDelay,
		LazyResponderMedia: lazy,
	}, client.Deps{
		Media: engine.Media(),
		Peers: engine,
		Match: func(h client.MatchEventHandler) client.MatchService {
			return client.NewMatchChannel(dialer, cc.MatchingURL, h, log)
		},
		Signal: func(h client.SignalEventHandler) client.SignalService {
			return client.NewSignalChannel(dialer, cc.SignalingURL, h, log)
		},
		Local:  streamLog{log: log, which: "local"},
		Remote: streamLog{log: log, which: "remote"},
		Notifier: client.NotifierFunc(func(n client.Notification) {
			level := slog.LevelInfo
			if n.Destructive {
				level = slog.LevelWarn
			}
			log.Log(context.Background(), level, n.Title, "detail", n.Description)
		}),
		Confirm: func(prompt string) bool { return confirm(input, os.Stdout, prompt) },
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	states, unsubscribe := o.Subscribe()
	defer unsubscribe()
	go func() {
		for {
			select {
			case s := <-states:
				log.Info("status", "status", s.Label(), "peer", s.PeerName, "room", s.RoomCode, "role", s.Role)
			case <-o.Done():
				return
			}
		}
	}()

	go commands(input, o, stop, log)

	if err := o.Register(name); err != nil {
		return err
	}
	if err := o.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func commands(input *bufio.Scanner, o *client.Orchestrator, stop func(), log *slog.Logger) {
	defer stop()
	for input.Scan() {
		switch cmd := strings.TrimSpace(input.Text()); cmd {
		case "":
		case "skip":
			if !o.Skip() {
				log.Info("skip cancelled")
			}
		case "next":
			o.FindNext()
		case "quit", "exit":
			return
		default:
			log.Warn("unknown command", "command", cmd)
		}
	}
}

func confirm(input *bufio.Scanner, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	if !input.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(input.Text()))
	return answer == "y" || answer == "yes"
}

// streamLog stands in for a video surface.
type streamLog struct {
	log   *slog.Logger
	which string
}

func (s streamLog) Attach(st client.Stream) {
	s.log.Info("stream attached", "which", s.which, "stream", st.ID())
}

func (s streamLog) Detach() {
	s.log.Info("stream detached", "which", s.which)
}
