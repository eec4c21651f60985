package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/txmux/internal/config"
	"github.com/danmuck/txmux/internal/logging"
	"github.com/danmuck/txmux/internal/peer"
	"github.com/danmuck/txmux/internal/protocol"
	"github.com/danmuck/txmux/internal/transport"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "optional TOML config path")
	network := flag.String("network", "tcp", "dial network: tcp, tcp4, tcp6, unix, unixpacket")
	addr := flag.String("addr", "127.0.0.1:9410", "node address")
	profileFlag := flag.String("profile", "", "profile id, decimal or 0x-hex")
	timeout := flag.Duration("timeout", 5*time.Second, "per-response timeout")
	attempts := flag.Int("attempts", 5, "dial attempts before giving up, 0 for unlimited")
	flag.Parse()

	logging.ConfigureRuntime()

	opts := config.DefaultClientOptions()
	if *configPath != "" {
		loaded, err := config.LoadClientOptions(*configPath, opts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		opts = loaded
	}

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["network"] {
		opts.Network = *network
	}
	if explicit["addr"] {
		opts.Addr = *addr
	}
	if explicit["timeout"] {
		opts.Timeout = *timeout
	}
	if explicit["attempts"] {
		opts.Attempts = *attempts
	}
	if explicit["profile"] {
		profile, err := parseProfileID(*profileFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid profile flag")
		}
		opts.Profile = profile
	}
	if opts.Profile == 0 {
		log.Fatal().Msg("a non-zero profile id is required (-profile or config)")
	}

	bodies := flag.Args()
	if len(bodies) == 0 {
		bodies = []string{"ping"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runClient(ctx, os.Stdout, opts, bodies); err != nil {
		log.Fatal().Err(err).Msg("txmuxctl failed")
	}
}

func parseProfileID(raw string) (protocol.ProfileID, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, errors.New("profile id required")
	}
	n, err := strconv.ParseUint(v, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("parse profile id %q: %w", raw, err)
	}
	return protocol.ProfileID(n), nil
}

// runClient dials the node, pipelines every body as a command, and prints
// each correlated response in send order. When the label space fills it
// drains the oldest transaction before sending more.
func runClient(ctx context.Context, out io.Writer, opts config.ClientOptions, bodies []string) error {
	mc, err := transport.DialRetry(ctx, opts.Network, opts.Addr, opts.Security, 0, transport.RetryConfig{
		MaxAttempts: opts.Attempts,
	})
	if err != nil {
		return err
	}

	eng := peer.New(mc, peer.Config{ProfileID: opts.Profile, Logger: &log.Logger})
	defer eng.Close()
	log.Info().
		Str("addr", opts.Addr).
		Stringer("profile_id", opts.Profile).
		Int("commands", len(bodies)).
		Msg("connected")

	type pending struct {
		body   string
		stream *peer.ResponseStream
	}
	window := make([]pending, 0, len(bodies))

	awaitOldest := func() error {
		head := window[0]
		window = window[1:]
		defer head.stream.Close()

		waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		pkt, err := head.stream.Next(waitCtx)
		if err != nil {
			return fmt.Errorf("await response for %q: %w", head.body, err)
		}
		fmt.Fprintf(out, "label=%02d sent=%q recv=%q\n", head.stream.Label(), head.body, pkt.Body())
		return nil
	}

	for _, body := range bodies {
		for {
			stream, err := eng.SendCommand([]byte(body))
			if err == nil {
				window = append(window, pending{body: body, stream: stream})
				break
			}
			if errors.Is(err, peer.ErrNoFreeLabels) && len(window) > 0 {
				if err := awaitOldest(); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("send command %q: %w", body, err)
		}
	}
	for len(window) > 0 {
		if err := awaitOldest(); err != nil {
			return err
		}
	}
	return nil
}
