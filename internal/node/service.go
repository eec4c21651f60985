// Package node assembles one txmuxd process: the message listener, a peer
// engine per accepted connection, and the admin HTTP plane.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/txmux/internal/config"
	"github.com/danmuck/txmux/internal/observability"
	"github.com/danmuck/txmux/internal/peer"
	"github.com/danmuck/txmux/internal/server"
	"github.com/danmuck/txmux/internal/transport"
	"github.com/rs/zerolog/log"
)

const heartbeatInterval = 30 * time.Second

// Responder produces the response body for one inbound command.
type Responder func(command []byte) []byte

// EchoResponder echoes the command body back, prefixed when prefix is
// non-empty.
func EchoResponder(prefix string) Responder {
	return func(command []byte) []byte {
		if prefix == "" {
			return command
		}
		out := make([]byte, 0, len(prefix)+len(command))
		out = append(out, prefix...)
		return append(out, command...)
	}
}

// Service runs one txmuxd node.
type Service struct {
	cfg     config.Config
	respond Responder
	admin   *server.Admin
	metrics observability.PeerMetrics

	seq atomic.Uint64
	wg  sync.WaitGroup
}

// NewService wires a node from validated configuration. A nil responder
// falls back to a bare echo.
func NewService(cfg config.Config, respond Responder) *Service {
	if respond == nil {
		respond = EchoResponder("")
	}
	return &Service{
		cfg:     cfg,
		respond: respond,
		admin:   server.NewAdmin(cfg.Node.ID, cfg.Admin.Addr, cfg.Admin.CORSOrigins),
		metrics: observability.NewPeerMetrics(),
	}
}

// Admin exposes the admin plane that tracks attached peers.
func (s *Service) Admin() *server.Admin {
	return s.admin
}

// Run listens per configuration and blocks until SIGINT/SIGTERM shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := transport.Listen(
		s.cfg.Listen.Network,
		s.cfg.Listen.Addr,
		s.cfg.Security.Transport(),
		s.cfg.Listen.MaxMessage,
	)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve drives a pre-bound listener until ctx is cancelled, then drains
// peer goroutines and the admin plane.
func (s *Service) Serve(ctx context.Context, ln *transport.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().
		Str("node", s.cfg.Node.ID).
		Str("network", s.cfg.Listen.Network).
		Str("addr", ln.Addr().String()).
		Stringer("profile_id", s.cfg.Listen.Profile()).
		Msg("node listening")

	workers := 1
	done := make(chan error, 2)
	go func() { done <- s.acceptLoop(ctx, ln) }()
	if s.cfg.Admin.Enabled {
		workers++
		go func() { done <- s.admin.Serve(ctx) }()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeat(ctx)
	}()

	var runErr error
	for i := 0; i < workers; i++ {
		if err := <-done; err != nil && runErr == nil {
			runErr = err
			cancel()
		}
	}
	s.wg.Wait()
	log.Info().Str("node", s.cfg.Node.ID).Msg("node stopped")
	return runErr
}

func (s *Service) acceptLoop(ctx context.Context, ln *transport.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		mc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		name := s.connName(mc)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.servePeer(ctx, name, mc)
		}()
	}
}

func (s *Service) servePeer(ctx context.Context, name string, mc transport.MessageConn) {
	eng := peer.New(mc, peer.Config{
		ProfileID:  s.cfg.Listen.Profile(),
		MaxPending: s.cfg.Listen.MaxPending,
		Logger:     &log.Logger,
		Metrics:    s.metrics,
	})
	defer eng.Close()

	s.admin.Attach(name, eng)
	defer s.admin.Detach(name)

	stream, err := eng.TakeCommandStream()
	if err != nil {
		log.Error().Str("peer", name).Err(err).Msg("claim command stream")
		return
	}
	defer stream.Close()

	for {
		cmd, err := stream.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, peer.ErrPeerDisconnected):
				log.Info().Str("peer", name).Msg("peer disconnected")
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			default:
				log.Warn().Str("peer", name).Err(err).Msg("command stream failed")
			}
			return
		}
		if err := cmd.SendResponse(s.respond(cmd.Body())); err != nil {
			log.Warn().Str("peer", name).Err(err).Msg("send response failed")
			return
		}
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses := s.admin.Statuses()
			labels := 0
			depth := 0
			for _, st := range statuses {
				labels += st.LabelsInUse
				depth += st.InboundDepth
			}
			log.Info().
				Str("node", s.cfg.Node.ID).
				Int("peers", len(statuses)).
				Int("labels_in_use", labels).
				Int("inbound_depth", depth).
				Msg("node heartbeat")
		}
	}
}

// connName keys the admin registry. Remote addresses are preferred; unix
// peers without one fall back to a process-local sequence.
func (s *Service) connName(mc transport.MessageConn) string {
	type addressed interface{ Underlying() net.Conn }
	if a, ok := mc.(addressed); ok {
		if addr := a.Underlying().RemoteAddr(); addr != nil && addr.String() != "" {
			return addr.String()
		}
	}
	return fmt.Sprintf("conn-%d", s.seq.Add(1))
}
