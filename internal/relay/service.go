package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/conga/internal/protocol/frame"
	"github.com/danmuck/conga/internal/protocol/stream"
	"github.com/danmuck/conga/internal/ring"
	"github.com/rs/zerolog/log"
)

// ServiceConfig configures the relay listener and ring topology.
type ServiceConfig struct {
	ServerID    string
	ListenAddr  string
	AdminAddr   string
	CorsOrigins []string
	Closure     ring.ClosurePolicy
	Limits      frame.Limits
	Stream      stream.Config
	Redis       ring.RedisConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ServerID:    "conga.local",
		ListenAddr:  ":8888",
		AdminAddr:   "",
		CorsOrigins: []string{"http://localhost:3000"},
		Closure:     ring.ClosureChain,
		Limits:      frame.DefaultLimits(),
		Stream:      stream.DefaultConfig(),
	}
}

// Service accepts participant connections and feeds them to the ring
// assembler.
type Service struct {
	cfg       ServiceConfig
	registry  ring.Registry
	assembler *ring.Assembler
	started   time.Time

	connsMu sync.Mutex
	conns   map[*ring.Participant]struct{}
	active  atomic.Int64
	wg      sync.WaitGroup
}

func NewService() (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// NewServiceWithConfig builds a service; a configured Redis deployment
// replaces the in-memory registry.
func NewServiceWithConfig(cfg ServiceConfig) (*Service, error) {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.ServerID) == "" {
		cfg.ServerID = def.ServerID
	}
	if cfg.Limits == (frame.Limits{}) {
		cfg.Limits = def.Limits
	}
	cfg.Stream.MaxHeaderBytes = cfg.Limits.MaxHeaderBytes
	cfg.Stream = cfg.Stream.WithDefaults()

	var registry ring.Registry = ring.NewMemoryRegistry()
	if len(cfg.Redis.Addrs) > 0 {
		rr, err := ring.NewRedisRegistry(cfg.Redis, cfg.ServerID)
		if err != nil {
			return nil, err
		}
		registry = rr
	}

	return &Service{
		cfg:      cfg,
		registry: registry,
		assembler: ring.NewAssembler(registry, ring.AssemblerConfig{
			Closure: cfg.Closure,
			Limits:  cfg.Limits,
		}),
		started: time.Now(),
		conns:   make(map[*ring.Participant]struct{}),
	}, nil
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Registry() ring.Registry {
	return s.registry
}

// Run listens on the configured address and blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer s.closeRegistry()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.cfg.ListenAddr, err)
	}
	log.Info().
		Str("server", s.cfg.ServerID).
		Str("addr", ln.Addr().String()).
		Str("closure", string(s.assembler.Closure())).
		Msg("relay listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		go func() {
			adminErr <- s.ServeAdmin(ctx, addr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// Serve runs the accept loop on ln until ctx is cancelled. Every accepted
// connection becomes a participant linked into the ring.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			return err
		}
		p := s.assembler.Accept(stream.New(conn, s.cfg.Stream))
		s.track(p)
		s.wg.Add(1)
		go s.handle(ctx, p)
	}
}

func (s *Service) handle(ctx context.Context, p *ring.Participant) {
	defer s.wg.Done()
	defer s.untrack(p)

	remote := p.RemoteAddr()
	active := s.active.Add(1)
	log.Info().Uint64("seq", p.Seq()).Str("remote", remote).Int64("active", active).Msg("participant connected")
	defer func() {
		remaining := s.active.Add(-1)
		log.Info().Uint64("seq", p.Seq()).Str("remote", remote).Int64("active", remaining).Msg("participant disconnected")
	}()

	if err := p.Run(ctx); err != nil {
		log.Warn().
			Uint64("seq", p.Seq()).
			Str("participant", p.ID()).
			Str("remote", remote).
			Err(err).
			Msg("participant dropped")
	}
}

// Participants returns live participants in accept order.
func (s *Service) Participants() []ring.Info {
	s.connsMu.Lock()
	list := make([]*ring.Participant, 0, len(s.conns))
	for p := range s.conns {
		list = append(list, p)
	}
	s.connsMu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Seq() < list[j].Seq()
	})
	out := make([]ring.Info, 0, len(list))
	for _, p := range list {
		out = append(out, p.Info())
	}
	return out
}

func (s *Service) ActiveCount() int64 {
	return s.active.Load()
}

func (s *Service) track(p *ring.Participant) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[p] = struct{}{}
}

func (s *Service) untrack(p *ring.Participant) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, p)
}

func (s *Service) closeAll() {
	s.connsMu.Lock()
	list := make([]*ring.Participant, 0, len(s.conns))
	for p := range s.conns {
		list = append(list, p)
	}
	s.connsMu.Unlock()
	for _, p := range list {
		p.Close()
	}
}

func (s *Service) closeRegistry() {
	if rr, ok := s.registry.(*ring.RedisRegistry); ok {
		if err := rr.Close(); err != nil {
			log.Warn().Err(err).Msg("redis registry close failed")
		}
	}
}
