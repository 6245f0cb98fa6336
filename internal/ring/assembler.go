package ring

import (
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/conga/internal/observability"
	"github.com/danmuck/conga/internal/protocol/frame"
	"github.com/danmuck/conga/internal/protocol/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ClosurePolicy decides whether the newest participant links back to the
// first one.
type ClosurePolicy string

const (
	// ClosureChain leaves the newest participant without a target.
	ClosureChain ClosurePolicy = "chain"
	// ClosureCycle points every newly accepted participant at the first
	// accepted participant, closing the ring.
	ClosureCycle ClosurePolicy = "cycle"
)

func ParseClosurePolicy(raw string) (ClosurePolicy, error) {
	switch ClosurePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ClosureChain:
		return ClosureChain, nil
	case ClosureCycle:
		return ClosureCycle, nil
	default:
		return "", fmt.Errorf("ring: unknown closure policy %q", raw)
	}
}

// AssemblerConfig configures topology and per-participant limits.
type AssemblerConfig struct {
	Closure ClosurePolicy
	Limits  frame.Limits
	// NewID assigns participant ids at HELLO; uuid v4 when nil.
	NewID func() string
}

func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		Closure: ClosureChain,
		Limits:  frame.DefaultLimits(),
	}
}

// Assembler wraps accepted streams in participants and wires each one as
// the target of the previously accepted participant. It is the only writer
// of participant targets.
type Assembler struct {
	cfg      AssemblerConfig
	registry Registry

	mu    sync.Mutex
	seq   uint64
	first *Participant
	last  *Participant
}

func NewAssembler(registry Registry, cfg AssemblerConfig) *Assembler {
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	if cfg.Closure == "" {
		cfg.Closure = ClosureChain
	}
	if cfg.Limits == (frame.Limits{}) {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Assembler{cfg: cfg, registry: registry}
}

// Accept creates the participant for s and links it into the ring. The
// caller runs the returned participant.
func (a *Assembler) Accept(s stream.Stream) *Participant {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	p := newParticipant(a.seq, s, a.registry, a.cfg.Limits, a.cfg.NewID)
	if a.last != nil {
		a.last.target.Store(p)
	}
	if a.first == nil {
		a.first = p
	} else if a.cfg.Closure == ClosureCycle {
		p.target.Store(a.first)
	}
	a.last = p
	observability.RecordParticipantOpened()

	log.Debug().
		Uint64("seq", p.seq).
		Str("remote", s.RemoteAddr()).
		Str("closure", string(a.cfg.Closure)).
		Msg("participant accepted")
	return p
}

func (a *Assembler) First() *Participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.first
}

func (a *Assembler) Last() *Participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *Assembler) Registry() Registry {
	return a.registry
}

func (a *Assembler) Closure() ClosurePolicy {
	return a.cfg.Closure
}
