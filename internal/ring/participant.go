package ring

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/conga/internal/observability"
	"github.com/danmuck/conga/internal/protocol/frame"
	"github.com/danmuck/conga/internal/protocol/stream"
	"github.com/rs/zerolog/log"
)

// errBye ends the read loop after an accepted BYE.
var errBye = errors.New("ring: bye")

// pendingFrame is a decoded header block waiting for its body.
type pendingFrame struct {
	frame  frame.Frame
	action action
}

// Participant is one connected ring member. It owns its inbound stream and
// holds a non-owning reference to the next hop.
type Participant struct {
	seq        uint64
	stream     stream.Stream
	registry   Registry
	limits     frame.Limits
	acceptedAt time.Time
	newID      func() string

	mu    sync.RWMutex
	id    string
	state State

	target atomic.Pointer[Participant]

	// pending is only touched by the goroutine running Run.
	pending *pendingFrame

	closeOnce sync.Once
}

// Info is a point-in-time view of a participant.
type Info struct {
	Seq        uint64    `json:"seq"`
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	State      string    `json:"state"`
	Open       bool      `json:"open"`
	TargetSeq  uint64    `json:"target_seq,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}

func newParticipant(seq uint64, s stream.Stream, registry Registry, limits frame.Limits, newID func() string) *Participant {
	return &Participant{
		seq:        seq,
		stream:     s,
		registry:   registry,
		limits:     limits,
		acceptedAt: time.Now(),
		newID:      newID,
		state:      StateOpening,
	}
}

// Seq is the accept order of the participant, starting at 1.
func (p *Participant) Seq() uint64 {
	return p.seq
}

// ID is empty until HELLO registered the participant.
func (p *Participant) ID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

func (p *Participant) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Target returns the next hop, or nil.
func (p *Participant) Target() *Participant {
	return p.target.Load()
}

func (p *Participant) RemoteAddr() string {
	return p.stream.RemoteAddr()
}

func (p *Participant) IsOpen() bool {
	return p.stream.IsOpen()
}

func (p *Participant) Info() Info {
	p.mu.RLock()
	info := Info{
		Seq:        p.seq,
		ID:         p.id,
		RemoteAddr: p.stream.RemoteAddr(),
		State:      p.state.String(),
		AcceptedAt: p.acceptedAt,
	}
	p.mu.RUnlock()
	info.Open = p.stream.IsOpen()
	if t := p.target.Load(); t != nil {
		info.TargetSeq = t.seq
		info.TargetID = t.ID()
	}
	return info
}

// Write hands b to this participant's stream. It never blocks and never
// fails: a missing participant, a closed stream or a full queue drops b.
func (p *Participant) Write(b []byte) bool {
	if p == nil {
		observability.RecordDroppedWrite(observability.DropNoTarget)
		return false
	}
	if !p.stream.IsOpen() {
		observability.RecordDroppedWrite(observability.DropDeadTarget)
		return false
	}
	if !p.stream.Write(b) {
		reason := observability.DropQueueFull
		if !p.stream.IsOpen() {
			reason = observability.DropDeadTarget
		}
		observability.RecordDroppedWrite(reason)
		return false
	}
	observability.RecordForward(len(b))
	return true
}

// Run drives the read/decode/act loop until the stream closes, a BYE is
// accepted, ctx is cancelled, or the peer violates the protocol. Peer
// disconnects and BYE return nil.
func (p *Participant) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.Close)
	defer stop()
	defer p.teardown()

	for {
		err := p.step()
		if err == nil {
			continue
		}
		if errors.Is(err, errBye) || isDisconnect(err) {
			return nil
		}
		observability.RecordConnFailure(failureKind(err))
		return err
	}
}

// Close tears the participant down from outside its read loop.
func (p *Participant) Close() {
	p.teardown()
}

func (p *Participant) step() error {
	block, err := p.stream.ReadUntil(frame.Delimiter)
	if err != nil {
		return err
	}
	f, err := frame.DecodeWithLimits(block, p.limits)
	if err != nil {
		return err
	}
	observability.RecordFrame(f.Verb)
	if err := p.begin(f); err != nil {
		return err
	}
	body, err := p.stream.ReadExactly(f.BodyLen)
	if err != nil {
		return err
	}
	return p.complete(body)
}

// begin validates f against the current state and stores the continuation
// that runs once the body arrives. Rejected frames change nothing.
func (p *Participant) begin(f frame.Frame) error {
	act, err := transition(f.Verb, p.State())
	if err != nil {
		return err
	}
	if act == actionRegister {
		if err := p.register(); err != nil {
			return err
		}
	}
	p.pending = &pendingFrame{frame: f, action: act}
	log.Trace().Uint64("seq", p.seq).Str("verb", f.Verb).Str("action", act.String()).Int("body", f.BodyLen).Msg("frame accepted")
	return nil
}

func (p *Participant) complete(body []byte) error {
	pf := p.pending
	p.pending = nil
	if pf == nil {
		return nil
	}
	pf.frame.Body = body

	switch pf.action {
	case actionRegister:
		p.advance(StateUp)
		log.Info().
			Uint64("seq", p.seq).
			Str("participant", p.ID()).
			Str("remote", p.stream.RemoteAddr()).
			Msg("participant up")
	case actionForward:
		p.forward(pf.frame.Wire())
	case actionTeardown:
		p.advance(StateClosing)
		log.Info().
			Uint64("seq", p.seq).
			Str("participant", p.ID()).
			Msg("participant said bye")
		return errBye
	}
	return nil
}

// forward relays b to the current target. A missing or dead target drops b.
func (p *Participant) forward(b []byte) {
	target := p.target.Load()
	if target == nil {
		observability.RecordDroppedWrite(observability.DropNoTarget)
		log.Debug().Uint64("seq", p.seq).Int("bytes", len(b)).Msg("no target, frame dropped")
		return
	}
	target.Write(b)
}

func (p *Participant) register() error {
	id := p.newID()
	if err := p.registry.Register(id, p); err != nil {
		return err
	}
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
	return nil
}

// advance moves the state forward; it never regresses.
func (p *Participant) advance(to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if to > p.state {
		p.state = to
	}
}

func (p *Participant) teardown() {
	p.closeOnce.Do(func() {
		p.advance(StateClosing)
		if id := p.ID(); id != "" {
			if cur, ok := p.registry.Lookup(id); ok && cur == p {
				p.registry.Deregister(id)
			}
		}
		_ = p.stream.Close()
		observability.RecordParticipantClosed()
		log.Debug().
			Uint64("seq", p.seq).
			Str("participant", p.ID()).
			Str("remote", p.stream.RemoteAddr()).
			Msg("participant closed")
	})
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, stream.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, frame.ErrFraming):
		return "framing"
	case errors.Is(err, ErrUnexpectedVerb):
		return "protocol"
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrInvalidID):
		return "registry"
	case errors.Is(err, os.ErrDeadlineExceeded):
		return "timeout"
	default:
		return "io"
	}
}
