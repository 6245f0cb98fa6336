package ring

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/conga/internal/observability"
	"github.com/danmuck/conga/internal/protocol/frame"
	"github.com/danmuck/conga/internal/protocol/stream"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeStream replays scripted input and records writes.
type fakeStream struct {
	r      *bufio.Reader
	remote string

	mu        sync.Mutex
	open      bool
	writes    [][]byte
	bodyReads []int
}

var _ stream.Stream = (*fakeStream)(nil)

func newFakeStream(remote, input string) *fakeStream {
	return &fakeStream{
		r:      bufio.NewReader(strings.NewReader(input)),
		remote: remote,
		open:   true,
	}
}

func (s *fakeStream) ReadUntil(delim []byte) ([]byte, error) {
	if !s.IsOpen() {
		return nil, stream.ErrClosed
	}
	return frame.ReadUntil(s.r, delim, 0)
}

func (s *fakeStream) ReadExactly(n int) ([]byte, error) {
	if !s.IsOpen() {
		return nil, stream.ErrClosed
	}
	s.mu.Lock()
	s.bodyReads = append(s.bodyReads, n)
	s.mu.Unlock()
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *fakeStream) Write(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	s.writes = append(s.writes, append([]byte(nil), b...))
	return true
}

func (s *fakeStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *fakeStream) RemoteAddr() string {
	return s.remote
}

func (s *fakeStream) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.writes))
	for i, w := range s.writes {
		out[i] = string(w)
	}
	return out
}

func (s *fakeStream) requestedBodies() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.bodyReads...)
}

// recordingRegistry counts mutations on top of a MemoryRegistry.
type recordingRegistry struct {
	*MemoryRegistry
	mu           sync.Mutex
	registered   []string
	deregistered []string
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{MemoryRegistry: NewMemoryRegistry()}
}

func (r *recordingRegistry) Register(id string, p *Participant) error {
	if err := r.MemoryRegistry.Register(id, p); err != nil {
		return err
	}
	r.mu.Lock()
	r.registered = append(r.registered, id)
	r.mu.Unlock()
	return nil
}

func (r *recordingRegistry) Deregister(id string) {
	r.MemoryRegistry.Deregister(id)
	r.mu.Lock()
	r.deregistered = append(r.deregistered, id)
	r.mu.Unlock()
}

func (r *recordingRegistry) mutations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered) + len(r.deregistered)
}

// sequentialIDs returns p-1, p-2, ... for deterministic registrations.
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("p-%d", n)
	}
}

// droppedWrites reads conga_ring_dropped_writes_total{reason} from the
// default registry.
func droppedWrites(t *testing.T, reason string) float64 {
	t.Helper()
	observability.RegisterMetrics()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "conga_ring_dropped_writes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == reason {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
