package stream

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/conga/internal/protocol/frame"
	"github.com/danmuck/conga/internal/testutil/testlog"
)

func newPipeStream(t *testing.T, cfg Config) (*ConnStream, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := New(server, cfg)
	t.Cleanup(func() {
		_ = s.Close()
		_ = client.Close()
	})
	return s, client
}

func TestConnStreamReadsHeaderThenBody(t *testing.T) {
	testlog.Start(t)
	s, client := newPipeStream(t, DefaultConfig())

	go func() {
		_, _ = client.Write([]byte("MSG\r\nContent-Length: 3\r\n\r\nabc"))
	}()

	block, err := s.ReadUntil(frame.Delimiter)
	if err != nil {
		t.Fatalf("read until: %v", err)
	}
	if string(block) != "MSG\r\nContent-Length: 3\r\n\r\n" {
		t.Fatalf("unexpected block: %q", block)
	}
	body, err := s.ReadExactly(3)
	if err != nil {
		t.Fatalf("read exactly: %v", err)
	}
	if string(body) != "abc" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestConnStreamReadExactlyZeroDoesNotBlock(t *testing.T) {
	testlog.Start(t)
	s, _ := newPipeStream(t, DefaultConfig())

	body, err := s.ReadExactly(0)
	if err != nil {
		t.Fatalf("read zero: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty body, got %q", body)
	}
}

func TestConnStreamWriteReachesPeer(t *testing.T) {
	testlog.Start(t)
	s, client := newPipeStream(t, DefaultConfig())

	if !s.Write([]byte("HELLO\r\n\r\n")) {
		t.Fatalf("expected write to be queued")
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len("HELLO\r\n\r\n"))
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf) != "HELLO\r\n\r\n" {
		t.Fatalf("unexpected peer bytes: %q", buf)
	}
}

func TestConnStreamWriteAfterCloseIsDropped(t *testing.T) {
	testlog.Start(t)
	s, _ := newPipeStream(t, DefaultConfig())

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.IsOpen() {
		t.Fatalf("expected stream closed")
	}
	for i := 0; i < 3; i++ {
		if s.Write([]byte("MSG\r\n\r\n")) {
			t.Fatalf("write %d after close must be dropped", i)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("writer goroutine did not exit")
	}
}

func TestConnStreamCloseUnblocksPendingRead(t *testing.T) {
	testlog.Start(t)
	s, _ := newPipeStream(t, DefaultConfig())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ReadUntil(frame.Delimiter)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = s.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending read was not cancelled")
	}
}

func TestConnStreamFullQueueDropsWithoutBlocking(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.QueueDepth = 1
	s, _ := newPipeStream(t, cfg)

	// Nobody reads the client side, so the writer goroutine blocks on the
	// first payload and the queue fills behind it.
	accepted := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			if s.Write([]byte("x")) {
				accepted++
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("write blocked on a full queue")
	}
	if accepted >= 10 {
		t.Fatalf("expected some writes to be dropped, accepted=%d", accepted)
	}
}

func TestConnStreamHeaderLimit(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MaxHeaderBytes = 16
	s, client := newPipeStream(t, cfg)

	go func() {
		_, _ = client.Write([]byte("MSG\r\nX-Long: aaaaaaaaaaaaaaaaaaaaaaaa\r\n\r\n"))
	}()
	_, err := s.ReadUntil(frame.Delimiter)
	if !errors.Is(err, frame.ErrHeaderTooLarge) {
		t.Fatalf("expected ErrHeaderTooLarge, got %v", err)
	}
}

func TestConnStreamQueueStopsGrowingOnceClosed(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.QueueDepth = 1 << 16
	// Nobody reads the peer end, so the writer goroutine parks on its
	// first write and the queue only grows through Write.
	s, _ := newPipeStream(t, cfg)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Write([]byte("x"))
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	_ = s.Close()
	queued := len(s.out)
	for i := 0; i < 1000; i++ {
		if s.Write([]byte("late")) {
			t.Fatalf("write accepted after close")
		}
	}
	close(stop)
	wg.Wait()

	if got := len(s.out); got > queued {
		t.Fatalf("queue grew after close: %d -> %d", queued, got)
	}
}
