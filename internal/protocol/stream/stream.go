package stream

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/conga/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("stream: closed")

// Stream is a duplex connection to one ring participant.
type Stream interface {
	// ReadUntil blocks until delim has been read and returns everything up
	// to and including it.
	ReadUntil(delim []byte) ([]byte, error)
	// ReadExactly blocks until n bytes have been read.
	ReadExactly(n int) ([]byte, error)
	// Write enqueues b without blocking. It reports false when b was dropped.
	Write(b []byte) bool
	IsOpen() bool
	Close() error
	RemoteAddr() string
}

// Config controls one ConnStream.
type Config struct {
	MaxHeaderBytes int
	QueueDepth     int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxHeaderBytes: frame.DefaultLimits().MaxHeaderBytes,
		QueueDepth:     256,
		ReadTimeout:    0,
		WriteTimeout:   15 * time.Second,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = def.QueueDepth
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// ConnStream adapts a net.Conn. Reads happen on the caller's goroutine;
// writes are queued and drained by a dedicated writer goroutine.
type ConnStream struct {
	cfg    Config
	conn   net.Conn
	reader *bufio.Reader
	remote string

	// mu orders enqueues against Close: Write holds it shared, Close
	// exclusively, so nothing is queued once closed is closed.
	mu        sync.RWMutex
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

var _ Stream = (*ConnStream)(nil)

func New(conn net.Conn, cfg Config) *ConnStream {
	cfg = cfg.WithDefaults()
	s := &ConnStream{
		cfg:    cfg,
		conn:   conn,
		reader: bufio.NewReader(conn),
		remote: remoteAddr(conn),
		out:    make(chan []byte, cfg.QueueDepth),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *ConnStream) ReadUntil(delim []byte) ([]byte, error) {
	if !s.IsOpen() {
		return nil, ErrClosed
	}
	s.armReadDeadline()
	block, err := frame.ReadUntil(s.reader, delim, s.cfg.MaxHeaderBytes)
	return block, s.readErr(err)
}

func (s *ConnStream) ReadExactly(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if !s.IsOpen() {
		return nil, ErrClosed
	}
	s.armReadDeadline()
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return nil, s.readErr(err)
	}
	return buf, nil
}

func (s *ConnStream) Write(b []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.IsOpen() {
		return false
	}
	select {
	case s.out <- b:
		return true
	default:
		log.Debug().Str("remote", s.remote).Int("bytes", len(b)).Msg("stream write queue full")
		return false
	}
}

func (s *ConnStream) IsOpen() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Close closes the connection, failing any pending read. Queued writes
// that have not reached the socket are discarded.
func (s *ConnStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the writer goroutine has exited.
func (s *ConnStream) Done() <-chan struct{} {
	return s.done
}

func (s *ConnStream) RemoteAddr() string {
	return s.remote
}

func (s *ConnStream) writeLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.closed:
			return
		case b := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if _, err := s.conn.Write(b); err != nil {
				log.Debug().Str("remote", s.remote).Err(err).Msg("stream write failed")
				_ = s.Close()
				return
			}
		}
	}
}

func (s *ConnStream) armReadDeadline() {
	if s.cfg.ReadTimeout <= 0 {
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
}

func (s *ConnStream) readErr(err error) error {
	if err == nil {
		return nil
	}
	if !s.IsOpen() {
		return ErrClosed
	}
	return err
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
