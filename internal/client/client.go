package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/conga/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrNoAddress = errors.New("client: address is required")

// Config controls dialing a relay server.
type Config struct {
	Address        string
	ConnectTimeout time.Duration
	MaxAttempts    int
	Limits         frame.Limits
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:8888",
		ConnectTimeout: 5 * time.Second,
		MaxAttempts:    5,
		Limits:         frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// Client speaks the ring protocol over one TCP connection.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	limits frame.Limits

	writeMu sync.Mutex
}

// Dial connects to cfg.Address, retrying with backoff up to MaxAttempts.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, ErrNoAddress
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return New(conn, cfg.Limits), nil
		}
		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := cfg.Backoff.Delay(attempt, rng)
		log.Debug().Str("addr", addr).Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("client: dial %s: %w", addr, lastErr)
}

// New wraps an established connection.
func New(conn net.Conn, limits frame.Limits) *Client {
	if limits == (frame.Limits{}) {
		limits = frame.DefaultLimits()
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		limits: limits,
	}
}

func (c *Client) Hello() error {
	return c.writeFrame(frame.VerbHello, nil, nil)
}

// Send relays body with headers to the next participant in the ring.
func (c *Client) Send(headers map[string]string, body []byte) error {
	return c.writeFrame(frame.VerbMsg, headers, body)
}

func (c *Client) Bye() error {
	return c.writeFrame(frame.VerbBye, nil, nil)
}

// WriteRaw writes b as-is.
func (c *Client) WriteRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(b)
	return err
}

// Next blocks for the next frame relayed to this client.
func (c *Client) Next() (frame.Frame, error) {
	block, err := frame.ReadHeaderBlock(c.reader, c.limits.MaxHeaderBytes)
	if err != nil {
		return frame.Frame{}, err
	}
	f, err := frame.DecodeWithLimits(block, c.limits)
	if err != nil {
		return frame.Frame{}, err
	}
	f.Body = make([]byte, f.BodyLen)
	if _, err := io.ReadFull(c.reader, f.Body); err != nil {
		return frame.Frame{}, err
	}
	return f, nil
}

func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Client) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) writeFrame(verb string, headers map[string]string, body []byte) error {
	return c.WriteRaw(frame.Encode(verb, headers, body))
}
