package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	VerbHello = "HELLO"
	VerbMsg   = "MSG"
	VerbBye   = "BYE"

	HeaderContentLength = "Content-Length"
)

// Delimiter terminates every header block.
var Delimiter = []byte("\r\n\r\n")

var lineSep = []byte("\r\n")

var (
	ErrFraming              = errors.New("frame: framing error")
	ErrMalformedHeaderLine  = errors.New("frame: header line has no colon")
	ErrInvalidContentLength = errors.New("frame: invalid content-length")
	ErrHeaderTooLarge       = errors.New("frame: header block too large")
	ErrBodyTooLarge         = errors.New("frame: body too large")
)

// FramingError reports a header block that cannot be decoded.
type FramingError struct {
	Reason error
	Line   string
}

func (e *FramingError) Error() string {
	if e.Line == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%v: %q", e.Reason, e.Line)
}

func (e *FramingError) Unwrap() []error {
	return []error{ErrFraming, e.Reason}
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: 64 * 1024,
		MaxBodyBytes:   8 * 1024 * 1024,
	}
}

// Frame is one decoded header block. Body is filled in by the reader of
// the second phase and is never interpreted.
type Frame struct {
	Verb    string
	Headers map[string]string
	BodyLen int
	Raw     []byte
	Body    []byte
}

// Wire returns the original header bytes followed by the body.
func (f Frame) Wire() []byte {
	out := make([]byte, 0, len(f.Raw)+len(f.Body))
	out = append(out, f.Raw...)
	return append(out, f.Body...)
}

// Decode parses a header block terminated by Delimiter. It does no I/O.
func Decode(block []byte) (Frame, error) {
	lines := bytes.Split(block, lineSep)
	f := Frame{
		Verb:    strings.TrimSpace(string(lines[0])),
		Headers: make(map[string]string, len(lines)),
		Raw:     block,
	}
	for _, line := range lines[1:] {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		key, val, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			return Frame{}, &FramingError{Reason: ErrMalformedHeaderLine, Line: string(line)}
		}
		f.Headers[strings.TrimSpace(string(key))] = strings.TrimSpace(string(val))
	}
	n, err := contentLength(f.Headers)
	if err != nil {
		return Frame{}, err
	}
	f.BodyLen = n
	return f, nil
}

// DecodeWithLimits decodes block and rejects bodies above limits.
func DecodeWithLimits(block []byte, limits Limits) (Frame, error) {
	f, err := Decode(block)
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxBodyBytes > 0 && f.BodyLen > limits.MaxBodyBytes {
		return Frame{}, &FramingError{Reason: ErrBodyTooLarge, Line: strconv.Itoa(f.BodyLen)}
	}
	return f, nil
}

func contentLength(headers map[string]string) (int, error) {
	raw, ok := headers[HeaderContentLength]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &FramingError{Reason: ErrInvalidContentLength, Line: raw}
	}
	return n, nil
}

// ReadHeaderBlock reads from r through the first Delimiter. The returned
// slice includes the delimiter.
func ReadHeaderBlock(r *bufio.Reader, max int) ([]byte, error) {
	return ReadUntil(r, Delimiter, max)
}

// ReadUntil reads from r through the first occurrence of delim. More than
// max bytes without a delimiter fails with ErrHeaderTooLarge; max <= 0
// disables the check.
func ReadUntil(r *bufio.Reader, delim []byte, max int) ([]byte, error) {
	if len(delim) == 0 {
		return nil, errors.New("frame: empty delimiter")
	}
	last := delim[len(delim)-1]
	var block []byte
	for {
		chunk, err := r.ReadSlice(last)
		block = append(block, chunk...)
		if max > 0 && len(block) > max {
			return nil, &FramingError{Reason: ErrHeaderTooLarge}
		}
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			return nil, err
		}
		if bytes.HasSuffix(block, delim) {
			return block, nil
		}
	}
}

// Encode builds one wire frame. Content-Length is derived from body and
// omitted when body is empty; other headers are written in key order.
func Encode(verb string, headers map[string]string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(verb)
	buf.Write(lineSep)

	keys := make([]string, 0, len(headers))
	for k := range headers {
		if k == HeaderContentLength {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, headers[k])
	}
	if len(body) > 0 {
		fmt.Fprintf(&buf, "%s: %d\r\n", HeaderContentLength, len(body))
	}
	buf.Write(lineSep)
	buf.Write(body)
	return buf.Bytes()
}
