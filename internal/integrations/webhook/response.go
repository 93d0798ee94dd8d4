package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"chatbridge/internal/metrics"
)

// Shape is the detected form of a webhook response body.
type Shape string

const (
	ShapeJSON  Shape = "json"
	ShapeLines Shape = "lines"
	ShapePlain Shape = "plain"
)

// ContentType of every normalized stream.
const ContentType = "text/plain; charset=utf-8"

const readBufferSize = 32 * 1024

type chunkSource interface {
	next() ([]byte, error)
}

// Response is the normalized webhook reply: a sequence of text chunks,
// whatever the upstream shape was.
type Response struct {
	Shape       Shape
	ContentType string

	src     chunkSource
	body    io.Closer
	pending []byte
	closed  bool
}

func newResponse(shape Shape, src chunkSource, body io.Closer) *Response {
	return &Response{Shape: shape, ContentType: ContentType, src: src, body: body}
}

// Next returns the next non-empty chunk, or io.EOF once the body is exhausted.
// Any other error ends the stream.
func (r *Response) Next() ([]byte, error) {
	if r.closed {
		return nil, io.ErrClosedPipe
	}
	return r.src.next()
}

// Read implements io.Reader on top of Next.
func (r *Response) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		chunk, err := r.Next()
		if err != nil {
			return 0, err
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Close releases the upstream body. It is safe to call more than once.
func (r *Response) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.body == nil {
		return nil
	}
	return r.body.Close()
}

// singleChunk emits the whole JSON reply at once.
type singleChunk struct {
	chunk []byte
	done  bool
}

func (s *singleChunk) next() ([]byte, error) {
	if s.done || len(s.chunk) == 0 {
		s.done = true
		return nil, io.EOF
	}
	s.done = true
	return s.chunk, nil
}

// plainReader forwards the body verbatim.
type plainReader struct {
	src io.Reader
	buf []byte
	err error
}

func (p *plainReader) next() ([]byte, error) {
	if p.buf == nil {
		p.buf = make([]byte, readBufferSize)
	}
	for p.err == nil {
		n, err := p.src.Read(p.buf)
		p.err = err
		if n > 0 {
			return bytes.Clone(p.buf[:n]), nil
		}
	}
	return nil, p.err
}

type streamItem struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// lineReader turns newline-delimited {"type":"item","content":...} objects
// into content chunks. A read can end mid-line, so the trailing partial line
// is held back until the next read or until EOF.
type lineReader struct {
	src     io.Reader
	buf     []byte
	partial []byte
	queue   [][]byte
	err     error
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newLineReader(src io.Reader, logger *slog.Logger, m *metrics.Metrics) *lineReader {
	return &lineReader{src: src, buf: make([]byte, readBufferSize), logger: logger, metrics: m}
}

func (l *lineReader) next() ([]byte, error) {
	for len(l.queue) == 0 {
		if l.err != nil {
			return nil, l.err
		}
		n, err := l.src.Read(l.buf)
		if n > 0 {
			l.partial = append(l.partial, l.buf[:n]...)
			l.splitLines()
		}
		switch {
		case errors.Is(err, io.EOF):
			l.handleLine(l.partial)
			l.partial = nil
			l.err = io.EOF
		case err != nil:
			l.logger.Error("streaming error", "err", err)
			l.partial = nil
			l.err = err
		}
	}
	chunk := l.queue[0]
	l.queue = l.queue[1:]
	return chunk, nil
}

func (l *lineReader) splitLines() {
	rest := l.partial
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		l.handleLine(rest[:i])
		rest = rest[i+1:]
	}
	l.partial = append(l.partial[:0], rest...)
}

func (l *lineReader) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var item streamItem
	if err := json.Unmarshal(line, &item); err != nil {
		l.metrics.LineDropped()
		l.logger.Error("failed to parse streaming line", "err", &StreamParseError{Line: string(line), Err: err})
		return
	}
	if item.Type != "item" || item.Content == "" {
		l.metrics.LineDropped()
		l.logger.Debug("skipping stream line", "type", item.Type)
		return
	}
	l.queue = append(l.queue, []byte(item.Content))
}
