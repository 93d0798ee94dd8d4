package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"chatbridge/internal/domain"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
)

// Config describes the target webhook.
type Config struct {
	URL     string
	Method  string
	Headers map[string]string
	// EnableStreaming is a hint only. Bodies that are not a single JSON value
	// are still handled as streams when it is false.
	EnableStreaming bool
}

// Client posts chat turns to an automation webhook and normalizes the reply.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient validates cfg and builds a Client. Method defaults to POST.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, errors.New("webhook: url must not be empty")
	}
	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	return c, nil
}

// resolvedHTTPClient returns the configured HTTP client or a default one.
// The default has no overall timeout since streamed bodies may stay open for
// the whole turn; the request context bounds it instead.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return http.DefaultClient
}

// Send posts prompt for sessionID and returns the normalized response. The
// caller must Close the response.
func (c *Client) Send(ctx context.Context, sessionID, prompt string) (*Response, error) {
	body, err := json.Marshal(domain.WebhookRequest{ChatInput: prompt, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, c.cfg.Method, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		c.metrics.WebhookError("transport")
		return nil, fmt.Errorf("webhook: request failed: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		_ = res.Body.Close()
		c.metrics.WebhookError("status")
		werr := statusError(res, c.cfg.URL)
		c.logger.Error("webhook returned error status", "status", res.StatusCode, "url", c.cfg.URL)
		return nil, werr
	}

	out, err := c.normalize(res)
	if err != nil {
		_ = res.Body.Close()
		return nil, err
	}
	c.metrics.WebhookResponse(string(out.Shape))
	c.logger.Debug("webhook response normalized", "sessionId", sessionID, "shape", out.Shape)
	return out, nil
}

// normalize resolves the response shape once. Bytes consumed while probing
// for a JSON body are replayed into the stream readers.
func (c *Client) normalize(res *http.Response) (*Response, error) {
	if res.Body == nil || res.Body == http.NoBody {
		c.metrics.WebhookError("empty_body")
		return nil, &Error{StatusCode: res.StatusCode, URL: c.cfg.URL, Reason: "no body available"}
	}

	probe, err := probeJSON(res.Body)
	if err != nil {
		c.metrics.WebhookError("transport")
		return nil, fmt.Errorf("webhook: read response body: %w", err)
	}
	if probe.empty {
		c.metrics.WebhookError("empty_body")
		return nil, &Error{StatusCode: res.StatusCode, URL: c.cfg.URL, Reason: "no body available"}
	}
	if probe.whole {
		_ = res.Body.Close()
		return newResponse(ShapeJSON, &singleChunk{chunk: []byte(jsonContent(probe.raw))}, nil), nil
	}

	contentType := strings.ToLower(res.Header.Get("Content-Type"))
	declared := c.cfg.EnableStreaming ||
		strings.Contains(contentType, "text/event-stream") ||
		strings.Contains(contentType, "application/x-ndjson")

	consumed := probe.consumed
	lines := declared || probe.leadingObject
	if !lines {
		// A malformed first line must not hide the stream behind it.
		lines, consumed, err = sniffObjectLines(consumed, res.Body)
		if err != nil {
			c.metrics.WebhookError("transport")
			return nil, fmt.Errorf("webhook: read response body: %w", err)
		}
	}
	replay := io.MultiReader(bytes.NewReader(consumed), res.Body)

	if !lines {
		return newResponse(ShapePlain, &plainReader{src: replay}, res.Body), nil
	}
	if !declared {
		c.logger.Debug("JSON parsing failed, attempting to handle as stream")
	}
	return newResponse(ShapeLines, newLineReader(replay, c.logger, c.metrics), res.Body), nil
}

const (
	sniffMaxLines = 4
	sniffMaxBytes = 8 << 10
)

// sniffObjectLines reports whether one of the first lines of the body is a
// JSON object. prefix is what has been read so far; the returned bytes are
// prefix plus anything read from body and must be replayed.
func sniffObjectLines(prefix []byte, body io.Reader) (bool, []byte, error) {
	buf := bytes.NewBuffer(append([]byte(nil), prefix...))
	chunk := make([]byte, 512)
	for {
		found, complete := scanObjectLines(buf.Bytes(), false)
		if found {
			return true, buf.Bytes(), nil
		}
		if complete >= sniffMaxLines || buf.Len() >= sniffMaxBytes {
			return false, buf.Bytes(), nil
		}
		n, err := body.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			found, _ := scanObjectLines(buf.Bytes(), true)
			return found, buf.Bytes(), nil
		}
		if err != nil {
			return false, nil, err
		}
	}
}

// scanObjectLines looks for a line holding a JSON object. The trailing
// unterminated line is only considered when tail is set.
func scanObjectLines(data []byte, tail bool) (found bool, complete int) {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return tail && isObjectLine(data), complete
		}
		if isObjectLine(data[:i]) {
			return true, complete
		}
		complete++
		data = data[i+1:]
	}
	return false, complete
}

func isObjectLine(line []byte) bool {
	line = bytes.TrimSpace(line)
	return len(line) > 0 && line[0] == '{' && json.Valid(line)
}

type probeResult struct {
	// whole is set when the body is exactly one JSON value.
	whole bool
	raw   json.RawMessage
	// leadingObject is set when the body opens with a JSON object followed by more data.
	leadingObject bool
	empty         bool
	consumed      []byte
}

// probeJSON decodes the first JSON value of body and looks ahead to decide
// whether anything but whitespace follows it. Everything read from body is
// kept in consumed.
func probeJSON(body io.Reader) (probeResult, error) {
	var consumed bytes.Buffer
	tee := io.TeeReader(body, &consumed)
	dec := json.NewDecoder(tee)

	var raw json.RawMessage
	err := dec.Decode(&raw)
	switch {
	case err == nil:
		rest, err := onlyWhitespace(io.MultiReader(dec.Buffered(), tee))
		if err != nil {
			return probeResult{}, err
		}
		if rest {
			return probeResult{whole: true, raw: raw, consumed: consumed.Bytes()}, nil
		}
		return probeResult{
			leadingObject: len(raw) > 0 && raw[0] == '{',
			consumed:      consumed.Bytes(),
		}, nil
	case errors.Is(err, io.EOF):
		return probeResult{empty: consumed.Len() == 0, consumed: consumed.Bytes()}, nil
	case isJSONSyntaxError(err):
		return probeResult{consumed: consumed.Bytes()}, nil
	default:
		return probeResult{}, err
	}
}

func isJSONSyntaxError(err error) bool {
	var syntaxErr *json.SyntaxError
	return errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// onlyWhitespace reads r until a non-whitespace byte or EOF.
func onlyWhitespace(r io.Reader) (bool, error) {
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if len(bytes.TrimLeft(buf[:n], " \t\r\n")) > 0 {
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

// jsonContent picks the reply text of a JSON body: "output", then "message",
// then the compact JSON itself.
func jsonContent(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, field := range []string{"output", "message"} {
			var s string
			if v, ok := obj[field]; ok && json.Unmarshal(v, &s) == nil && s != "" {
				return s
			}
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}
