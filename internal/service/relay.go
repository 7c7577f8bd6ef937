// Package service implements the relay forwarding logic.
package service

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"anon-relay/internal/client"
	"anon-relay/internal/config"
	"anon-relay/internal/metrics"
	"anon-relay/internal/model"
	"anon-relay/internal/transport"
)

// Doer executes one HTTP exchange. *client.OverlayClient satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ Doer = (*client.OverlayClient)(nil)

// RelayService performs relay calls through the anonymizing transport.
type RelayService struct {
	handle   *transport.Handle
	client   Doer
	maxBytes int64
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRelayService creates a RelayService bound to h for the process lifetime.
// The metrics parameter is optional; pass nil to disable failure counting.
func NewRelayService(h *transport.Handle, c Doer, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		handle:   h,
		client:   c,
		maxBytes: cfg.Relay.MaxResponseBytes,
		logger:   logger.With("component", "relay_service"),
		metrics:  m,
	}
}

// Relay proxies one request and returns the normalized envelope.
//
// Availability is checked before the request is validated, and neither check
// touches the network. Exactly one exchange is attempted. Any completed
// exchange yields Success=true, whatever status the origin returned.
func (s *RelayService) Relay(ctx context.Context, rr *model.RelayRequest) (*model.Envelope, error) {
	if !s.handle.Enabled() {
		s.fail(metrics.FailureUnavailable)
		return nil, ErrTransportUnavailable
	}

	httpReq, err := s.buildRequest(ctx, rr)
	if err != nil {
		s.fail(metrics.FailureInvalid)
		return nil, err
	}

	logger := s.logger.With("relay_id", uuid.NewString())
	logger.Info("relaying request",
		"method", httpReq.Method,
		"host", httpReq.URL.Host,
	)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.fail(metrics.FailureExecution)
		logger.Warn("relay request failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrRelayExecution, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := s.readBody(resp)
	if err != nil {
		s.fail(metrics.FailureExecution)
		logger.Warn("relay response unreadable", "status", resp.StatusCode, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrRelayExecution, err)
	}

	logger.Info("relay completed", "status", resp.StatusCode, "bytes", len(body))

	return &model.Envelope{
		Success:    true,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    flattenHeaders(resp.Header),
		Response:   decodeBody(logger, resp.Header.Get("Content-Type"), body),
	}, nil
}

// managedHeaders are recognized by net/http only under their canonical
// names; elsewhere they would be written twice or ignored.
var managedHeaders = map[string]bool{
	"User-Agent":        true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Trailer":           true,
	"Connection":        true,
}

// buildRequest validates rr and turns it into the outbound request.
func (s *RelayService) buildRequest(ctx context.Context, rr *model.RelayRequest) (*http.Request, error) {
	if rr == nil || strings.TrimSpace(rr.URL) == "" {
		return nil, invalid("URL is required")
	}
	u, err := url.Parse(rr.URL)
	if err != nil {
		return nil, invalid("URL is malformed")
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, invalid("URL must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, invalid(fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
	}

	method := strings.ToUpper(strings.TrimSpace(rr.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(rr.Body) > 0 && method != http.MethodGet && method != http.MethodDelete {
		body = bytes.NewReader(rr.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rr.URL, body)
	if err != nil {
		return nil, invalid(fmt.Sprintf("invalid method %q", method))
	}

	for name, value := range rr.Headers {
		canonical := http.CanonicalHeaderKey(name)
		switch {
		case canonical == "Host":
			req.Host = value
		case managedHeaders[canonical]:
			req.Header.Set(canonical, value)
		default:
			// Stored under the caller's spelling, which net/http writes as is.
			req.Header[name] = append(req.Header[name], value)
		}
	}
	// An explicitly empty User-Agent keeps net/http from sending its own.
	if _, ok := req.Header["User-Agent"]; !ok {
		req.Header["User-Agent"] = []string{""}
	}
	return req, nil
}

// readBody reads at most maxBytes of the decoded response body.
func (s *RelayService) readBody(resp *http.Response) ([]byte, error) {
	raw, err := readLimited(resp.Body, s.maxBytes)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return raw, nil
	}

	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	case "deflate":
		// Most origins send zlib-wrapped deflate; some send it raw.
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			r = flate.NewReader(bytes.NewReader(raw))
		} else {
			defer func() { _ = zr.Close() }()
			r = zr
		}
	default:
		return raw, nil
	}

	decoded, err := readLimited(r, s.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", resp.Header.Get("Content-Encoding"), err)
	}
	return decoded, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}

// decodeBody returns the decoded JSON value when body is valid JSON, otherwise
// body as text. A body declared as JSON that fails to decode is logged.
func decodeBody(logger *slog.Logger, contentType string, body []byte) any {
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		if v, ok := decodeJSON(body); ok {
			return v
		}
		logger.Warn("origin declared JSON but body did not decode; returning text",
			"content_type", contentType,
			"bytes", len(body),
		)
		return string(body)
	}
	// Declared types are not trusted; text that parses as JSON is decoded anyway.
	if v, ok := decodeJSON(body); ok {
		return v
	}
	return string(body)
}

func decodeJSON(body []byte) (any, bool) {
	if !json.Valid(body) {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// flattenHeaders maps every response header, by its lowercase wire name, to
// its values joined by ", ".
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	return out
}

// statusText returns the reason phrase the origin sent, falling back to the
// standard text for the code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

func (s *RelayService) fail(kind string) {
	if s.metrics != nil {
		s.metrics.RelayFailures.WithLabelValues(kind).Inc()
	}
}
