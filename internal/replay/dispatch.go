package replay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/metrics"
	"github.com/kx0101/accesslog-replayer/internal/models"
)

const DefaultTimeout = 30 * time.Second

// Dispatcher sends one entry and classifies what happened. Implementations
// never return an error: every failure is part of the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, index int, entry models.AccessEntry) models.Outcome
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, index int, entry models.AccessEntry) models.Outcome

func (f DispatcherFunc) Dispatch(ctx context.Context, index int, entry models.AccessEntry) models.Outcome {
	return f(ctx, index, entry)
}

// Target describes where entries are replayed to. A nil BaseURL replays
// every entry against its recorded URL.
type Target struct {
	BaseURL      *url.URL
	Timeout      time.Duration
	PreserveHost bool
	Insecure     bool
	// Headers are set on top of the recorded ones.
	Headers map[string]string
}

type HTTPDispatcher struct {
	target Target
	client *http.Client
}

func NewHTTPDispatcher(target Target) *HTTPDispatcher {
	if target.Timeout <= 0 {
		target.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if target.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &HTTPDispatcher{
		target: target,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ResolveURL rebases the recorded URL onto the target, keeping path and query.
func (d *HTTPDispatcher) ResolveURL(recorded *url.URL) *url.URL {
	u := *recorded

	base := d.target.BaseURL
	if base == nil {
		return &u
	}

	if base.Scheme != "" {
		u.Scheme = base.Scheme
	}
	u.Host = base.Host
	u.User = base.User

	if prefix := strings.TrimSuffix(base.Path, "/"); prefix != "" {
		u.Path = prefix + recorded.Path
		if recorded.RawPath != "" {
			u.RawPath = strings.TrimSuffix(base.EscapedPath(), "/") + recorded.RawPath
		}
	}

	return &u
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, index int, entry models.AccessEntry) models.Outcome {
	target := d.ResolveURL(entry.URL)

	reqCtx, cancel := context.WithTimeout(ctx, d.target.Timeout)
	defer cancel()

	var body io.Reader
	if len(entry.Body) > 0 {
		body = bytes.NewReader(entry.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, entry.Method, target.String(), body)
	if err != nil {
		return models.Failed(index, models.ErrorTransport, err)
	}

	for k, v := range entry.Headers {
		if strings.EqualFold(k, "Host") {
			continue
		}
		req.Header.Set(k, v)
	}

	if host, ok := d.hostOverride(entry); ok {
		req.Host = host
	}

	for k, v := range d.target.Headers {
		req.Header.Set(k, v)
	}

	timer := prometheus.NewTimer(metrics.DispatchDuration.WithLabelValues(entry.Method))
	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start)
	timer.ObserveDuration()

	if err != nil {
		o := models.Failed(index, classify(ctx, reqCtx, err), err)
		if o.Error != models.ErrorTransport {
			o.Sent = true
			o.Latency = latency
		}

		logging.L.Debug("dispatch failed",
			zap.Int("index", index),
			zap.String("method", entry.Method),
			zap.String("url", target.String()),
			zap.String("error", string(o.Error)),
			zap.Error(err),
		)
		return o
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	o := models.Succeeded(index, resp.StatusCode)
	o.Latency = latency

	logging.L.Debug("dispatched",
		zap.Int("index", index),
		zap.String("method", entry.Method),
		zap.String("url", target.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency),
	)
	return o
}

// hostOverride decides the Host header. Without a rebase the recorded Host
// wins; with one the target host is used unless PreserveHost is set.
func (d *HTTPDispatcher) hostOverride(entry models.AccessEntry) (string, bool) {
	recorded, ok := entry.Header("Host")

	if d.target.BaseURL == nil {
		return recorded, ok
	}

	if !d.target.PreserveHost {
		return "", false
	}

	if ok {
		return recorded, true
	}

	return entry.URL.Host, true
}

// classify maps a client error to an outcome kind. A run cancelled while the
// request is in flight cuts it at its timeout boundary.
func classify(parent, reqCtx context.Context, err error) models.ErrorKind {
	if parent.Err() != nil {
		return models.ErrorTimeout
	}

	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrorTimeout
	}

	return models.ErrorTransport
}
