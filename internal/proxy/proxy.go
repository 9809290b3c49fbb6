package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/models"
)

type CaptureConfig struct {
	ListenAddr string
	Upstream   string
	OutputFile string
	Stream     bool
	TLSCert    string
	TLSKey     string
}

// Recorder writes one access log record per request it sees, then hands the
// request to the next handler.
type Recorder struct {
	mu   sync.Mutex
	out  io.Writer
	next http.Handler
	now  func() time.Time
}

func NewRecorder(out io.Writer, next http.Handler) *Recorder {
	return &Recorder{out: out, next: next, now: time.Now}
}

func (rec *Recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accessedAt := rec.now()

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if err := rec.write(Capture(r, body, accessedAt)); err != nil {
		logging.L.Error("failed to record request", zap.Error(err))
	}

	rec.next.ServeHTTP(w, r)
}

func (rec *Recorder) write(entry models.RawEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	_, err = rec.out.Write(append(data, '\n'))
	return err
}

// Capture converts an incoming request into an access log record. The URL is
// the one the client asked for, not the upstream's.
func Capture(r *http.Request, body []byte, at time.Time) models.RawEntry {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}

	headers := make(map[string]string, len(r.Header)+1)
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}
	headers["Host"] = r.Host

	return models.RawEntry{
		AccessedAt: models.FormatAccessedAt(at),
		URL:        u.String(),
		HTTPMethod: r.Method,
		HTTPHeader: headers,
		HTTPBody:   string(body),
	}
}

// NewReverseProxy forwards to upstream, keeping the path and query of each
// request.
func NewReverseProxy(upstream string) (*httputil.ReverseProxy, error) {
	rawUp := strings.TrimSpace(upstream)
	if rawUp == "" {
		return nil, fmt.Errorf("upstream is empty")
	}

	if !strings.Contains(rawUp, "://") {
		rawUp = "http://" + rawUp
	}

	upURL, err := url.Parse(rawUp)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upURL)
			pr.SetXForwarded()
		},
	}, nil
}

// StartReverseProxy records traffic into config.OutputFile until ctx is done.
func StartReverseProxy(ctx context.Context, config *CaptureConfig) error {
	rp, err := NewReverseProxy(config.Upstream)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Clean(config.OutputFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path comes from the command line
	if err != nil {
		return fmt.Errorf("open capture output: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			logging.L.Warn("Error closing output file", zap.Error(err))
		}
	}()

	var sink io.Writer = out
	if config.Stream {
		sink = io.MultiWriter(out, os.Stdout)
	}

	server := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           NewRecorder(sink, rp),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logging.L.Info("Capture mode ON",
		zap.String("listen", config.ListenAddr),
		zap.String("upstream", config.Upstream),
		zap.String("output", config.OutputFile),
	)

	if config.TLSCert != "" && config.TLSKey != "" {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		err = server.ListenAndServeTLS(config.TLSCert, config.TLSKey)
	} else {
		err = server.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
