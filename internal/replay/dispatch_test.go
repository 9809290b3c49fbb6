package replay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad url %s: %v", raw, err)
	}

	return u
}

func TestHTTPDispatcher_ResolveURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		recorded string
		want     string
	}{
		{"no rebase", "", "https://prod.example.com/a?b=1", "https://prod.example.com/a?b=1"},
		{"host rebase", "http://localhost:8080", "https://prod.example.com/a?b=1", "http://localhost:8080/a?b=1"},
		{"root path", "http://localhost:8080/", "https://prod.example.com/a", "http://localhost:8080/a"},
		{"path prefix", "http://sandbox:9000/api/", "http://prod.example.com/users?x=1", "http://sandbox:9000/api/users?x=1"},
		{"scheme from target", "https://sandbox", "http://prod.example.com/", "https://sandbox/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := Target{}
			if tt.base != "" {
				target.BaseURL = mustURL(t, tt.base)
			}

			d := NewHTTPDispatcher(target)
			if got := d.ResolveURL(mustURL(t, tt.recorded)).String(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestHTTPDispatcher_Dispatch(t *testing.T) {
	t.Run("non-2xx is a delivered request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"down"}`))
		}))
		defer server.Close()

		d := NewHTTPDispatcher(Target{Timeout: time.Second})
		o := d.Dispatch(context.Background(), 4, entryAt(t, epoch, "GET", server.URL+"/health"))

		if !o.IsSucceeded() || o.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("expected Succeeded(503), got %s", o)
		}

		if o.Index != 4 || !o.Sent || o.Latency <= 0 {
			t.Errorf("unexpected outcome details %+v", o)
		}
	})

	t.Run("method headers and body are forwarded", func(t *testing.T) {
		var gotMethod, gotBody, gotType, gotExtra string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			gotMethod = r.Method
			gotBody = string(body)
			gotType = r.Header.Get("Content-Type")
			gotExtra = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		entry := entryAt(t, epoch, "POST", server.URL+"/users")
		entry.Headers["content-type"] = "application/x-www-form-urlencoded"
		entry.Body = []byte("name=bob")

		d := NewHTTPDispatcher(Target{Headers: map[string]string{"Authorization": "Bearer sandbox"}})
		o := d.Dispatch(context.Background(), 0, entry)

		if o.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %s", o)
		}

		if gotMethod != "POST" || gotBody != "name=bob" || gotType != "application/x-www-form-urlencoded" {
			t.Errorf("request not forwarded verbatim: %s %q %q", gotMethod, gotBody, gotType)
		}

		if gotExtra != "Bearer sandbox" {
			t.Errorf("expected extra header, got %q", gotExtra)
		}
	})

	t.Run("rebase keeps path and query", func(t *testing.T) {
		var gotPath, gotQuery, gotHost string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath, gotQuery, gotHost = r.URL.Path, r.URL.RawQuery, r.Host
		}))
		defer server.Close()

		entry := entryAt(t, epoch, "GET", "https://prod.example.com/users/1?expand=true")
		entry.Headers["Host"] = "prod.example.com"

		base := mustURL(t, server.URL)
		o := NewHTTPDispatcher(Target{BaseURL: base}).Dispatch(context.Background(), 0, entry)

		if !o.IsSucceeded() {
			t.Fatalf("expected success, got %s (%s)", o, o.Detail)
		}

		if gotPath != "/users/1" || gotQuery != "expand=true" {
			t.Errorf("unexpected request %s?%s", gotPath, gotQuery)
		}

		if gotHost != base.Host {
			t.Errorf("expected target host %s, got %s", base.Host, gotHost)
		}

		NewHTTPDispatcher(Target{BaseURL: base, PreserveHost: true}).Dispatch(context.Background(), 0, entry)
		if gotHost != "prod.example.com" {
			t.Errorf("expected preserved host, got %s", gotHost)
		}
	})

	t.Run("recorded host honoured without rebase", func(t *testing.T) {
		var gotHost string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHost = r.Host
		}))
		defer server.Close()

		entry := entryAt(t, epoch, "GET", server.URL+"/")
		entry.Headers["host"] = "recorded.example.com"

		NewHTTPDispatcher(Target{}).Dispatch(context.Background(), 0, entry)
		if gotHost != "recorded.example.com" {
			t.Errorf("expected recorded host, got %s", gotHost)
		}
	})

	t.Run("redirects are not followed", func(t *testing.T) {
		var followed atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/new", http.StatusFound)
		})
		mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
			followed.Add(1)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		o := NewHTTPDispatcher(Target{}).Dispatch(context.Background(), 0, entryAt(t, epoch, "GET", server.URL+"/old"))
		if o.StatusCode != http.StatusFound {
			t.Errorf("expected Succeeded(302), got %s", o)
		}

		if followed.Load() != 0 {
			t.Error("redirect target should not be requested")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer server.Close()
		defer close(release)

		o := NewHTTPDispatcher(Target{Timeout: 50 * time.Millisecond}).
			Dispatch(context.Background(), 0, entryAt(t, epoch, "GET", server.URL+"/slow"))

		if !o.IsFailed() || o.Error != models.ErrorTimeout {
			t.Fatalf("expected Failed(timeout), got %s (%s)", o, o.Detail)
		}

		if !o.Sent || o.Latency < 50*time.Millisecond {
			t.Errorf("expected latency of at least the timeout, got %v", o.Latency)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		addr := server.URL
		server.Close()

		o := NewHTTPDispatcher(Target{Timeout: time.Second}).
			Dispatch(context.Background(), 0, entryAt(t, epoch, "GET", addr+"/"))

		if !o.IsFailed() || o.Error != models.ErrorTransport {
			t.Fatalf("expected Failed(transport_error), got %s (%s)", o, o.Detail)
		}

		if o.LatencyMs() != -1 {
			t.Errorf("transport failures carry no latency, got %d", o.LatencyMs())
		}
	})

	t.Run("run cancellation while in flight", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(30*time.Millisecond, cancel)

		o := NewHTTPDispatcher(Target{Timeout: 5 * time.Second}).
			Dispatch(ctx, 0, entryAt(t, epoch, "GET", server.URL+"/"))

		if !o.IsFailed() || o.Error != models.ErrorTimeout {
			t.Fatalf("expected Failed(timeout), got %s (%s)", o, o.Detail)
		}

		if !strings.Contains(o.Detail, "canceled") {
			t.Errorf("expected the cancellation in the detail, got %q", o.Detail)
		}

		if !o.Sent || o.Latency <= 0 {
			t.Errorf("expected measured latency, got %+v", o)
		}
	})
}
