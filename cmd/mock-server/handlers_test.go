package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestRouter(failRoll float64) http.Handler {
	return newRouter(&handlers{
		version:  "test",
		slow:     10 * time.Millisecond,
		failRate: 0.5,
		rand:     func() float64 { return failRoll },
	})
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		roll   float64
		want   int
	}{
		{"user", http.MethodGet, "/users/42", "", 0, http.StatusOK},
		{"unknown user", http.MethodGet, "/users/900", "", 0, http.StatusNotFound},
		{"bad user id", http.MethodGet, "/users/abc", "", 0, http.StatusBadRequest},
		{"checkout", http.MethodPost, "/checkout", `{"user_id":1,"items":[1,2]}`, 0, http.StatusCreated},
		{"checkout too many", http.MethodPost, "/checkout", `{"user_id":1,"items":[1,2,3,4,5,6,7,8,9,10,11]}`, 0, http.StatusBadRequest},
		{"checkout wrong method", http.MethodGet, "/checkout", "", 0, http.StatusMethodNotAllowed},
		{"status", http.MethodGet, "/status", "", 0, http.StatusOK},
		{"slow", http.MethodGet, "/slow", "", 0, http.StatusOK},
		{"flaky fails", http.MethodGet, "/flaky", "", 0.1, http.StatusServiceUnavailable},
		{"flaky passes", http.MethodGet, "/flaky", "", 0.9, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			newTestRouter(tt.roll).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestEcho(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/echo?x=1", strings.NewReader("hello"))
	req.Host = "recorded.example"
	rec := httptest.NewRecorder()

	newTestRouter(0).ServeHTTP(rec, req)

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}

	if got["method"] != "PUT" || got["query"] != "x=1" || got["body"] != "hello" || got["host"] != "recorded.example" {
		t.Errorf("unexpected echo %v", got)
	}
}
