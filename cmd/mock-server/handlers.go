package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kx0101/accesslog-replayer/internal/server"
)

type CheckoutRequest struct {
	UserID uint64   `json:"user_id"`
	Items  []uint64 `json:"items"`
}

type CheckoutResponse struct {
	OrderID   string    `json:"order_id,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Total     float64   `json:"total"`
	CreatedAt time.Time `json:"created_at"`
	RequestID string    `json:"request_id"`
}

type UserResponse struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Version   string `json:"version"`
	RequestID string `json:"request_id"`
}

// handlers is a sandbox target for replays: a few ordinary endpoints plus
// slow and flaky ones to exercise timeouts and status classes.
type handlers struct {
	version  string
	slow     time.Duration
	failRate float64
	rand     func() float64
}

func newRouter(h *handlers) http.Handler {
	if h.rand == nil {
		h.rand = rand.Float64 //#nosec G404 -- not security relevant
	}

	r := chi.NewRouter()
	r.Use(server.Logging)

	r.Get("/users/{id}", h.getUser)
	r.Post("/checkout", h.checkout)
	r.Get("/status", h.status)
	r.Get("/slow", h.slowHandler)
	r.Get("/flaky", h.flaky)
	r.HandleFunc("/echo", h.echo)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	if id > 500 {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		ID:        id,
		Name:      fmt.Sprintf("User %d", id),
		Email:     fmt.Sprintf("user%d@example.com", id),
		Version:   h.version,
		RequestID: uuid.NewString(),
	})
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Items) > 10 {
		writeJSON(w, http.StatusBadRequest, CheckoutResponse{
			Message:   "Too many items, maximum is 10",
			CreatedAt: time.Now(),
			RequestID: uuid.NewString(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, CheckoutResponse{
		OrderID:   "ORD-" + uuid.NewString()[:8],
		Success:   true,
		Message:   fmt.Sprintf("Checkout OK for user %d with %d items", req.UserID, len(req.Items)),
		Total:     float64(len(req.Items)) * 29.99,
		CreatedAt: time.Now(),
		RequestID: uuid.NewString(),
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

func (h *handlers) slowHandler(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(h.slow):
	case <-r.Context().Done():
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "duration_ms": h.slow.Milliseconds()})
}

func (h *handlers) flaky(w http.ResponseWriter, r *http.Request) {
	if h.rand() < h.failRate {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) echo(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	writeJSON(w, http.StatusOK, map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   r.URL.RawQuery,
		"host":    r.Host,
		"headers": r.Header,
		"body":    string(body),
	})
}
