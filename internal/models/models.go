package models

import (
	"net/url"
	"strings"
	"time"
)

// RawEntry is one record of the access log as it appears on disk.
type RawEntry struct {
	AccessedAt string            `json:"accessed_at"`
	URL        string            `json:"url"`
	HTTPMethod string            `json:"http_method"`
	HTTPHeader map[string]string `json:"http_header"`
	HTTPBody   string            `json:"http_body"`
}

// AccessEntry is a validated recorded request. It is never mutated after
// NewAccessEntry returns it.
type AccessEntry struct {
	AccessedAt time.Time
	URL        *url.URL
	Method     string
	Headers    map[string]string
	Body       []byte
}

// Header looks a recorded header up case-insensitively.
func (e AccessEntry) Header(name string) (string, bool) {
	if v, ok := e.Headers[name]; ok {
		return v, true
	}

	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}

	return "", false
}

// Raw converts the entry back into its on-disk representation.
func (e AccessEntry) Raw() RawEntry {
	headers := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		headers[k] = v
	}

	return RawEntry{
		AccessedAt: FormatAccessedAt(e.AccessedAt),
		URL:        e.URL.String(),
		HTTPMethod: e.Method,
		HTTPHeader: headers,
		HTTPBody:   string(e.Body),
	}
}

type Summary struct {
	RunID         string            `json:"run_id"`
	State         string            `json:"state"`
	TotalRequests int               `json:"total_requests"`
	Succeeded     int               `json:"succeeded"`
	Failed        int               `json:"failed"`
	Skipped       int               `json:"skipped"`
	ByError       map[ErrorKind]int `json:"by_error,omitempty"`
	ByStatusClass map[string]int    `json:"by_status_class,omitempty"`
	Latency       LatencyStats      `json:"latency"`
	MaxLagMs      int64             `json:"max_lag_ms"`
	DurationMs    int64             `json:"duration_ms"`
}

type LatencyStats struct {
	P50 int64 `json:"p50"`
	P90 int64 `json:"p90"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
	Min int64 `json:"min"`
	Max int64 `json:"max"`
	Avg int64 `json:"avg"`
}

// RunReport is everything a reporter needs once a run is over.
type RunReport struct {
	RunID      string        `json:"run_id"`
	State      string        `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Entries    []RawEntry    `json:"entries"`
	Outcomes   []Outcome     `json:"outcomes"`
	Summary    Summary       `json:"summary"`
	Shift      time.Duration `json:"shift"`
}
