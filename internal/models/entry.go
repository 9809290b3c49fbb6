package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrMalformedEntry is returned when a raw record cannot become an AccessEntry.
	ErrMalformedEntry = errors.New("malformed entry")

	// ErrEmptyOrInvalidInput is returned when a timeline is requested over
	// entries that did not pass construction.
	ErrEmptyOrInvalidInput = errors.New("empty or invalid input")
)

// AccessedAtLayout is the timestamp layout of the recorded logs, e.g.
// "2020-06-22 04:24:00.678451 UTC". The fraction is optional when parsing.
const AccessedAtLayout = "2006-01-02 15:04:05.000000 UTC"

const accessedAtParseLayout = "2006-01-02 15:04:05 UTC"

var knownMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"CONNECT": true,
	"OPTIONS": true,
	"TRACE":   true,
}

func NewAccessEntry(raw RawEntry) (AccessEntry, error) {
	accessedAt, err := ParseAccessedAt(raw.AccessedAt)
	if err != nil {
		return AccessEntry{}, fmt.Errorf("%w: accessed_at: %v", ErrMalformedEntry, err)
	}

	u, err := parseAbsoluteURL(raw.URL)
	if err != nil {
		return AccessEntry{}, fmt.Errorf("%w: url: %v", ErrMalformedEntry, err)
	}

	method := strings.ToUpper(strings.TrimSpace(raw.HTTPMethod))
	if !knownMethods[method] {
		return AccessEntry{}, fmt.Errorf("%w: http_method: unknown method %q", ErrMalformedEntry, raw.HTTPMethod)
	}

	headers := make(map[string]string, len(raw.HTTPHeader))
	for k, v := range raw.HTTPHeader {
		headers[k] = v
	}

	var body []byte
	if raw.HTTPBody != "" {
		body = []byte(raw.HTTPBody)
	}

	return AccessEntry{
		AccessedAt: accessedAt,
		URL:        u,
		Method:     method,
		Headers:    headers,
		Body:       body,
	}, nil
}

// ParseAccessedAt accepts the recorded "... UTC" layout and RFC 3339 with
// any offset. The result is in UTC with microsecond precision.
func ParseAccessedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	t, err := time.ParseInLocation(accessedAtParseLayout, s, time.UTC)
	if err != nil {
		var rfcErr error
		t, rfcErr = time.Parse(time.RFC3339Nano, s)
		if rfcErr != nil {
			return time.Time{}, err
		}
	}

	return t.UTC().Truncate(time.Microsecond), nil
}

func FormatAccessedAt(t time.Time) string {
	return t.UTC().Format(AccessedAtLayout)
}

func parseAbsoluteURL(s string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", s)
	}

	return u, nil
}
