package input

import (
	"net/url"
	"testing"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

func entries(t *testing.T, pairs ...string) []models.AccessEntry {
	t.Helper()

	var out []models.AccessEntry
	for i := 0; i < len(pairs); i += 2 {
		u, err := url.Parse("http://example.com" + pairs[i+1])
		if err != nil {
			t.Fatalf("bad path %s: %v", pairs[i+1], err)
		}
		out = append(out, models.AccessEntry{Method: pairs[i], URL: u})
	}

	return out
}

func TestFilter_Match(t *testing.T) {
	all := entries(t,
		"GET", "/users",
		"POST", "/users",
		"GET", "/posts",
		"DELETE", "/users/123",
		"GET", "/comments",
	)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filters applied", Filter{}, 5},
		{"filter by method GET", Filter{Method: "GET"}, 3},
		{"method is case-insensitive", Filter{Method: "delete"}, 1},
		{"filter by path", Filter{Path: "/users"}, 3},
		{"method and path", Filter{Method: "GET", Path: "/users"}, 1},
		{"no match", Filter{Method: "PATCH"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched := 0
			for _, e := range all {
				if tt.filter.Match(e) {
					matched++
				}
			}

			if matched != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, matched)
			}
		})
	}
}
