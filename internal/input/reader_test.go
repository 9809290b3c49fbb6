package input

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

const sampleArray = `[
  {"accessed_at": "2020-06-22 04:24:00.678451 UTC", "url": "https://example.com/users", "http_method": "get", "http_header": {"Accept": "application/json"}, "http_body": ""},
  {"accessed_at": "2020-06-22 04:24:02.000000 UTC", "url": "https://example.com/users", "http_method": "POST", "http_header": {}, "http_body": "{\"name\":\"bob\"}"}
]`

func createTempFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "access.log")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	return path
}

func line(at, method, url string) string {
	return `{"accessed_at":"` + at + `","url":"` + url + `","http_method":"` + method + `","http_header":{},"http_body":""}`
}

func TestReadFile(t *testing.T) {
	t.Run("JSON array", func(t *testing.T) {
		res, err := ReadFile(createTempFile(t, sampleArray), Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(res.Entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(res.Entries))
		}

		if res.Entries[0].Method != "GET" || res.Entries[1].Method != "POST" {
			t.Errorf("unexpected methods %s %s", res.Entries[0].Method, res.Entries[1].Method)
		}

		if string(res.Entries[1].Body) != `{"name":"bob"}` {
			t.Errorf("unexpected body %q", res.Entries[1].Body)
		}
	})

	t.Run("JSON lines", func(t *testing.T) {
		content := strings.Join([]string{
			line("2020-06-22 04:24:00 UTC", "GET", "http://example.com/1"),
			"",
			line("2020-06-22 04:24:01 UTC", "DELETE", "http://example.com/2"),
		}, "\n")

		res, err := ReadFile(createTempFile(t, content), Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(res.Entries) != 2 || res.Entries[1].Method != "DELETE" {
			t.Errorf("unexpected entries %+v", res.Entries)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadFile(filepath.Join(t.TempDir(), "nope.log"), Options{}); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestRead_Malformed(t *testing.T) {
	content := strings.Join([]string{
		line("2020-06-22 04:24:00 UTC", "GET", "http://example.com/1"),
		`{not json`,
		line("not a time", "GET", "http://example.com/2"),
		line("2020-06-22 04:24:03 UTC", "BREW", "http://example.com/3"),
		line("2020-06-22 04:24:04 UTC", "GET", "http://example.com/4"),
	}, "\n")

	t.Run("lenient skips and reports", func(t *testing.T) {
		res, err := ReadText(content, Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(res.Entries) != 2 {
			t.Errorf("expected 2 valid entries, got %d", len(res.Entries))
		}

		if len(res.Issues) != 3 {
			t.Fatalf("expected 3 issues, got %d", len(res.Issues))
		}

		if res.Issues[0].Position != 2 || !errors.Is(res.Issues[0].Err, models.ErrMalformedEntry) {
			t.Errorf("unexpected first issue %s", res.Issues[0])
		}
	})

	t.Run("strict fails on first", func(t *testing.T) {
		_, err := ReadText(content, Options{Strict: true})
		if !errors.Is(err, models.ErrMalformedEntry) {
			t.Fatalf("expected ErrMalformedEntry, got %v", err)
		}

		if !strings.Contains(err.Error(), "entry 2") {
			t.Errorf("error should name the position: %v", err)
		}
	})
}

func TestRead_Limit(t *testing.T) {
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, line("2020-06-22 04:24:00 UTC", "GET", "http://example.com/"))
	}

	res, err := ReadText(strings.Join(lines, "\n"), Options{Limit: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Entries) != 3 {
		t.Errorf("expected 3 entries due to limit, got %d", len(res.Entries))
	}

	res, err = ReadText(sampleArray, Options{Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Entries) != 1 {
		t.Errorf("expected 1 entry from array due to limit, got %d", len(res.Entries))
	}
}

func TestRead_FilterBeforeLimit(t *testing.T) {
	lines := []string{
		line("2020-06-22 04:24:00 UTC", "GET", "http://example.com/health"),
		line("2020-06-22 04:24:01 UTC", "POST", "http://example.com/users"),
		line("2020-06-22 04:24:02 UTC", "GET", "http://example.com/health"),
		line("2020-06-22 04:24:03 UTC", "POST", "http://example.com/users/1"),
		line("2020-06-22 04:24:04 UTC", "POST", "http://example.com/users/2"),
	}

	res, err := ReadText(strings.Join(lines, "\n"), Options{
		Filter: Filter{Method: "post", Path: "/users"},
		Limit:  2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}

	for i, want := range []string{"/users", "/users/1"} {
		if got := res.Entries[i].URL.Path; got != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, got)
		}
	}

	if len(res.Issues) != 0 {
		t.Errorf("filtered entries are not issues, got %v", res.Issues)
	}
}

func TestRead_Empty(t *testing.T) {
	for _, in := range []string{"", "  \n\n", "[]"} {
		res, err := ReadText(in, Options{Strict: true})
		if err != nil {
			t.Errorf("%q: unexpected error: %v", in, err)
			continue
		}

		if len(res.Entries) != 0 {
			t.Errorf("%q: expected no entries, got %d", in, len(res.Entries))
		}
	}

	if _, err := ReadText(`[{"accessed_at": `, Options{}); err == nil {
		t.Error("expected error for truncated array")
	}
}
