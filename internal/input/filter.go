package input

import (
	"strings"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

type Filter struct {
	Method string
	// Path matches any entry whose URL path contains it.
	Path string
}

// Match reports whether entry passes the filter. An empty filter matches
// everything.
func (f Filter) Match(entry models.AccessEntry) bool {
	if f.Method != "" && !strings.EqualFold(entry.Method, f.Method) {
		return false
	}

	if f.Path != "" && !strings.Contains(entry.URL.Path, f.Path) {
		return false
	}

	return true
}
