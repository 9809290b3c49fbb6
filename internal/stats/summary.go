package stats

import (
	"net/url"
	"strings"
	"time"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

// Summarize aggregates the outcomes of a run. Latency covers every outcome
// that reached the target, MaxLagMs is the worst scheduling delay.
func Summarize(runID, state string, outcomes []models.Outcome, elapsed time.Duration) models.Summary {
	s := models.Summary{
		RunID:         runID,
		State:         state,
		TotalRequests: len(outcomes),
		ByError:       map[models.ErrorKind]int{},
		ByStatusClass: map[string]int{},
		DurationMs:    elapsed.Milliseconds(),
	}

	var latencies []int64
	for _, o := range outcomes {
		switch o.Kind {
		case models.KindSucceeded:
			s.Succeeded++
			s.ByStatusClass[o.StatusClass()]++
		case models.KindFailed:
			s.Failed++
			s.ByError[o.Error]++
		case models.KindSkipped:
			s.Skipped++
		}

		if o.Sent {
			latencies = append(latencies, o.Latency.Milliseconds())
		}

		if lag := o.Lag().Milliseconds(); lag > s.MaxLagMs {
			s.MaxLagMs = lag
		}
	}

	s.Latency = CalculateLatencyStats(latencies)
	return s
}

// LatenciesByEndpoint groups sent latencies by "METHOD path" of the entry
// each outcome belongs to.
func LatenciesByEndpoint(entries []models.RawEntry, outcomes []models.Outcome) map[string][]int64 {
	out := make(map[string][]int64)
	for _, o := range outcomes {
		if !o.Sent || o.Index < 0 || o.Index >= len(entries) {
			continue
		}

		key := EndpointKey(entries[o.Index])
		out[key] = append(out[key], o.Latency.Milliseconds())
	}

	return out
}

// EndpointKey is "METHOD path" with the query dropped.
func EndpointKey(e models.RawEntry) string {
	path := e.URL
	if u, err := url.Parse(e.URL); err == nil {
		path = u.Path
	}

	if path == "" {
		path = "/"
	}

	return strings.ToUpper(e.HTTPMethod) + " " + path
}
