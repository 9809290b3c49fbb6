package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

func PrintSummary(w io.Writer, report models.RunReport) {
	s := report.Summary

	fmt.Fprintln(w, ColorBold+"==== Summary ===="+ColorReset)
	fmt.Fprintf(w, "Run: %s (%s)\n", report.RunID, stateColor(report.State))
	fmt.Fprintf(w, "Total Requests: %d\nSucceeded: %s%d%s\nFailed: %s%d%s\nSkipped: %s%d%s\n",
		s.TotalRequests,
		ColorGreen, s.Succeeded, ColorReset,
		ColorRed, s.Failed, ColorReset,
		ColorYellow, s.Skipped, ColorReset)

	if len(s.ByStatusClass) > 0 {
		fmt.Fprintf(w, "\nStatus classes:")
		for _, k := range sortedKeys(s.ByStatusClass) {
			fmt.Fprintf(w, " %s=%d", k, s.ByStatusClass[k])
		}
		fmt.Fprintln(w)
	}

	if len(s.ByError) > 0 {
		errs := make(map[string]int, len(s.ByError))
		for k, v := range s.ByError {
			errs[string(k)] = v
		}

		fmt.Fprintf(w, "Errors:")
		for _, k := range sortedKeys(errs) {
			fmt.Fprintf(w, " %s%s=%d%s", ColorRed, k, errs[k], ColorReset)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "\nLatency (ms):")
	printLatencyStats(w, s.Latency)
	fmt.Fprintf(w, "Max schedule lag: %dms  Duration: %dms  Shift: %s\n", s.MaxLagMs, s.DurationMs, report.Shift)

	if len(report.Outcomes) == 0 {
		return
	}

	fmt.Fprintln(w)
	for _, o := range report.Outcomes {
		method, target := "?", "?"
		if o.Index >= 0 && o.Index < len(report.Entries) {
			method, target = report.Entries[o.Index].HTTPMethod, report.Entries[o.Index].URL
		}

		fmt.Fprintf(w, "[%d] %s %s %s%s%s%s\n", o.Index, method, target, outcomeColor(o), o, ColorReset, outcomeDetail(o))
	}
}

func printLatencyStats(w io.Writer, stats models.LatencyStats) {
	fmt.Fprintf(w, "  min: %d  avg: %d  p50: %d  p90: %d  p95: %d  p99: %d  max: %d\n", stats.Min, stats.Avg, stats.P50, stats.P90, stats.P95, stats.P99, stats.Max)
}

func outcomeColor(o models.Outcome) string {
	switch {
	case o.IsSkipped():
		return ColorYellow
	case o.IsFailed():
		return ColorRed
	case o.StatusCode >= 500:
		return ColorRed
	case o.StatusCode >= 400:
		return ColorYellow
	default:
		return ColorGreen
	}
}

func outcomeDetail(o models.Outcome) string {
	detail := ""
	if o.Sent {
		detail = fmt.Sprintf(" -> %dms", o.LatencyMs())
	}

	if lag := o.Lag(); lag > 0 {
		detail += fmt.Sprintf(" (late %s)", lag)
	}

	if o.Detail != "" {
		detail += fmt.Sprintf(" (%s)", o.Detail)
	}

	return detail
}

func stateColor(state string) string {
	if state == "completed" {
		return ColorGreen + state + ColorReset
	}

	return ColorRed + state + ColorReset
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func PrintJSONOutput(w io.Writer, report models.RunReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}

	return nil
}
