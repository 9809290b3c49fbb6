package rules

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/kx0101/accesslog-replayer/internal/models"
	"github.com/kx0101/accesslog-replayer/internal/stats"
)

// Evaluate checks a finished run against cfg. baseline may be nil, in which
// case regression checks are skipped.
func Evaluate(cfg *Config, current *models.RunReport, baseline *models.RunReport) *EvaluationResult {
	result := &EvaluationResult{
		Passed:   true,
		Failures: []Failure{},
	}

	rules := &cfg.Rules
	scope := scopeData{name: "global", outcomes: current.Outcomes}

	result.Failures = append(result.Failures, evaluateThresholds(scope, rules.Failed, rules.Timeouts, rules.Status5xx)...)

	if rules.Latency != nil {
		var baselineLatency *models.LatencyStats
		if baseline != nil {
			baselineLatency = &baseline.Summary.Latency
		}

		result.Failures = append(result.Failures, evaluateLatencyRule(rules.Latency, current.Summary.Latency, baselineLatency, "global")...)
	}

	for _, endpointRule := range rules.EndpointRules {
		result.Failures = append(result.Failures, evaluateEndpointRule(&endpointRule, current, baseline)...)
	}

	sort.SliceStable(result.Failures, func(i, j int) bool {
		if result.Failures[i].Scope != result.Failures[j].Scope {
			return result.Failures[i].Scope < result.Failures[j].Scope
		}

		return result.Failures[i].Rule < result.Failures[j].Rule
	})

	result.Passed = len(result.Failures) == 0

	return result
}

type scopeData struct {
	name     string
	outcomes []models.Outcome
}

func evaluateThresholds(scope scopeData, failed, timeouts, status5xx *ThresholdRule) []Failure {
	var failures []Failure

	if f := evaluateThreshold("failed", failed, scope, models.Outcome.IsFailed); f != nil {
		failures = append(failures, *f)
	}

	if f := evaluateThreshold("timeouts", timeouts, scope, func(o models.Outcome) bool {
		return o.IsFailed() && o.Error == models.ErrorTimeout
	}); f != nil {
		failures = append(failures, *f)
	}

	if f := evaluateThreshold("status_5xx", status5xx, scope, func(o models.Outcome) bool {
		return o.IsSucceeded() && o.StatusCode >= 500
	}); f != nil {
		failures = append(failures, *f)
	}

	return failures
}

func evaluateThreshold(name string, rule *ThresholdRule, scope scopeData, match func(models.Outcome) bool) *Failure {
	if rule == nil || len(scope.outcomes) == 0 {
		return nil
	}

	count := 0
	affected := []int{}
	for _, o := range scope.outcomes {
		if match(o) {
			count++
			affected = append(affected, o.Index)
		}
	}

	percent := float64(count) / float64(len(scope.outcomes)) * 100

	details := map[string]any{
		"count":             count,
		"total":             len(scope.outcomes),
		"percent":           percent,
		"affected_requests": affected,
	}

	if rule.Max != nil && count > *rule.Max {
		details["max_allowed"] = *rule.Max
		return &Failure{
			Rule:    name,
			Scope:   scope.name,
			Message: fmt.Sprintf("Found %d %s outcomes, maximum allowed is %d", count, name, *rule.Max),
			Details: details,
		}
	}

	if rule.MaxPercent != nil && percent > *rule.MaxPercent {
		details["max_percent"] = *rule.MaxPercent
		return &Failure{
			Rule:    name,
			Scope:   scope.name,
			Message: fmt.Sprintf("%.2f%% of outcomes are %s, maximum allowed is %.2f%%", percent, name, *rule.MaxPercent),
			Details: details,
		}
	}

	return nil
}

func evaluateLatencyRule(rule *LatencyRule, current models.LatencyStats, baseline *models.LatencyStats, scope string) []Failure {
	var failures []Failure
	currentValue := getLatencyMetric(current, rule.Metric)

	if rule.MaxMs > 0 && currentValue > rule.MaxMs {
		failures = append(failures, Failure{
			Rule:    "latency",
			Scope:   scope,
			Message: fmt.Sprintf("Latency %s of %dms exceeds ceiling of %dms", rule.Metric, currentValue, rule.MaxMs),
			Details: map[string]any{
				"metric":     rule.Metric,
				"current_ms": currentValue,
				"max_ms":     rule.MaxMs,
			},
		})
	}

	if baseline == nil {
		return failures
	}

	baselineValue := getLatencyMetric(*baseline, rule.Metric)
	if baselineValue == 0 {
		return failures
	}

	regression := ((float64(currentValue) - float64(baselineValue)) / float64(baselineValue)) * 100

	if regression > rule.RegressionPercent {
		failures = append(failures, Failure{
			Rule:    "latency_regression",
			Scope:   scope,
			Message: fmt.Sprintf("Latency regression of %.2f%% exceeds threshold of %.2f%% (%s: %dms -> %dms)", regression, rule.RegressionPercent, rule.Metric, baselineValue, currentValue),
			Details: map[string]any{
				"metric":             rule.Metric,
				"baseline_ms":        baselineValue,
				"current_ms":         currentValue,
				"regression_percent": regression,
				"threshold_percent":  rule.RegressionPercent,
			},
		})
	}

	return failures
}

func getLatencyMetric(stats models.LatencyStats, metric string) int64 {
	switch metric {
	case "p50":
		return stats.P50
	case "p90":
		return stats.P90
	case "p95":
		return stats.P95
	case "p99":
		return stats.P99
	case "avg":
		return stats.Avg
	case "max":
		return stats.Max
	case "min":
		return stats.Min
	default:
		return 0
	}
}

func evaluateEndpointRule(rule *EndpointRule, current, baseline *models.RunReport) []Failure {
	matching := filterOutcomesByEndpoint(current, rule.Path, rule.Method)

	if len(matching) == 0 {
		return nil
	}

	name := fmt.Sprintf("endpoint:%s", rule.Path)
	if rule.Method != "" {
		name = fmt.Sprintf("endpoint:%s %s", strings.ToUpper(rule.Method), rule.Path)
	}

	failures := evaluateThresholds(scopeData{name: name, outcomes: matching}, rule.Failed, rule.Timeouts, rule.Status5xx)

	if rule.Latency != nil {
		currentLatency := calculateLatency(matching)

		var baselineLatency *models.LatencyStats
		if baseline != nil {
			if baselineMatching := filterOutcomesByEndpoint(baseline, rule.Path, rule.Method); len(baselineMatching) > 0 {
				l := calculateLatency(baselineMatching)
				baselineLatency = &l
			}
		}

		failures = append(failures, evaluateLatencyRule(rule.Latency, currentLatency, baselineLatency, name)...)
	}

	return failures
}

func filterOutcomesByEndpoint(report *models.RunReport, path, method string) []models.Outcome {
	var filtered []models.Outcome

	for _, o := range report.Outcomes {
		if o.Index < 0 || o.Index >= len(report.Entries) {
			continue
		}

		entry := report.Entries[o.Index]

		u, err := url.Parse(entry.URL)
		if err != nil || !strings.HasPrefix(u.Path, path) {
			continue
		}

		if method != "" && !strings.EqualFold(entry.HTTPMethod, method) {
			continue
		}

		filtered = append(filtered, o)
	}

	return filtered
}

func calculateLatency(outcomes []models.Outcome) models.LatencyStats {
	var latencies []int64
	for _, o := range outcomes {
		if o.Sent {
			latencies = append(latencies, o.Latency.Milliseconds())
		}
	}

	return stats.CalculateLatencyStats(latencies)
}
