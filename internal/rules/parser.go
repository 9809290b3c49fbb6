package rules

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kx0101/accesslog-replayer/internal/config"
	"github.com/kx0101/accesslog-replayer/internal/models"
)

func ParseRulesFile(path string) (*Config, error) {
	data, err := config.ReadFileSafe(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	return ParseRules(data)
}

func ParseRules(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}

	if err := validateRules(&cfg); err != nil {
		return nil, fmt.Errorf("invalid rules configuration: %w", err)
	}

	return &cfg, nil
}

// LoadBaselineFile reads a report written by --output-json.
func LoadBaselineFile(path string) (*models.RunReport, error) {
	data, err := config.ReadFileSafe(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}

	var baseline models.RunReport
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("failed to parse baseline JSON: %w", err)
	}

	return &baseline, nil
}

func validateRules(cfg *Config) error {
	rules := cfg.Rules

	thresholds := map[string]*ThresholdRule{
		"failed":     rules.Failed,
		"timeouts":   rules.Timeouts,
		"status_5xx": rules.Status5xx,
	}
	for name, rule := range thresholds {
		if err := validateThresholdRule(rule); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if rules.Latency != nil {
		if err := validateLatencyRule(rules.Latency); err != nil {
			return fmt.Errorf("global latency rule: %w", err)
		}
	}

	for i, endpoint := range rules.EndpointRules {
		if endpoint.Path == "" {
			return fmt.Errorf("endpoint_rules[%d]: path is required", i)
		}

		for name, rule := range map[string]*ThresholdRule{
			"failed":     endpoint.Failed,
			"timeouts":   endpoint.Timeouts,
			"status_5xx": endpoint.Status5xx,
		} {
			if err := validateThresholdRule(rule); err != nil {
				return fmt.Errorf("endpoint_rules[%d].%s: %w", i, name, err)
			}
		}

		if endpoint.Latency != nil {
			if err := validateLatencyRule(endpoint.Latency); err != nil {
				return fmt.Errorf("endpoint_rules[%d].latency: %w", i, err)
			}
		}
	}

	return nil
}

func validateThresholdRule(rule *ThresholdRule) error {
	if rule == nil {
		return nil
	}

	if rule.Max == nil && rule.MaxPercent == nil {
		return fmt.Errorf("max or max_percent is required")
	}

	if rule.Max != nil && *rule.Max < 0 {
		return fmt.Errorf("max cannot be negative: %d", *rule.Max)
	}

	if rule.MaxPercent != nil && (*rule.MaxPercent < 0 || *rule.MaxPercent > 100) {
		return fmt.Errorf("max_percent must be between 0 and 100: %.2f", *rule.MaxPercent)
	}

	return nil
}

func validateLatencyRule(rule *LatencyRule) error {
	validMetrics := map[string]bool{
		"p50": true, "p90": true, "p95": true, "p99": true,
		"avg": true, "max": true, "min": true,
	}

	if !validMetrics[rule.Metric] {
		return fmt.Errorf("invalid metric '%s', must be one of: p50, p90, p95, p99, avg, max, min", rule.Metric)
	}

	if rule.RegressionPercent < 0 {
		return fmt.Errorf("regression_percent cannot be negative: %.2f", rule.RegressionPercent)
	}

	if rule.MaxMs < 0 {
		return fmt.Errorf("max_ms cannot be negative: %d", rule.MaxMs)
	}

	return nil
}
