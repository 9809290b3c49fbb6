package rules

type Config struct {
	Rules Rules `yaml:"rules"`
}

type Rules struct {
	Failed        *ThresholdRule `yaml:"failed,omitempty"`
	Timeouts      *ThresholdRule `yaml:"timeouts,omitempty"`
	Status5xx     *ThresholdRule `yaml:"status_5xx,omitempty"`
	Latency       *LatencyRule   `yaml:"latency,omitempty"`
	EndpointRules []EndpointRule `yaml:"endpoint_rules,omitempty"`
}

// ThresholdRule caps how many outcomes may match, as an absolute count
// and/or as a percentage of all outcomes in scope.
type ThresholdRule struct {
	Max        *int     `yaml:"max,omitempty"`
	MaxPercent *float64 `yaml:"max_percent,omitempty"`
}

// LatencyRule checks a latency metric against an absolute ceiling and,
// when a baseline run is given, against the baseline value.
type LatencyRule struct {
	Metric            string  `yaml:"metric"`
	MaxMs             int64   `yaml:"max_ms,omitempty"`
	RegressionPercent float64 `yaml:"regression_percent,omitempty"`
}

type EndpointRule struct {
	Path      string         `yaml:"path"`
	Method    string         `yaml:"method,omitempty"`
	Failed    *ThresholdRule `yaml:"failed,omitempty"`
	Timeouts  *ThresholdRule `yaml:"timeouts,omitempty"`
	Status5xx *ThresholdRule `yaml:"status_5xx,omitempty"`
	Latency   *LatencyRule   `yaml:"latency,omitempty"`
}

type EvaluationResult struct {
	Passed   bool      `json:"passed"`
	Failures []Failure `json:"failures"`
}

type Failure struct {
	Rule    string         `json:"rule"`
	Scope   string         `json:"scope"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
