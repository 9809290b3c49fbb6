package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nested keys, e.g. REPLAYER_SQLITE__PATH.
const EnvPrefix = "REPLAYER_"

var ErrInvalidConfig = errors.New("invalid config")

var defaultConfig = Config{
	Shift:          "0s",
	Anchor:         "now",
	Timeout:        30 * time.Second,
	TieConcurrency: 1,
	LogLevel:       "warn",
	Output: Output{
		Progress: true,
	},
	Server: Server{
		Bind: "127.0.0.1:9102",
	},
	Sinks: []string{},
	SQLite: SQLite{
		Path: "replayer.db",
	},
	Elasticsearch: Elasticsearch{
		Addresses: []string{"http://127.0.0.1:9200"},
		Index:     "replayer-outcomes",
	},
	NATS: NATS{
		URL:     "nats://127.0.0.1:4222",
		Subject: "replayer.outcomes",
	},
	Redis: Redis{
		Addr:   "127.0.0.1:6379",
		Stream: "replayer:outcomes",
	},
}

// Config is the full configuration of a replay run.
type Config struct {
	File           string        `koanf:"file"`
	Target         string        `koanf:"target"`
	Shift          string        `koanf:"shift"`
	Anchor         string        `koanf:"anchor"`
	Timeout        time.Duration `koanf:"timeout"`
	PreserveHost   bool          `koanf:"preserve_host"`
	Insecure       bool          `koanf:"insecure"`
	Headers        []string      `koanf:"headers"` // "Name: value"
	Auth           string        `koanf:"auth"`
	Strict         bool          `koanf:"strict"`
	Limit          int           `koanf:"limit"`
	FilterMethod   string        `koanf:"filter_method"`
	FilterPath     string        `koanf:"filter_path"`
	TieConcurrency int           `koanf:"tie_concurrency"`
	TieWindow      time.Duration `koanf:"tie_window"`
	LogLevel       string        `koanf:"log_level"`
	Rules          string        `koanf:"rules"`
	Baseline       string        `koanf:"baseline"`
	FailOnError    bool          `koanf:"fail_on_error"`

	Output        Output        `koanf:"output"`
	Upload        Upload        `koanf:"upload"`
	Server        Server        `koanf:"server"`
	Sinks         []string      `koanf:"sinks"`
	SQLite        SQLite        `koanf:"sqlite"`
	Postgres      Postgres      `koanf:"postgres"`
	Elasticsearch Elasticsearch `koanf:"elasticsearch"`
	NATS          NATS          `koanf:"nats"`
	Redis         Redis         `koanf:"redis"`
}

type Output struct {
	JSON       bool     `koanf:"json"`
	Progress   bool     `koanf:"progress"`
	HTMLReport string   `koanf:"html_report"`
	Redact     []string `koanf:"redact"` // JSON paths removed from sink records
}

type Upload struct {
	URL    string            `koanf:"url"`
	APIKey string            `koanf:"api_key"`
	Labels map[string]string `koanf:"labels"`
}

// Server is the optional status API that runs alongside a replay.
type Server struct {
	Enabled bool   `koanf:"enabled"`
	Bind    string `koanf:"bind"`
}

type SQLite struct {
	Path string `koanf:"path"`
}

type Postgres struct {
	DSN string `koanf:"dsn"`
}

type Elasticsearch struct {
	Addresses []string `koanf:"addresses"`
	Username  string   `koanf:"username"`
	Password  string   `koanf:"password"`
	APIKey    string   `koanf:"api_key"`
	Index     string   `koanf:"index"`
}

type NATS struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Stream   string `koanf:"stream"`
}

// Default returns a copy of the built-in defaults.
func Default() Config {
	c := defaultConfig
	c.Sinks = append([]string{}, defaultConfig.Sinks...)
	c.Elasticsearch.Addresses = append([]string{}, defaultConfig.Elasticsearch.Addresses...)
	return c
}

// Load layers defaults, the optional YAML file at path, REPLAYER_*
// environment variables and finally overrides (usually the flags the user
// set explicitly). Keys in overrides use "." for nesting.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error in loading the default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error in loading the config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error in loading the environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("error in loading the flags: %w", err)
		}
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("error in unmarshalling the config: %w", err)
	}

	c.Sinks = splitList(c.Sinks)
	c.Elasticsearch.Addresses = splitList(c.Elasticsearch.Addresses)
	c.Output.Redact = splitList(c.Output.Redact)

	return &c, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// splitList lets list values coming from env vars use commas.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

var knownSinks = map[string]bool{
	"stdout":        true,
	"sqlite":        true,
	"postgres":      true,
	"elasticsearch": true,
	"nats":          true,
	"redis":         true,
}

// Validate checks values that cannot be caught while unmarshalling.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseShift(c.Shift); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.TargetURL(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.HeaderMap(); err != nil {
		errs = append(errs, err)
	}

	if c.Anchor != "now" && c.Anchor != "recorded" {
		errs = append(errs, fmt.Errorf("anchor must be now or recorded, got %q", c.Anchor))
	}

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}

	if c.TieConcurrency < 1 {
		errs = append(errs, fmt.Errorf("tie_concurrency must be at least 1, got %d", c.TieConcurrency))
	}

	if c.TieWindow < 0 {
		errs = append(errs, fmt.Errorf("tie_window must not be negative, got %s", c.TieWindow))
	}

	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must not be negative, got %d", c.Limit))
	}

	for _, s := range c.Sinks {
		if !knownSinks[s] {
			errs = append(errs, fmt.Errorf("unknown sink %q", s))
		}
	}

	if c.has("postgres") && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres sink requires postgres.dsn"))
	}

	if c.Upload.URL != "" && c.Upload.APIKey == "" {
		errs = append(errs, errors.New("upload.url requires upload.api_key"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

func (c *Config) has(sink string) bool {
	for _, s := range c.Sinks {
		if s == sink {
			return true
		}
	}

	return false
}

func (c *Config) ShiftDuration() time.Duration {
	d, _ := ParseShift(c.Shift)
	return d
}

// TargetURL parses Target. An empty target replays against recorded URLs.
// A bare host:port gets the http scheme.
func (c *Config) TargetURL() (*url.URL, error) {
	target := strings.TrimSpace(c.Target)
	if target == "" {
		return nil, nil
	}

	if !strings.Contains(target, "://") {
		target = "http://" + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", c.Target, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid target %q: unsupported scheme %q", c.Target, u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("invalid target %q: missing host", c.Target)
	}

	return u, nil
}

// HeaderMap parses Headers and Auth into the extra headers sent with every
// replayed request.
func (c *Config) HeaderMap() (map[string]string, error) {
	headers := make(map[string]string, len(c.Headers)+1)
	for _, h := range c.Headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		headers[name] = strings.TrimSpace(value)
	}

	if c.Auth != "" {
		headers["Authorization"] = c.Auth
	}

	return headers, nil
}

// ReadFileSafe reads a file referenced from the config.
func ReadFileSafe(path string) ([]byte, error) {
	if strings.Contains(path, "\x00") {
		return nil, fmt.Errorf("invalid path %q", path)
	}

	return os.ReadFile(path) // #nosec G304
}
