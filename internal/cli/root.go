package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kx0101/accesslog-replayer/internal/config"
	"github.com/kx0101/accesslog-replayer/internal/logging"
)

// NewRootCmd creates the root replayer command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "replayer",
		Short: "Replay recorded HTTP access logs with their original timing",
		Long: `Replayer re-issues the requests of an access log in chronological order,
keeping the time gaps between them, and reports what happened to each one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newReplayCmd(),
		newValidateCmd(),
		newConvertNginxCmd(),
		newCaptureCmd(),
	)

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) ExitCode {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)

	var ee *exitError
	if err != nil && (!errors.As(err, &ee) || ee.err != nil) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}

	return codeOf(err)
}

// flagKeys maps command-line flags to config keys. Only flags the user set
// explicitly override the config file and the environment.
var flagKeys = map[string]string{
	"log-level":       "log_level",
	"file":            "file",
	"target":          "target",
	"shift":           "shift",
	"anchor":          "anchor",
	"timeout":         "timeout",
	"preserve-host":   "preserve_host",
	"insecure":        "insecure",
	"header":          "headers",
	"auth":            "auth",
	"strict":          "strict",
	"limit":           "limit",
	"filter-method":   "filter_method",
	"filter-path":     "filter_path",
	"tie-concurrency": "tie_concurrency",
	"tie-window":      "tie_window",
	"rules":           "rules",
	"baseline":        "baseline",
	"fail-on-error":   "fail_on_error",
	"output-json":     "output.json",
	"progress":        "output.progress",
	"html-report":     "output.html_report",
	"redact":          "output.redact",
	"upload-url":      "upload.url",
	"upload-api-key":  "upload.api_key",
	"serve":           "server.enabled",
	"bind":            "server.bind",
	"sink":            "sinks",
}

func overrides(fs *pflag.FlagSet) (map[string]any, error) {
	out := make(map[string]any)
	var err error

	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "upload-label" {
			labels, lerr := parseLabels(fs)
			if lerr != nil {
				err = lerr
				return
			}
			out["upload.labels"] = labels
			return
		}

		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}

		if sv, ok := f.Value.(pflag.SliceValue); ok {
			out[key] = sv.GetSlice()
			return
		}

		out[key] = f.Value.String()
	})

	return out, err
}

func parseLabels(fs *pflag.FlagSet) (map[string]any, error) {
	raw, err := fs.GetStringArray("upload-label")
	if err != nil {
		return nil, err
	}

	labels := make(map[string]any, len(raw))
	for _, l := range raw {
		k, v, ok := strings.Cut(l, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid label %q, expected key=value", l)
		}
		labels[k] = v
	}

	return labels, nil
}

// loadConfig builds the effective config of cmd and applies its log level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	ov, err := overrides(cmd.Flags())
	if err != nil {
		return nil, withCode(ExitInvalid, err)
	}

	cfg, err := config.Load(path, ov)
	if err != nil {
		return nil, withCode(ExitInvalid, err)
	}

	if err := logging.InitializeLogger(cfg.LogLevel); err != nil {
		return nil, withCode(ExitInvalid, err)
	}

	return cfg, nil
}
