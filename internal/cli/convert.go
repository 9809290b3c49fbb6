package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kx0101/accesslog-replayer/internal/parser"
	"github.com/kx0101/accesslog-replayer/internal/proxy"
)

var (
	convertNginxLogsFn  = parser.ConvertNginxLogs
	startReverseProxyFn = proxy.StartReverseProxy
)

func newConvertNginxCmd() *cobra.Command {
	var (
		inputFile string
		outFile   string
		format    string
		baseURL   string
	)

	cmd := &cobra.Command{
		Use:   "convert-nginx",
		Short: "Convert an nginx access log into replayable JSON lines",
		Example: `  replayer convert-nginx --input access.log --output access.jsonl --base-url https://api.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}

			if inputFile == "" || outFile == "" {
				return withCode(ExitInvalid, fmt.Errorf("--input and --output are required"))
			}

			stats, err := convertNginxLogsFn(inputFile, outFile, format, baseURL)
			if err != nil {
				return withCode(ExitRuntime, fmt.Errorf("failed to parse nginx logs: %w", err))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Parsed %d requests, skipped %d invalid lines\n", stats.Parsed, stats.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputFile, "input", "", "nginx access log")
	cmd.Flags().StringVar(&outFile, "output", "", "Output JSON lines file")
	cmd.Flags().StringVar(&format, "format", "combined", "nginx log format (combined or common)")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost", "Scheme and host prepended to every request path")

	return cmd
}

func newCaptureCmd() *cobra.Command {
	cfg := proxy.CaptureConfig{}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run a reverse proxy that records traffic as an access log",
		Example: `  replayer capture --upstream http://localhost:3000 --listen :8080 --output captured.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}

			if cfg.Upstream == "" {
				return withCode(ExitInvalid, fmt.Errorf("--upstream is required"))
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Starting reverse proxy on %s, forwarding to %s...\n", cfg.ListenAddr, cfg.Upstream)
			if err := startReverseProxyFn(ctx, &cfg); err != nil {
				return withCode(ExitRuntime, fmt.Errorf("failed to start reverse proxy: %w", err))
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ListenAddr, "listen", ":8080", "Reverse proxy listen address")
	f.StringVar(&cfg.Upstream, "upstream", "", "Upstream server to proxy to")
	f.StringVar(&cfg.OutputFile, "output", "captured.jsonl", "Output JSON lines file")
	f.BoolVar(&cfg.Stream, "stream", false, "Also write captured records to stdout")
	f.StringVar(&cfg.TLSCert, "tls-cert", "", "TLS certificate")
	f.StringVar(&cfg.TLSKey, "tls-key", "", "TLS key")

	return cmd
}
