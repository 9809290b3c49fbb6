package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kx0101/accesslog-replayer/internal/cloud"
	"github.com/kx0101/accesslog-replayer/internal/config"
	"github.com/kx0101/accesslog-replayer/internal/input"
	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/models"
	"github.com/kx0101/accesslog-replayer/internal/output"
	"github.com/kx0101/accesslog-replayer/internal/replay"
	"github.com/kx0101/accesslog-replayer/internal/report"
	"github.com/kx0101/accesslog-replayer/internal/rules"
	"github.com/kx0101/accesslog-replayer/internal/server"
	"github.com/kx0101/accesslog-replayer/internal/sink"
	"github.com/kx0101/accesslog-replayer/internal/stats"
)

var (
	openSinksFn = sink.Open
	uploadFn    = uploadRun
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [LOG_TEXT]",
		Short: "Replay an access log against its recorded hosts or a target",
		Long: `Replays every entry of an access log at the moment it was recorded,
relative to the start of the run. Entries are dispatched in timestamp order,
one at a time, and the outcome of each one is reported.

The log is read from --file, or given inline as the only argument.
--shift moves every entry later (or earlier) by a fixed amount and accepts
2s, 5m, 5h, 1d, 2w or any Go duration.`,
		Example: `  replayer replay --file access.json
  replayer replay --file access.json --target http://staging:8080 --shift 5m
  replayer replay '[{"accessed_at":"2020-06-22 04:24:00.678451 UTC","url":"http://localhost:8080/","http_method":"GET","http_header":{},"http_body":""}]'
  replayer replay --file access.json --anchor recorded --sink sqlite --serve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			return runReplay(cmd.Context(), cfg, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	addInputFlags(cmd)

	f := cmd.Flags()
	f.String("target", "", "Replay against this base URL instead of the recorded hosts")
	f.String("anchor", "now", "Run start: now, or recorded to fire at accessed_at + shift")
	f.Duration("timeout", replay.DefaultTimeout, "Per-request timeout")
	f.Bool("preserve-host", false, "Keep the recorded Host header when replaying against --target")
	f.Bool("insecure", false, "Skip TLS certificate verification")
	f.StringArray("header", nil, "Extra header 'Name: value' sent with every request (repeatable)")
	f.String("auth", "", "Authorization header value sent with every request")
	f.Int("tie-concurrency", 1, "Dispatch entries with equal offsets concurrently, at most N at a time")
	f.Duration("tie-window", 0, "Offsets within this window of a group's first entry count as ties and may overlap in flight; each still fires at its own moment")
	f.Bool("output-json", false, "Print the run as JSON instead of a summary")
	f.Bool("progress", true, "Show a progress bar on stderr")
	f.String("html-report", "", "Write an HTML report to this path")
	f.StringSlice("redact", nil, "JSON paths removed from sink records (e.g. headers.Authorization)")
	f.String("rules", "", "Rules YAML evaluated after the run")
	f.String("baseline", "", "Baseline run JSON for latency regression rules")
	f.Bool("fail-on-error", false, "Exit non-zero when any entry failed")
	f.String("upload-url", "", "Upload the run to a collector at this URL")
	f.String("upload-api-key", "", "API key for --upload-url")
	f.StringArray("upload-label", nil, "Label key=value attached to the upload (repeatable)")
	f.Bool("serve", false, "Serve the run status API while replaying")
	f.String("bind", "127.0.0.1:9102", "Status API listen address")
	f.StringSlice("sink", nil, "Outcome sinks: stdout, sqlite, postgres, elasticsearch, nats, redis")

	return cmd
}

// addInputFlags registers the flags that select and filter entries.
func addInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("file", "", "Access log file (JSON array or JSON lines)")
	f.String("shift", "0s", "Time shift applied to every entry")
	f.Bool("strict", false, "Fail on the first malformed entry instead of skipping it")
	f.Int("limit", 0, "Replay at most N entries (0 = all)")
	f.String("filter-method", "", "Only entries with this method")
	f.String("filter-path", "", "Only entries whose path contains this string")
}

// loadEntries reads the log from the inline argument or cfg.File. The limit
// counts entries that passed the filters.
func loadEntries(cfg *config.Config, args []string) ([]models.AccessEntry, []input.Issue, error) {
	opts := input.Options{
		Strict: cfg.Strict,
		Filter: input.Filter{Method: cfg.FilterMethod, Path: cfg.FilterPath},
		Limit:  cfg.Limit,
	}

	var (
		res *input.Result
		err error
	)
	switch {
	case len(args) == 1:
		res, err = input.ReadText(args[0], opts)
	case cfg.File != "":
		res, err = input.ReadFile(cfg.File, opts)
	default:
		return nil, nil, withCode(ExitInvalid, errors.New("an access log is required: use --file or pass it inline"))
	}

	if err != nil {
		if errors.Is(err, models.ErrMalformedEntry) || errors.Is(err, models.ErrEmptyOrInvalidInput) {
			return nil, nil, withCode(ExitInvalid, err)
		}
		return nil, nil, withCode(ExitRuntime, err)
	}

	return res.Entries, res.Issues, nil
}

func runReplay(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return withCode(ExitInvalid, err)
	}

	entries, _, err := loadEntries(cfg, args)
	if err != nil {
		return err
	}

	tl := replay.BuildTimeline(entries, cfg.ShiftDuration())

	dispatcher, err := newDispatcher(cfg)
	if err != nil {
		return withCode(ExitInvalid, err)
	}

	anchor, err := replay.ParseAnchor(cfg.Anchor)
	if err != nil {
		return withCode(ExitInvalid, err)
	}

	runner := replay.NewRunner(dispatcher,
		replay.WithTieConcurrency(cfg.TieConcurrency),
		replay.WithTieWindow(cfg.TieWindow),
		replay.WithAnchor(anchor),
	)

	sinks, err := openSinksFn(ctx, cfg)
	if err != nil {
		return withCode(ExitRuntime, err)
	}
	defer func() {
		if err := sink.CloseAll(sinks); err != nil {
			logging.L.Warn("failed to close sinks", zap.Error(err))
		}
	}()

	if cfg.Server.Enabled {
		srv := server.New(runner)
		if _, err := srv.Start(cfg.Server.Bind); err != nil {
			return withCode(ExitRuntime, err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Followers outlive a cancelled run so they still drain the skipped tail.
	followCtx := context.WithoutCancel(ctx)
	var followers errgroup.Group

	if len(sinks) > 0 {
		pump := sink.NewPump(runner.RunID(), tl.Entries(), cfg.Output.Redact, sinks...)
		followers.Go(func() error {
			return pump.Run(followCtx, runner.Stream())
		})
	}

	if cfg.Output.Progress && !cfg.Output.JSON && tl.Len() > 0 {
		pb := output.NewProgressBar(stderr, tl.Len())
		followers.Go(func() error {
			pb.Follow(followCtx, runner.Stream())
			return nil
		})
	}

	result, runErr := runner.Run(ctx, tl)
	if err := followers.Wait(); err != nil {
		logging.L.Warn("outcome follower stopped", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, replay.ErrAborted) {
		return withCode(ExitRuntime, runErr)
	}

	run := buildRunReport(result, tl)
	return finishRun(ctx, cfg, run, runErr, stdout, stderr)
}

func newDispatcher(cfg *config.Config) (replay.Dispatcher, error) {
	base, err := cfg.TargetURL()
	if err != nil {
		return nil, err
	}

	headers, err := cfg.HeaderMap()
	if err != nil {
		return nil, err
	}

	return replay.NewHTTPDispatcher(replay.Target{
		BaseURL:      base,
		Timeout:      cfg.Timeout,
		PreserveHost: cfg.PreserveHost,
		Insecure:     cfg.Insecure,
		Headers:      headers,
	}), nil
}

func buildRunReport(result *replay.Result, tl *replay.Timeline) models.RunReport {
	entries := tl.Entries()
	raws := make([]models.RawEntry, len(entries))
	for i, e := range entries {
		raws[i] = e.Raw()
	}

	state := result.State.String()
	elapsed := result.FinishedAt.Sub(result.StartedAt)

	return models.RunReport{
		RunID:      result.RunID,
		State:      state,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Entries:    raws,
		Outcomes:   result.Outcomes,
		Summary:    stats.Summarize(result.RunID, state, result.Outcomes, elapsed),
		Shift:      tl.ShiftApplied(),
	}
}

type jsonOutput struct {
	Run            models.RunReport        `json:"run"`
	RuleEvaluation *rules.EvaluationResult `json:"rule_evaluation,omitempty"`
}

// finishRun writes every report of a finished run and picks the exit code.
func finishRun(ctx context.Context, cfg *config.Config, run models.RunReport, runErr error, stdout, stderr io.Writer) error {
	var evaluation *rules.EvaluationResult
	if cfg.Rules != "" {
		rulesConfig, err := rules.ParseRulesFile(cfg.Rules)
		if err != nil {
			return withCode(ExitInvalid, fmt.Errorf("failed to load rules: %w", err))
		}

		evaluation = rules.Evaluate(rulesConfig, &run, loadBaseline(cfg.Baseline, stderr))
	}

	if cfg.Output.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(jsonOutput{Run: run, RuleEvaluation: evaluation}); err != nil {
			return withCode(ExitRuntime, fmt.Errorf("encoding JSON output: %w", err))
		}
	} else {
		output.PrintSummary(stdout, run)
		if evaluation != nil {
			fmt.Fprint(stderr, rules.FormatRuleResult(evaluation))
		}
	}

	if cfg.Output.HTMLReport != "" {
		if err := report.GenerateHTML(run, cfg.File, cfg.Target, cfg.Output.HTMLReport); err != nil {
			return withCode(ExitRuntime, fmt.Errorf("failed to generate HTML report: %w", err))
		}
		fmt.Fprintf(stderr, "HTML report written to %s\n", cfg.Output.HTMLReport)
	}

	if cfg.Upload.URL != "" {
		if err := uploadFn(ctx, cfg, run, stderr); err != nil {
			fmt.Fprintf(stderr, "Warning: upload failed: %v\n", err)
		}
	}

	switch {
	case runErr != nil:
		return withCode(ExitAborted, runErr)
	case evaluation != nil && !evaluation.Passed:
		return withCode(ExitRules, nil)
	case cfg.FailOnError && run.Summary.Failed > 0:
		return withCode(ExitFailures, fmt.Errorf("%d of %d entries failed", run.Summary.Failed, run.Summary.TotalRequests))
	default:
		return nil
	}
}

func loadBaseline(path string, stderr io.Writer) *models.RunReport {
	if path == "" {
		return nil
	}

	baseline, err := rules.LoadBaselineFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: failed to load baseline: %v\n", err)
		fmt.Fprintf(stderr, "Latency regression rules will be skipped\n")
		return nil
	}

	return baseline
}

func uploadRun(ctx context.Context, cfg *config.Config, run models.RunReport, stderr io.Writer) error {
	client, err := cloud.NewClient(cfg.Upload.URL, cfg.Upload.APIKey)
	if err != nil {
		return fmt.Errorf("creating upload client: %w", err)
	}

	resp, err := client.Upload(context.WithoutCancel(ctx), &cloud.UploadRequest{
		Target: cfg.Target,
		Run:    run,
		Labels: cfg.Upload.Labels,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(stderr, "Uploaded run %s as %s\n", run.RunID, resp.ID)
	return nil
}
