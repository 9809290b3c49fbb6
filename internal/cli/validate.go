package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kx0101/accesslog-replayer/internal/config"
	"github.com/kx0101/accesslog-replayer/internal/input"
	"github.com/kx0101/accesslog-replayer/internal/replay"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [LOG_TEXT]",
		Short: "Parse an access log and print its timeline without sending anything",
		Example: `  replayer validate --file access.json
  replayer validate --file access.json --shift -1d --filter-method POST`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if _, err := config.ParseShift(cfg.Shift); err != nil {
				return withCode(ExitInvalid, err)
			}

			entries, issues, err := loadEntries(cfg, args)
			if err != nil {
				return err
			}

			tl := replay.BuildTimeline(entries, cfg.ShiftDuration())
			printTimeline(cmd.OutOrStdout(), tl, issues)

			if len(issues) > 0 {
				return withCode(ExitInvalid, fmt.Errorf("%d malformed entries", len(issues)))
			}

			return nil
		},
	}

	addInputFlags(cmd)
	return cmd
}

func printTimeline(w io.Writer, tl *replay.Timeline, issues []input.Issue) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tOFFSET\tMETHOD\tURL")
	for pos, s := range tl.Items() {
		fmt.Fprintf(tw, "%d\t+%s\t%s\t%s\n", pos, s.Offset, s.Entry.Method, s.Entry.URL)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%d entries, span %s, shift %s\n", tl.Len(), tl.Duration(), tl.ShiftApplied())
	for _, issue := range issues {
		fmt.Fprintf(w, "skipped %s\n", issue)
	}
}
