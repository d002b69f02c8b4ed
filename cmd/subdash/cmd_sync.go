package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/divyekant/subdash/internal/pipeline"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch new periods and refresh every slot, then publish",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
	cmd.Flags().Bool("all", false, "Consider every discovered period, not only those above the watermark")
	cmd.Flags().Bool("force", false, "Refetch and overwrite periods already stored")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	env, closer, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	all, _ := cmd.Flags().GetBool("all")
	force, _ := cmd.Flags().GetBool("force")
	mode := pipeline.Incremental
	switch {
	case force:
		mode = pipeline.Force
	case all:
		mode = pipeline.All
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	startTime := time.Now()
	quiet, _ := cmd.Flags().GetBool("quiet")
	jsonMode, _ := cmd.Flags().GetBool("json")
	if !quiet && !jsonMode {
		fmt.Fprintf(cmd.OutOrStdout(), "%s%ssubdash sync%s (mode: %s)\n", bold, cyan, reset, mode)
		fmt.Fprintf(cmd.OutOrStdout(), "  store: %s\n\n", env.Store.Path())
	}

	result, err := env.Sync(ctx, mode, progressPrinter(cmd))
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	printRunSummary(cmd, result, time.Since(startTime))
	return nil
}

type runSummary struct {
	Mode      string   `json:"mode"`
	Strategy  string   `json:"strategy,omitempty"`
	Selected  int      `json:"selected"`
	Merged    []string `json:"merged"`
	Skipped   []string `json:"skipped"`
	Failed    []string `json:"failed"`
	Slots     []string `json:"slots"`
	Watermark string   `json:"watermark,omitempty"`
	Published bool     `json:"published"`
	Errors    []string `json:"errors,omitempty"`
	Elapsed   string   `json:"elapsed"`
}

func summarize(res *pipeline.Result, elapsed time.Duration) runSummary {
	s := runSummary{
		Mode:     res.Mode.String(),
		Strategy: res.Strategy,
		Selected: len(res.Selected),
		Merged:   []string{},
		Skipped:  []string{},
		Failed:   []string{},
		Slots:    []string{},
		Elapsed:  elapsed.Round(time.Millisecond).String(),
	}
	if p := res.Periods; p != nil {
		s.Merged = append(s.Merged, p.Merged...)
		s.Skipped = append(s.Skipped, p.Skipped...)
		s.Failed = append(s.Failed, p.Failed...)
		s.Watermark = p.Watermark
		s.Published = p.Published
	}
	if sl := res.Slots; sl != nil {
		s.Slots = append(s.Slots, sl.Merged...)
		s.Failed = append(s.Failed, sl.Failed...)
		s.Published = s.Published || sl.Published
	}
	for _, e := range res.Errors {
		s.Errors = append(s.Errors, e.Error())
	}
	return s
}

func printRunSummary(cmd *cobra.Command, res *pipeline.Result, elapsed time.Duration) {
	s := summarize(res, elapsed)
	writeOutput(cmd, s, func() {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s%s=== Summary ===%s\n", bold, green, reset)
		if s.Strategy != "" {
			fmt.Fprintf(out, "  ledger:     %s\n", s.Strategy)
		}
		fmt.Fprintf(out, "  selected:   %d\n", s.Selected)
		fmt.Fprintf(out, "  merged:     %d\n", len(s.Merged))
		fmt.Fprintf(out, "  skipped:    %d\n", len(s.Skipped))
		fmt.Fprintf(out, "  slots:      %d\n", len(s.Slots))
		fmt.Fprintf(out, "  failed:     %d\n", len(s.Failed))
		if s.Watermark != "" {
			fmt.Fprintf(out, "  watermark:  %s\n", s.Watermark)
		}
		fmt.Fprintf(out, "  published:  %v\n", s.Published)
		fmt.Fprintf(out, "  elapsed:    %s\n", s.Elapsed)

		if len(s.Errors) > 0 {
			fmt.Fprintf(out, "\n%s%sWarnings:%s\n", bold, yellow, reset)
			for i, e := range s.Errors {
				if i >= 10 {
					fmt.Fprintf(out, "  ... and %d more\n", len(s.Errors)-10)
					break
				}
				fmt.Fprintf(out, "  - %s\n", truncateText(e, 160))
			}
		}
	})
}
