package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <source>...",
		Short: "Run only the named sources",
		Long: "Refresh the named latest-snapshot slots. Naming the dated source runs an\n" +
			"incremental period sync for it alone.",
		Args: cobra.MinimumNArgs(1),
		RunE: runFetch,
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	env, closer, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	startTime := time.Now()
	result, err := env.Refresh(ctx, args...)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	printRunSummary(cmd, result, time.Since(startTime))
	return nil
}
