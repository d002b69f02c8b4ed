package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/divyekant/subdash/internal/scheduler"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run every job once, then keep them on their schedules",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	env, closer, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	sched := scheduler.New(env.Logger)
	for _, job := range env.Jobs() {
		sched.Add(job)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s%ssubdash watch%s\n", bold, cyan, reset)
	for _, job := range env.Jobs() {
		fmt.Fprintf(out, "  %-10s %s\n", job.Name, job.Schedule)
	}
	fmt.Fprintln(out)

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return sched.Run(ctx)
}
