package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/divyekant/subdash/internal/app"
	"github.com/divyekant/subdash/internal/period"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the watermark and what the store holds",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, closer, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	st := env.Status()

	type statusData struct {
		app.Status
		StoreSize string `json:"store_size"`
	}
	data := statusData{Status: st, StoreSize: "0 B"}
	if fi, err := os.Stat(st.StorePath); err == nil {
		data.StoreSize = formatBytes(fi.Size())
	}

	writeOutput(cmd, data, func() {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s%sStatus for %s%s\n\n", bold, cyan, st.StorePath, reset)
		if st.StoreStatus != "loaded" {
			fmt.Fprintf(out, "  %sStore %s.%s Run %ssubdash sync%s to create it.\n\n", yellow, st.StoreStatus, reset, bold, reset)
		}

		wm := "(none)"
		if st.Watermark != "" {
			wm = period.Format(st.Watermark)
			if st.LastUpdate != "" {
				wm += "  (updated " + st.LastUpdate + ")"
			}
		}
		fmt.Fprintf(out, "  %sWatermark:%s   %s\n", cyan, reset, wm)
		fmt.Fprintf(out, "  %sPeriods:%s     %d\n", cyan, reset, st.Periods)
		if st.Newest != "" {
			fmt.Fprintf(out, "  %sRange:%s       %s .. %s\n", cyan, reset, period.Format(st.Oldest), period.Format(st.Newest))
		}
		fmt.Fprintf(out, "  %sStore size:%s  %s\n", cyan, reset, data.StoreSize)

		if len(st.Slots) > 0 {
			fmt.Fprintf(out, "\n  %sSlots%s\n", bold, reset)
			for _, s := range st.Slots {
				age := "never"
				if !s.FetchedAt.IsZero() {
					age = time.Since(s.FetchedAt).Round(time.Minute).String() + " ago"
				}
				fmt.Fprintf(out, "    %-10s %3d links  %s\n", s.Name, s.Links, age)
			}
		}
	})
	return nil
}
