package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/divyekant/subdash/internal/publish"
)

func renderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Republish the dashboard from the stored data without fetching",
		Args:  cobra.NoArgs,
		RunE:  runRender,
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	env, closer, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	res, err := env.Render(cmd.Context())
	if err != nil {
		return err
	}

	page := filepath.Join(env.Config.WebDir, publish.IndexFile)
	writeOutput(cmd, map[string]any{
		"page":         page,
		"entries":      len(res.Doc),
		"store_status": res.Status.String(),
	}, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s✓%s Rendered %d entries to %s (store %s)\n",
			green, reset, len(res.Doc), page, res.Status)
	})
	return nil
}
