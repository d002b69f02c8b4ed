package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "subdash",
		Short:        "subdash -- free proxy subscription aggregator and dashboard",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().Bool("json", false, "Output machine-readable JSON")
	root.PersistentFlags().BoolP("quiet", "q", false, "Suppress progress spinners, only output result")
	root.PersistentFlags().String("config", "", "Config file (default: ./subdash.yaml, then the user config dir)")

	root.AddCommand(syncCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(fetchCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(sourcesCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(configCmdGroup())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
