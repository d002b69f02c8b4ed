package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/divyekant/subdash/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the published dashboard and the JSON API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 0, "Port to listen on (default: server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	env, closer, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = env.Config.Server.Port
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	srv := server.New(env, env.Config.WebDir, env.Logger)
	fmt.Fprintf(cmd.OutOrStdout(), "%s%ssubdash server%s starting on http://localhost:%d\n", bold, cyan, reset, port)
	return srv.Start(ctx, fmt.Sprintf(":%d", port))
}
