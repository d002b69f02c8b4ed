package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/divyekant/subdash/internal/config"
)

func configCmdGroup() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and update subdash configuration",
	}
	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Show effective configuration values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigGet,
	}
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	values := cfg.Values()

	if len(args) == 1 {
		key := args[0]
		val, ok := values[key]
		if !ok {
			return fmt.Errorf("unknown config key: %q", key)
		}
		writeOutput(cmd, map[string]string{key: val}, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", key, val)
		})
		return nil
	}

	writeOutput(cmd, values, func() {
		out := cmd.OutOrStdout()
		file := cfg.File
		if file == "" {
			file = "(defaults and environment only)"
		}
		fmt.Fprintf(out, "%s%sConfiguration%s %s\n\n", bold, cyan, reset, file)
		for _, k := range config.Keys() {
			v := values[k]
			if v == "" {
				v = "(not set)"
			}
			fmt.Fprintf(out, "  %-24s %s\n", k, v)
		}
	})
	return nil
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value in the config file",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		path = cfg.File
	}
	if path == "" {
		path = config.DefaultPath()
	}

	if err := config.Set(path, key, value); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	writeOutput(cmd, map[string]string{key: value, "file": path, "status": "saved"}, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s✓%s Set %s = %s in %s\n", green, reset, key, value, path)
	})
	return nil
}
