package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/divyekant/subdash/internal/sources"
)

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List sources and manage their overrides in sources.yaml",
		Args:  cobra.NoArgs,
		RunE:  runSourcesList,
	}
	cmd.AddCommand(sourcesSetCmd())
	cmd.AddCommand(sourcesRmCmd())
	return cmd
}

type sourceDetail struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Enabled  bool              `json:"enabled"`
	Settings map[string]string `json:"settings,omitempty"`
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	env, closer, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	srcCfg, err := sources.LoadSourcesConfig(env.Config.SourcesFile)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	var details []sourceDetail
	for _, name := range sources.KnownSources {
		src, err := sources.NewSourceByName(name, env.Client)
		if err != nil {
			continue
		}
		d := sourceDetail{Name: name, Kind: src.Kind().String()}
		if _, err := env.Registry.Get(name); err == nil {
			d.Enabled = true
		}
		if srcCfg != nil {
			if entry, ok := srcCfg.Sources[name]; ok {
				d.Settings = map[string]string{}
				for k, v := range entry.Settings {
					d.Settings[k] = v
				}
				for k, v := range entry.ListSettings {
					d.Settings[k] = strings.Join(v, ", ")
				}
			}
		}
		details = append(details, d)
	}

	writeOutput(cmd, details, func() {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s%sSources%s (%s)\n\n", bold, cyan, reset, env.Config.SourcesFile)
		for _, d := range details {
			state := green + "enabled" + reset
			if !d.Enabled {
				state = yellow + "disabled" + reset
			}
			fmt.Fprintf(out, "  %s%-10s%s %-7s %s\n", bold, d.Name, reset, d.Kind, state)
			keys := make([]string, 0, len(d.Settings))
			for k := range d.Settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "    %s: %s\n", k, truncateText(d.Settings[k], 100))
			}
		}
	})
	return nil
}

func sourcesSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <source> key=value...",
		Short: "Set overrides for a source (enabled=false switches it off)",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSourcesSet,
	}
}

func runSourcesSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	name := args[0]
	if _, err := sources.NewSourceByName(name, nil); err != nil {
		return err
	}

	srcCfg, err := sources.LoadSourcesConfig(cfg.SourcesFile)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	if srcCfg == nil {
		srcCfg = &sources.SourcesYAML{Sources: make(map[string]sources.SourceEntry)}
	}

	entry, exists := srcCfg.Sources[name]
	if !exists {
		entry = sources.SourceEntry{ListSettings: make(map[string][]string)}
	}
	if entry.Settings == nil {
		entry.Settings = make(map[string]string)
	}

	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid key=value pair: %q", kv)
		}
		delete(entry.ListSettings, k)
		entry.Settings[k] = v
	}

	// The adapter must accept the result before it is written.
	probe, _ := sources.NewSourceByName(name, nil)
	settings := make(map[string]string, len(entry.Settings))
	for k, v := range entry.Settings {
		settings[k] = v
	}
	for k, v := range entry.ListSettings {
		settings[k] = strings.Join(v, ",")
	}
	if err := probe.Configure(sources.SourceConfig{Settings: settings}); err != nil {
		return fmt.Errorf("invalid settings for %s: %w", name, err)
	}

	srcCfg.Sources[name] = entry
	if err := sources.SaveSourcesConfig(cfg.SourcesFile, srcCfg); err != nil {
		return fmt.Errorf("save sources: %w", err)
	}

	writeOutput(cmd, map[string]string{"source": name, "status": "updated"}, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s✓%s Source %q updated in %s\n", green, reset, name, cfg.SourcesFile)
	})
	return nil
}

func sourcesRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <source>",
		Short: "Drop every override for a source",
		Args:  cobra.ExactArgs(1),
		RunE:  runSourcesRm,
	}
}

func runSourcesRm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	name := args[0]

	srcCfg, err := sources.LoadSourcesConfig(cfg.SourcesFile)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	if srcCfg == nil || len(srcCfg.Sources) == 0 {
		return fmt.Errorf("no source overrides configured")
	}
	if _, exists := srcCfg.Sources[name]; !exists {
		return fmt.Errorf("no overrides for source %q", name)
	}

	delete(srcCfg.Sources, name)
	if err := sources.SaveSourcesConfig(cfg.SourcesFile, srcCfg); err != nil {
		return fmt.Errorf("save sources: %w", err)
	}

	writeOutput(cmd, map[string]string{"source": name, "status": "removed"}, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s✓%s Overrides for %q removed\n", green, reset, name)
	})
	return nil
}
