package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/divyekant/subdash/internal/app"
	"github.com/divyekant/subdash/internal/config"
	"github.com/divyekant/subdash/internal/logging"
)

// ANSI escape codes for colored output.
const (
	bold   = "\033[1m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	red    = "\033[31m"
	reset  = "\033[0m"
)

// spinner frames for progress display.
var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// truncateText shortens a string to the given max length, appending "..." if
// truncation occurs. It also replaces newlines with spaces for single-line display.
func truncateText(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// formatBytes returns a human-readable byte size string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// writeOutput renders data as JSON (if --json flag is set) or invokes
// the human-readable callback.
func writeOutput(cmd *cobra.Command, data any, humanFn func()) {
	jsonMode, _ := cmd.Flags().GetBool("json")
	if jsonMode {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.Encode(data)
		return
	}
	humanFn()
}

// loadConfig reads the configuration named by --config, if any.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// loadEnv loads the configuration, installs the logger and wires the run
// context. The returned closer flushes the log file.
func loadEnv(cmd *cobra.Command) (*app.Env, io.Closer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = "warn"
	}
	logger, closer, err := logging.Setup(logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}

	env, err := app.New(cfg, logger)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return env, closer, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// progressPrinter draws a one-line spinner per phase unless quiet or JSON
// output is requested.
func progressPrinter(cmd *cobra.Command) app.ProgressFn {
	quiet, _ := cmd.Flags().GetBool("quiet")
	jsonMode, _ := cmd.Flags().GetBool("json")
	if quiet || jsonMode {
		return nil
	}
	out := cmd.OutOrStdout()
	spinIdx := 0
	return func(phase string, done, total int) {
		frame := spinnerFrames[spinIdx%len(spinnerFrames)]
		spinIdx++
		if done >= total {
			fmt.Fprintf(out, "\r%s%s%s %s [%d/%d]%s\n", green, "✓", reset, phase, done, total, reset)
		} else {
			fmt.Fprintf(out, "\r%s%s%s %s [%d/%d]", cyan, frame, reset, phase, done, total)
		}
	}
}
