// Package cmd contains the atlas command-line interface.
//
// Following the pattern of kubectl, hugo and other standard Go CLI
// tools, all application logic lives here; main.go is a minimal entry
// point that calls [Execute].
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/atlasworld/atlas/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Atlas - the Archivist cataloguing service",
	Long: `Atlas runs the Archivist, a conversational cataloguing agent that
interviews users about entities they have encountered, extracts a
structured record from the conversation, and commits completed records
to the world catalogue.

Run "atlas serve" to start the HTTP API.`,
	SilenceUsage: true,
}

var verbose bool

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process-wide logger from the --verbose flag and
// installs it as the slog default.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: !isTerminal()})
	slog.SetDefault(logger)
	return logger
}

func isTerminal() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
